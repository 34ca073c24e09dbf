package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/coherence-hub/internal/model"
)

// Table names.
const (
	TruthLaneTable     = "truth_lane"
	JournalLaneTable   = "journal_lane"
	CoherenceLogsTable = "coherence_logs"
)

// LaneTable returns the table backing lane l.
func LaneTable(l model.Lane) (string, error) {
	switch l {
	case model.LaneTruth:
		return TruthLaneTable, nil
	case model.LaneJournal:
		return JournalLaneTable, nil
	}
	return "", fmt.Errorf("unknown lane %q", l)
}

const laneDDL = `
CREATE TABLE IF NOT EXISTS %s (
	id               BIGSERIAL PRIMARY KEY,
	request_id       TEXT NOT NULL,
	sequence_trace   TEXT NOT NULL,
	category_tag     TEXT NOT NULL,
	coherence_score  DOUBLE PRECISION NOT NULL,
	lane             TEXT NOT NULL CHECK (lane = '%s'),
	status           TEXT NOT NULL,
	provider         TEXT NOT NULL,
	reasoning        TEXT NOT NULL,
	provenance_score DOUBLE PRECISION,
	checkpoint       BOOLEAN NOT NULL DEFAULT FALSE,
	decided_at       BIGINT NOT NULL
)`

const coherenceLogsDDL = `
CREATE TABLE IF NOT EXISTS coherence_logs (
	id                  BIGSERIAL PRIMARY KEY,
	instance_id         TEXT NOT NULL,
	aggregate_coherence DOUBLE PRECISION NOT NULL,
	periodic_phase      DOUBLE PRECISION NOT NULL,
	active_clients      INTEGER NOT NULL,
	stability           TEXT NOT NULL,
	idle                BOOLEAN NOT NULL,
	logged_at           BIGINT NOT NULL
)`

// Schema returns the DDL statements for every table, in creation order.
func Schema() []string {
	return []string{
		fmt.Sprintf(laneDDL, TruthLaneTable, model.LaneTruth),
		fmt.Sprintf(laneDDL, JournalLaneTable, model.LaneJournal),
		coherenceLogsDDL,
	}
}

// Execer executes a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates any missing tables.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range Schema() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
