package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/coherence-hub/internal/model"
)

type recordingExecer struct {
	stmts []string
	fail  int // fail on this 1-based call; 0 never fails
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	if r.fail == len(r.stmts) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.CommandTag{}, nil
}

func TestLaneTable(t *testing.T) {
	truth, err := LaneTable(model.LaneTruth)
	if err != nil || truth != TruthLaneTable {
		t.Errorf("LaneTable(truth) = %q, %v, want %q", truth, err, TruthLaneTable)
	}
	journal, err := LaneTable(model.LaneJournal)
	if err != nil || journal != JournalLaneTable {
		t.Errorf("LaneTable(journal) = %q, %v, want %q", journal, err, JournalLaneTable)
	}
	if truth == journal {
		t.Error("lanes must map to distinct tables")
	}
	if _, err := LaneTable("scratch"); err == nil {
		t.Error("LaneTable(scratch) should fail")
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &recordingExecer{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.stmts) != 3 {
		t.Fatalf("executed %d statements, want 3", len(db.stmts))
	}
	for i, table := range []string{TruthLaneTable, JournalLaneTable, CoherenceLogsTable} {
		if !strings.Contains(db.stmts[i], "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("statement %d does not create %s", i, table)
		}
	}
	if !strings.Contains(db.stmts[0], "CHECK (lane = 'truth')") {
		t.Error("truth_lane must reject non-truth records")
	}
}

func TestEnsureSchema_Error(t *testing.T) {
	db := &recordingExecer{fail: 2}
	if err := EnsureSchema(context.Background(), db); err == nil {
		t.Fatal("EnsureSchema() should fail")
	}
	if len(db.stmts) != 2 {
		t.Errorf("executed %d statements, want 2 (stop at first failure)", len(db.stmts))
	}
}
