package lane

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/coherence-hub/internal/database"
	"github.com/rickgao/coherence-hub/internal/model"
)

// Batcher sends a pgx batch. *pgxpool.Pool satisfies it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PGStore appends records to the lane's own table.
type PGStore struct {
	lane  model.Lane
	table string
	db    Batcher
}

// NewPGStore creates a store writing to the table for lane l.
func NewPGStore(db Batcher, l model.Lane) (*PGStore, error) {
	table, err := database.LaneTable(l)
	if err != nil {
		return nil, err
	}
	return &PGStore{lane: l, table: table, db: db}, nil
}

// Lane returns the lane this store accepts.
func (s *PGStore) Lane() model.Lane { return s.lane }

// Append inserts records using a single pgx.Batch.
func (s *PGStore) Append(ctx context.Context, records []Record) error {
	if err := checkLane(s.lane, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (request_id, sequence_trace, category_tag, coherence_score,
			lane, status, provider, reasoning, provenance_score, checkpoint, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query,
			r.RequestID, r.SequenceTrace, r.CategoryTag, r.CoherenceScore,
			string(r.Lane), r.Status, r.Provider, r.Reasoning, r.ProvenanceScore,
			r.Checkpoint, r.Timestamp.UnixMicro(),
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert into %s: %w", s.table, err)
		}
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PGStore) Close() error { return nil }
