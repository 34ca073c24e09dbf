package lane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/coherence-hub/internal/model"
	"github.com/rickgao/coherence-hub/internal/policy"
)

// ErrLaneMismatch is returned when a record is appended to the wrong store.
var ErrLaneMismatch = errors.New("record addressed to a different lane")

// Record is one persisted routing decision.
type Record struct {
	RequestID       string     `json:"requestId"`
	SequenceTrace   string     `json:"sequenceTrace"`
	CategoryTag     string     `json:"categoryTag"`
	CoherenceScore  float64    `json:"coherenceScore"`
	Lane            model.Lane `json:"lane"`
	Status          string     `json:"status"`
	Provider        string     `json:"provider"`
	Reasoning       string     `json:"reasoning"`
	ProvenanceScore *float64   `json:"provenanceScore,omitempty"`
	Checkpoint      bool       `json:"checkpoint,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// FromDecision builds the lane record for d.
func FromDecision(d policy.Decision) Record {
	return Record{
		RequestID:       d.RequestID,
		SequenceTrace:   d.SequenceTrace,
		CategoryTag:     string(d.Category),
		CoherenceScore:  d.CoherenceScore,
		Lane:            d.RecordLane(),
		Status:          string(d.Status),
		Provider:        d.Provider,
		Reasoning:       d.Reasoning,
		ProvenanceScore: d.ProvenanceScore,
		Checkpoint:      d.Checkpoint,
		Timestamp:       d.DecidedAt,
	}
}

// Store is an append-only destination for one lane.
type Store interface {
	Lane() model.Lane
	Append(ctx context.Context, records []Record) error
	Close() error
}

func checkLane(want model.Lane, records []Record) error {
	for _, r := range records {
		if r.Lane != want {
			return fmt.Errorf("%w: %s record %s in %s store", ErrLaneMismatch, r.Lane, r.RequestID, want)
		}
	}
	return nil
}
