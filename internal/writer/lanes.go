package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/coherence-hub/internal/buffer"
	"github.com/rickgao/coherence-hub/internal/lane"
	"github.com/rickgao/coherence-hub/internal/metrics"
	"github.com/rickgao/coherence-hub/internal/model"
	"github.com/rickgao/coherence-hub/internal/policy"
)

// Lanes owns the truth and journal queues and their writers. It implements
// policy.Recorder.
type Lanes struct {
	queues  map[model.Lane]*buffer.Queue[lane.Record]
	writers map[model.Lane]*LaneWriter
	stores  []lane.Store
	logger  *slog.Logger
}

var _ policy.Recorder = (*Lanes)(nil)

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Queued  int   `json:"queued"`
	Dropped int64 `json:"dropped"`
	Inserts int64 `json:"inserts"`
	Errors  int64 `json:"errors"`
	Flushes int64 `json:"flushes"`
}

// NewLanes wires one queue and writer per store. Each store must serve the
// lane it is passed for.
func NewLanes(cfg WriterConfig, truth, journal lane.Store, logger *slog.Logger) (*Lanes, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if truth.Lane() != model.LaneTruth {
		return nil, fmt.Errorf("truth store serves %s lane", truth.Lane())
	}
	if journal.Lane() != model.LaneJournal {
		return nil, fmt.Errorf("journal store serves %s lane", journal.Lane())
	}

	l := &Lanes{
		queues:  make(map[model.Lane]*buffer.Queue[lane.Record], 2),
		writers: make(map[model.Lane]*LaneWriter, 2),
		stores:  []lane.Store{truth, journal},
		logger:  logger.With("component", "lanes"),
	}
	for _, s := range l.stores {
		initial := cfg.BatchSize
		if initial < 1 {
			initial = 1
		}
		q := buffer.NewQueue[lane.Record](initial, cfg.BufferSize)
		l.queues[s.Lane()] = q
		l.writers[s.Lane()] = NewLaneWriter(cfg, q, s, logger)
	}
	return l, nil
}

// Record enqueues the lane record for d. It never blocks.
func (l *Lanes) Record(d policy.Decision) error {
	rec := lane.FromDecision(d)
	q, ok := l.queues[rec.Lane]
	if !ok {
		return fmt.Errorf("no queue for %s lane", rec.Lane)
	}
	if err := q.Send(rec); err != nil {
		metrics.LaneFailures.WithLabelValues(string(rec.Lane)).Inc()
		return fmt.Errorf("enqueue %s record: %w", rec.Lane, err)
	}
	return nil
}

// Start starts both writers.
func (l *Lanes) Start(ctx context.Context) error {
	for _, s := range l.stores {
		if err := l.writers[s.Lane()].Start(ctx); err != nil {
			return fmt.Errorf("start %s writer: %w", s.Lane(), err)
		}
	}
	return nil
}

// Stop refuses new records, flushes what is queued and closes the stores.
func (l *Lanes) Stop(ctx context.Context) error {
	for _, q := range l.queues {
		q.Close()
	}

	var errs []error
	for _, s := range l.stores {
		if err := l.writers[s.Lane()].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s writer: %w", s.Lane(), err))
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s store: %w", s.Lane(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns per-lane queue and writer counters.
func (l *Lanes) Stats() map[model.Lane]LaneStats {
	out := make(map[model.Lane]LaneStats, len(l.stores))
	for _, s := range l.stores {
		qs := l.queues[s.Lane()].Stats()
		ws := l.writers[s.Lane()].Stats()
		out[s.Lane()] = LaneStats{
			Queued:  qs.Count,
			Dropped: qs.Dropped,
			Inserts: ws.Inserts,
			Errors:  ws.Errors,
			Flushes: ws.Flushes,
		}
	}
	return out
}
