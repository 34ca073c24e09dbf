package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/coherence-hub/internal/buffer"
	"github.com/rickgao/coherence-hub/internal/lane"
	"github.com/rickgao/coherence-hub/internal/metrics"
)

// LaneWriter consumes records from one lane queue and appends them to that
// lane's store.
type LaneWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *buffer.Queue[lane.Record]
	store lane.Store

	// Batching
	batch       []lane.Record
	batchMu     sync.Mutex
	flushMu     sync.Mutex // keeps batches in queue order
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// appendCtx outlives cancel so a flush already under way when Stop is
	// called still reaches the store.
	appendCtx context.Context

	metrics WriterMetrics
}

// NewLaneWriter creates a writer draining input into store.
func NewLaneWriter(
	cfg WriterConfig,
	input *buffer.Queue[lane.Record],
	store lane.Store,
	logger *slog.Logger,
) *LaneWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LaneWriter{
		cfg:    cfg,
		input:  input,
		store:  store,
		logger: logger.With("lane", store.Lane()),
		batch:  make([]lane.Record, 0, cfg.BatchSize),
	}
}

// Start begins consuming records.
func (w *LaneWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.appendCtx = context.WithoutCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("lane writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains whatever is still queued and flushes it before returning.
func (w *LaneWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping lane writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("lane writer stop timed out")
		return ctx.Err()
	}

	for _, rec := range w.input.DrainTo(0) {
		w.add(rec)
	}
	w.flush(ctx)

	w.logger.Info("lane writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *LaneWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *LaneWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			rec, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			if w.add(rec) {
				w.flush(w.appendCtx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *LaneWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			if w.ctx.Err() != nil {
				return
			}
			w.flush(w.appendCtx)
		}
	}
}

// add appends rec to the batch and reports whether the batch is full.
func (w *LaneWriter) add(rec lane.Record) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, rec)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the store.
func (w *LaneWriter) flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]lane.Record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	laneName := string(w.store.Lane())

	if err := w.store.Append(ctx, batch); err != nil {
		w.logger.Error("lane append failed", "error", err, "count", len(batch))
		metrics.LaneFailures.WithLabelValues(laneName).Add(float64(len(batch)))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	metrics.LaneRecords.WithLabelValues(laneName).Add(float64(len(batch)))
	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed lane records",
		"count", len(batch),
		"duration", time.Since(start),
	)
}
