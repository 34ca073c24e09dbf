package fieldlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coherence-hub/internal/clock"
	"github.com/rickgao/coherence-hub/internal/model"
)

// FieldSource provides the current field state.
type FieldSource interface {
	FieldState() model.FieldState
}

// Config holds snapshotter configuration.
type Config struct {
	InstanceID string
	Interval   time.Duration // default: 60s
	Timeout    time.Duration // per-write timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 60 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Stats holds snapshotter counters.
type Stats struct {
	Written int64
	Errors  int64
}

// Snapshotter periodically writes the field state to a Sink.
type Snapshotter struct {
	cfg    Config
	source FieldSource
	sink   Sink
	clock  clock.Clock
	logger *slog.Logger

	written atomic.Int64
	errors  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Snapshotter.
func New(cfg Config, source FieldSource, sink Sink, clk clock.Clock, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Snapshotter{
		cfg:    cfg,
		source: source,
		sink:   sink,
		clock:  clk,
		logger: logger.With("component", "fieldlog"),
	}
}

// Start begins the snapshot loop. One snapshot is written immediately.
func (s *Snapshotter) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("field log started", "interval", s.cfg.Interval)
	return nil
}

// Stop halts the loop and closes the sink.
func (s *Snapshotter) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := s.sink.Close()
	s.logger.Info("field log stopped",
		"written", s.written.Load(),
		"errors", s.errors.Load(),
	)
	return err
}

// Stats returns the counters.
func (s *Snapshotter) Stats() Stats {
	return Stats{Written: s.written.Load(), Errors: s.errors.Load()}
}

func (s *Snapshotter) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.snapshot(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.snapshot(s.ctx)
		}
	}
}

// snapshot writes the current field state once.
func (s *Snapshotter) snapshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	e := EntryFrom(s.cfg.InstanceID, s.source.FieldState(), s.clock.Now())
	if err := s.sink.Write(ctx, e); err != nil {
		s.errors.Add(1)
		s.logger.Warn("failed to write field snapshot", "error", err)
		return
	}
	s.written.Add(1)
	s.logger.Debug("field snapshot written",
		"aggregate", e.AggregateCoherence,
		"clients", e.ActiveClients,
		"stability", e.Stability,
	)
}
