package hub

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/coherence-hub/internal/field"
	"github.com/rickgao/coherence-hub/internal/metrics"
	"github.com/rickgao/coherence-hub/internal/protocol"
)

// Run drives the phase, aggregate and sweep tickers until ctx is cancelled,
// then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("hub started",
		"phase_interval", h.cfg.PhaseInterval,
		"aggregate_interval", h.cfg.AggregateInterval,
		"sweep_interval", h.cfg.SweepInterval,
		"heartbeat_timeout", h.cfg.HeartbeatTimeout,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return every(ctx, h.cfg.PhaseInterval, h.PhaseTick) })
	g.Go(func() error { return every(ctx, h.cfg.AggregateInterval, h.AggregateTick) })
	g.Go(func() error {
		return every(ctx, h.cfg.SweepInterval, func() { h.Sweep() })
	})
	err := g.Wait()

	h.broadcaster.CloseAll()
	h.logger.Info("hub stopped")
	return err
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// PhaseTick broadcasts the current periodic signal to periodic_signal
// subscribers.
func (h *Hub) PhaseTick() {
	b := field.Tick(h.clock.Now(), h.cfg.PhasePeriod)
	if _, err := h.broadcaster.Broadcast(protocol.ChannelPeriodicSignal, protocol.NewBreathingUpdate(b)); err != nil {
		h.logger.Error("phase broadcast failed", "error", err)
	}
}

// AggregateTick recomputes the field state and broadcasts it.
func (h *Hub) AggregateTick() {
	h.mu.Lock()
	defer h.mu.Unlock()

	fs := h.recomputeLocked()
	if _, err := h.broadcaster.Broadcast(protocol.ChannelFieldState, protocol.NewFieldStateUpdate(fs)); err != nil {
		h.logger.Error("field state broadcast failed", "error", err)
	}
	if _, err := h.broadcaster.Broadcast(protocol.ChannelFieldCoherence, protocol.NewFieldCoherenceUpdate(fs)); err != nil {
		h.logger.Error("field coherence broadcast failed", "error", err)
	}
}

// Sweep evicts every client whose last heartbeat is older than the heartbeat
// timeout, closes its connection and recomputes the field state once if
// anything was evicted. It returns the evicted IDs. Connections are closed
// after h.mu is released.
func (h *Hub) Sweep() []string {
	evicted, sinks := h.evictStale()
	closeSinks(sinks...)
	return evicted
}

func (h *Hub) evictStale() ([]string, []Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	stale := h.registry.Stale(now, h.cfg.HeartbeatTimeout)

	var (
		evicted []string
		sinks   []Sink
	)
	for _, id := range stale {
		entry, ok := h.registry.Get(id)
		if !ok || !h.registry.Unregister(id) {
			continue
		}
		if s := h.broadcaster.Detach(id); s != nil {
			sinks = append(sinks, s)
		}
		metrics.Evictions.Inc()
		h.logger.Info("evicted stale client",
			"client_id", id,
			"silent_for", now.Sub(entry.LastHeartbeat),
		)
		evicted = append(evicted, id)
	}

	if len(evicted) > 0 {
		h.recomputeLocked()
	}
	return evicted, sinks
}

// closeSinks closes sinks concurrently; each close may wait on a peer that
// stopped reading. Nil sinks are skipped.
func closeSinks(sinks ...Sink) {
	var wg sync.WaitGroup
	for _, s := range sinks {
		if s == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
}
