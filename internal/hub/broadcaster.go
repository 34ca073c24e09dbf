package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/coherence-hub/internal/metrics"
)

// ErrNotAttached is returned when sending to a client with no attached sink.
var ErrNotAttached = errors.New("client not attached")

// Sink is the outbound side of one connection. Enqueue must not block.
type Sink interface {
	Enqueue(frame []byte) error
	Close()
}

// Subscriptions is the subscription state the broadcaster fans out over.
type Subscriptions interface {
	Subscribe(id, channel string) error
	Unsubscribe(id, channel string) error
	Subscribers(channel string) []string
}

// Broadcaster delivers frames to the sinks of subscribed clients. Delivery
// is at-most-once: a failed enqueue is logged and the frame is dropped for
// that client only.
type Broadcaster struct {
	subs   Subscriptions
	logger *slog.Logger

	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewBroadcaster creates a broadcaster over subs.
func NewBroadcaster(subs Subscriptions, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   subs,
		logger: logger.With("component", "broadcaster"),
		sinks:  make(map[string]Sink),
	}
}

// Attach registers the sink for client id.
func (b *Broadcaster) Attach(id string, s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[id] = s
}

// Detach removes the sink for id and returns it, or nil if none was
// attached. The caller closes it; closing may block on the network.
func (b *Broadcaster) Detach(id string) Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sinks[id]
	delete(b.sinks, id)
	return s
}

// Attached returns the number of attached sinks.
func (b *Broadcaster) Attached() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Subscribe adds channel to id's subscriptions. Repeating it is a no-op.
func (b *Broadcaster) Subscribe(id, channel string) error {
	return b.subs.Subscribe(id, channel)
}

// Unsubscribe removes channel from id's subscriptions. Repeating it is a
// no-op.
func (b *Broadcaster) Unsubscribe(id, channel string) error {
	return b.subs.Unsubscribe(id, channel)
}

// Broadcast marshals frame once and enqueues it to every attached subscriber
// of channel. It returns the number of sinks that accepted the frame.
func (b *Broadcaster) Broadcast(channel string, frame any) (int, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("marshal %s frame: %w", channel, err)
	}

	ids := b.subs.Subscribers(channel)
	if len(ids) == 0 {
		return 0, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, id := range ids {
		s, ok := b.sinks[id]
		if !ok {
			continue
		}
		if err := s.Enqueue(data); err != nil {
			metrics.FramesDropped.WithLabelValues(channel).Inc()
			b.logger.Warn("dropping frame for client",
				"client_id", id,
				"channel", channel,
				"error", err,
			)
			continue
		}
		delivered++
	}
	metrics.FramesDelivered.WithLabelValues(channel).Add(float64(delivered))
	return delivered, nil
}

// SendTo enqueues frame to a single client regardless of subscriptions.
func (b *Broadcaster) SendTo(id string, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	b.mu.RLock()
	s, ok := b.sinks[id]
	b.mu.RUnlock()
	if !ok {
		return ErrNotAttached
	}
	return s.Enqueue(data)
}

// CloseAll detaches and closes every sink.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	sinks := b.sinks
	b.sinks = make(map[string]Sink)
	b.mu.Unlock()

	for _, s := range sinks {
		s.Close()
	}
}
