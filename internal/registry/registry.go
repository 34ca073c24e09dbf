// Package registry tracks the clients currently connected to the hub.
//
// Clients are referenced by opaque ID only; callers receive value copies of
// entries and mutate them exclusively through Registry methods.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownClient is returned when an operation names an unregistered ID.
var ErrUnknownClient = errors.New("unknown client")

// ClientEntry is a snapshot of one live connection.
type ClientEntry struct {
	ID             string
	CoherenceScore float64
	LastHeartbeat  time.Time
	ConnectedAt    time.Time
	Subscriptions  []string // sorted
	BreathPhase    float64
	BreathSyncedAt time.Time
	HasBreath      bool
}

// Subscribed reports whether the entry is subscribed to channel.
func (e ClientEntry) Subscribed(channel string) bool {
	i := sort.SearchStrings(e.Subscriptions, channel)
	return i < len(e.Subscriptions) && e.Subscriptions[i] == channel
}

// Config holds registry defaults applied at connect time.
type Config struct {
	DefaultCoherence float64
	DefaultChannels  []string
}

// DefaultConfig returns the standard connect-time defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCoherence: 0.75,
		DefaultChannels:  []string{"field_state", "periodic_signal"},
	}
}

type entry struct {
	id            string
	seq           uint64 // connect order
	score         float64
	lastHeartbeat time.Time
	connectedAt   time.Time
	subs          map[string]struct{}
	breathPhase   float64
	breathAt      time.Time
	hasBreath     bool
}

func (e *entry) snapshot() ClientEntry {
	subs := make([]string, 0, len(e.subs))
	for ch := range e.subs {
		subs = append(subs, ch)
	}
	sort.Strings(subs)
	return ClientEntry{
		ID:             e.id,
		CoherenceScore: e.score,
		LastHeartbeat:  e.lastHeartbeat,
		ConnectedAt:    e.connectedAt,
		Subscriptions:  subs,
		BreathPhase:    e.breathPhase,
		BreathSyncedAt: e.breathAt,
		HasBreath:      e.hasBreath,
	}
}

// Registry is the thread-safe set of connected clients.
type Registry struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// Register inserts a new client with default score and subscriptions.
func (r *Registry) Register(now time.Time) ClientEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for _, taken := r.entries[id]; taken; _, taken = r.entries[id] {
		id = uuid.NewString()
	}

	subs := make(map[string]struct{}, len(r.cfg.DefaultChannels))
	for _, ch := range r.cfg.DefaultChannels {
		subs[ch] = struct{}{}
	}

	r.nextSeq++
	e := &entry{
		id:            id,
		seq:           r.nextSeq,
		score:         r.cfg.DefaultCoherence,
		lastHeartbeat: now,
		connectedAt:   now,
		subs:          subs,
	}
	r.entries[id] = e
	return e.snapshot()
}

// Unregister removes a client. It reports whether the client was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Get returns a snapshot of a client.
func (r *Registry) Get(id string) (ClientEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return ClientEntry{}, false
	}
	return e.snapshot(), true
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Touch records liveness for a client.
func (r *Registry) Touch(id string, now time.Time) error {
	return r.update(id, func(e *entry) {
		e.lastHeartbeat = now
	})
}

// SetScore records a self-reported coherence score; it also counts as liveness.
func (r *Registry) SetScore(id string, score float64, now time.Time) error {
	return r.update(id, func(e *entry) {
		e.score = score
		e.lastHeartbeat = now
	})
}

// SetBreathPhase records the client's breathing phase as reported at now.
func (r *Registry) SetBreathPhase(id string, phase float64, now time.Time) error {
	return r.update(id, func(e *entry) {
		e.breathPhase = phase
		e.breathAt = now
		e.hasBreath = true
		e.lastHeartbeat = now
	})
}

// Subscribe adds channel to the client's subscriptions. Idempotent.
func (r *Registry) Subscribe(id, channel string) error {
	return r.update(id, func(e *entry) {
		e.subs[channel] = struct{}{}
	})
}

// Unsubscribe removes channel from the client's subscriptions. Idempotent.
func (r *Registry) Unsubscribe(id, channel string) error {
	return r.update(id, func(e *entry) {
		delete(e.subs, channel)
	})
}

// Subscribers returns the IDs subscribed to channel, in connect order.
func (r *Registry) Subscribers(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if _, ok := e.subs[channel]; ok {
			matched = append(matched, e)
		}
	}
	sortBySeq(matched)

	ids := make([]string, len(matched))
	for i, e := range matched {
		ids[i] = e.id
	}
	return ids
}

// Scores returns every live coherence score, in connect order.
func (r *Registry) Scores() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.orderedLocked()
	scores := make([]float64, len(ordered))
	for i, e := range ordered {
		scores[i] = e.score
	}
	return scores
}

// Snapshot returns copies of all entries, in connect order.
func (r *Registry) Snapshot() []ClientEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.orderedLocked()
	out := make([]ClientEntry, len(ordered))
	for i, e := range ordered {
		out[i] = e.snapshot()
	}
	return out
}

// Stale returns the IDs whose last heartbeat is more than timeout before now.
func (r *Registry) Stale(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, e := range r.orderedLocked() {
		if now.Sub(e.lastHeartbeat) > timeout {
			ids = append(ids, e.id)
		}
	}
	return ids
}

func (r *Registry) update(id string, fn func(*entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrUnknownClient
	}
	fn(e)
	return nil
}

// orderedLocked returns entries sorted by connect order. Caller holds the lock.
func (r *Registry) orderedLocked() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortBySeq(out)
	return out
}

func sortBySeq(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}
