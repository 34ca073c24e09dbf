package policy

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// sessionState is what the tracker remembers about one sequence trace.
type sessionState struct {
	verifyProvenance *float64
	haltedAt         int // 0 when the sequence has not halted
	maxStep          int
}

// sessionTracker is a bounded map of sequence traces to their recent verify
// provenance and iterate progress. The oldest traces are evicted first.
type sessionTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, sessionState]
}

func newSessionTracker(capacity int) (*sessionTracker, error) {
	cache, err := lru.New[string, sessionState](capacity)
	if err != nil {
		return nil, err
	}
	return &sessionTracker{cache: cache}, nil
}

func (s *sessionTracker) provenance(trace string) (float64, bool) {
	if s == nil || trace == "" {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache.Get(trace)
	if !ok || st.verifyProvenance == nil {
		return 0, false
	}
	return *st.verifyProvenance, true
}

func (s *sessionTracker) recordProvenance(trace string, score float64) {
	if s == nil || trace == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _ := s.cache.Get(trace)
	st.verifyProvenance = &score
	s.cache.Add(trace, st)
}

// halted reports whether step is at or beyond a recorded halt for trace.
func (s *sessionTracker) halted(trace string, step int) bool {
	if s == nil || trace == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache.Get(trace)
	return ok && st.haltedAt > 0 && step >= st.haltedAt
}

func (s *sessionTracker) recordStep(trace string, step int, halted bool) {
	if s == nil || trace == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _ := s.cache.Get(trace)
	if step > st.maxStep {
		st.maxStep = step
	}
	if halted && (st.haltedAt == 0 || step < st.haltedAt) {
		st.haltedAt = step
	}
	s.cache.Add(trace, st)
}

func (s *sessionTracker) len() int {
	if s == nil {
		return 0
	}
	return s.cache.Len()
}
