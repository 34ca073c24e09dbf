package field

import (
	"math"
	"time"
)

// DefaultPeriod is the length of one periodic signal cycle.
const DefaultPeriod = 3120 * time.Millisecond

// Phase returns the periodic phase in [0, 2π) for wall-clock time t.
// It is a pure function of t: every observer gets the same value.
func Phase(t time.Time, period time.Duration) float64 {
	if period < time.Millisecond {
		period = DefaultPeriod
	}
	p := period.Milliseconds()
	ms := t.UnixMilli() % p
	if ms < 0 {
		ms += p
	}
	return float64(ms) / float64(p) * 2 * math.Pi
}

// Breathing is the payload of a periodic signal tick.
type Breathing struct {
	Phase     float64 `json:"phase"`
	CycleMs   int64   `json:"cycleMs"`
	Inhale    bool    `json:"inhale"` // first half of the cycle
	Timestamp int64   `json:"timestamp"`
}

// Tick builds the periodic signal payload for t.
func Tick(t time.Time, period time.Duration) Breathing {
	if period < time.Millisecond {
		period = DefaultPeriod
	}
	phase := Phase(t, period)
	return Breathing{
		Phase:     phase,
		CycleMs:   period.Milliseconds(),
		Inhale:    phase < math.Pi,
		Timestamp: t.UnixMilli(),
	}
}

// Adherence scores how closely a reported phase tracks the reference phase:
// 1 when identical, 0 when half a cycle apart.
func Adherence(reported, reference float64) float64 {
	d := math.Mod(math.Abs(reported-reference), 2*math.Pi)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return 1 - d/math.Pi
}
