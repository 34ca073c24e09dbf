package field

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rickgao/coherence-hub/internal/clock"
	"github.com/rickgao/coherence-hub/internal/model"
)

// Idle baseline parameters.
const (
	IdleBaseline  = 0.75
	IdleAmplitude = 0.05
	IdleDivisorMs = 10000.0
)

// Stability variance bounds.
const (
	StableVariance        = 0.01
	TransitioningVariance = 0.05
)

// ScoreSource provides the coherence samples of all live clients, ordered by
// connect time.
type ScoreSource interface {
	Scores() []float64
}

// Aggregator recomputes the field state from a ScoreSource.
type Aggregator struct {
	source ScoreSource
	clock  clock.Clock
	period time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	latest model.FieldState
	hasRun bool

	// onStabilityChange is called outside the lock when the class changes.
	onStabilityChange func(from, to model.Stability)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPeriod sets the periodic signal period used for the phase field.
func WithPeriod(d time.Duration) Option {
	return func(a *Aggregator) { a.period = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithStabilityHook registers a callback for stability class transitions.
func WithStabilityHook(fn func(from, to model.Stability)) Option {
	return func(a *Aggregator) { a.onStabilityChange = fn }
}

// NewAggregator creates an Aggregator reading from source.
func NewAggregator(source ScoreSource, clk clock.Clock, opts ...Option) *Aggregator {
	if clk == nil {
		clk = clock.System{}
	}
	a := &Aggregator{
		source: source,
		clock:  clk,
		period: DefaultPeriod,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Recompute derives a fresh field state from the current scores and stores
// it as the latest snapshot. With a fixed clock and unchanged scores two calls
// return the same state.
func (a *Aggregator) Recompute() model.FieldState {
	now := a.clock.Now()
	samples := a.source.Scores()

	state := model.FieldState{
		PeriodicPhase:     Phase(now, a.period),
		ActiveClientCount: len(samples),
		CoherenceSamples:  samples,
		Stability:         ClassifyStability(samples),
		Timestamp:         now,
	}
	if len(samples) == 0 {
		state.AggregateCoherence = IdleCoherence(now)
		state.Idle = true
		state.CoherenceSamples = []float64{}
	} else {
		state.AggregateCoherence = Mean(samples)
	}

	a.mu.Lock()
	prev := a.latest.Stability
	changed := a.hasRun && prev != state.Stability
	a.latest = state
	a.hasRun = true
	a.mu.Unlock()

	if changed {
		a.logger.Debug("field stability changed", "from", prev, "to", state.Stability)
		if a.onStabilityChange != nil {
			a.onStabilityChange(prev, state.Stability)
		}
	}

	return state
}

// Latest returns the most recent snapshot, computing one if none exists yet.
func (a *Aggregator) Latest() model.FieldState {
	a.mu.RLock()
	state, ok := a.latest, a.hasRun
	a.mu.RUnlock()
	if !ok {
		return a.Recompute()
	}
	return state
}

// IdleCoherence is the baseline followed when no clients are connected:
// 0.75 + 0.05·sin(t/10000) with t in unix milliseconds.
func IdleCoherence(t time.Time) float64 {
	return IdleBaseline + IdleAmplitude*math.Sin(float64(t.UnixMilli())/IdleDivisorMs)
}

// Mean returns the arithmetic mean of samples, 0 for none.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Variance returns the population variance of samples.
func Variance(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	mean := Mean(samples)
	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	return sq / float64(len(samples))
}

// ClassifyStability buckets samples by variance. Fewer than two samples are
// always stable.
func ClassifyStability(samples []float64) model.Stability {
	v := Variance(samples)
	switch {
	case v < StableVariance:
		return model.StabilityStable
	case v < TransitioningVariance:
		return model.StabilityTransitioning
	default:
		return model.StabilityChaotic
	}
}
