package policy

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/coherence-hub/internal/clock"
	"github.com/rickgao/coherence-hub/internal/metrics"
	"github.com/rickgao/coherence-hub/internal/model"
)

// FieldSource exposes the most recent field state. The stability class is
// attached to decisions as context and never changes an outcome.
type FieldSource interface {
	Latest() model.FieldState
}

// FieldSourceFunc adapts a function to FieldSource.
type FieldSourceFunc func() model.FieldState

func (f FieldSourceFunc) Latest() model.FieldState { return f() }

// Recorder receives every decision for lane persistence. Record must not
// block on I/O.
type Recorder interface {
	Record(d Decision) error
}

// Engine makes routing decisions.
type Engine struct {
	table    Table
	degraded atomic.Bool
	sessions *sessionTracker
	field    FieldSource
	recorder Recorder
	clock    clock.Clock
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithFieldSource attaches field stability context to decisions.
func WithFieldSource(f FieldSource) Option {
	return func(e *Engine) error {
		e.field = f
		return nil
	}
}

// WithRecorder sets the lane recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) error {
		e.recorder = r
		return nil
	}
}

// WithClock sets the clock used for decision timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) error {
		e.clock = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithDegraded sets the initial process-wide degraded flag.
func WithDegraded(degraded bool) Option {
	return func(e *Engine) error {
		e.degraded.Store(degraded)
		return nil
	}
}

// WithSessionTracking enables the bounded sequence-trace tracker.
func WithSessionTracking(capacity int) Option {
	return func(e *Engine) error {
		s, err := newSessionTracker(capacity)
		if err != nil {
			return fmt.Errorf("create session tracker: %w", err)
		}
		e.sessions = s
		return nil
	}
}

// NewEngine creates an engine for the given policy table.
func NewEngine(table Table, opts ...Option) (*Engine, error) {
	e := &Engine{
		table: table,
		clock: clock.System{},
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "policy")
	return e, nil
}

// SetDegraded sets the process-wide degraded flag.
func (e *Engine) SetDegraded(degraded bool) {
	if e.degraded.Swap(degraded) != degraded {
		e.logger.Info("degraded mode changed", "degraded", degraded)
	}
}

// Degraded reports the process-wide degraded flag.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// Table returns the engine's policy table.
func (e *Engine) Table() Table {
	return e.table
}

// Decide validates req and evaluates it against the policy table. A
// *ValidationError is returned for malformed requests; policy blocks are
// ordinary decisions, not errors.
func (e *Engine) Decide(req Request) (Decision, error) {
	cat, err := Validate(req)
	if err != nil {
		return Decision{}, err
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.SequenceTrace == "" {
		req.SequenceTrace = uuid.NewString()
	}

	d := e.evaluate(req, cat, e.degraded.Load() || req.Degraded)
	d.DecidedAt = e.clock.Now()
	if e.field != nil {
		fs := e.field.Latest()
		d.Stability = fs.Stability
		d.FieldCoherence = fs.AggregateCoherence
	}

	metrics.RoutingDecisions.WithLabelValues(string(d.Category), string(d.Status)).Inc()
	log := e.logger.With(
		"request_id", d.RequestID,
		"category", d.Category,
		"status", d.Status,
		"reasoning", d.Reasoning,
	)
	if d.Status.Passed() {
		log.Debug("request routed", "provider", d.Provider, "lane", d.SelectedLane)
	} else {
		log.Info("request not routed", "coherence", d.CoherenceScore, "threshold", d.Threshold)
	}

	if e.recorder != nil {
		if err := e.recorder.Record(d); err != nil {
			log.Warn("failed to record decision", "error", err)
		}
	}
	return d, nil
}

// evaluate runs the gates in order. It has no side effects other than the
// session tracker.
func (e *Engine) evaluate(req Request, cat model.Category, degraded bool) Decision {
	score := *req.CoherenceScore
	threshold := e.table.Threshold(cat)
	provider := e.table.Providers[cat]

	d := Decision{
		Category:       cat,
		CoherenceScore: score,
		Threshold:      threshold,
		Degraded:       degraded,
		RequestID:      req.RequestID,
		SequenceTrace:  req.SequenceTrace,
		Provider:       provider.ID,
		SelectedLane:   provider.ID,
	}
	block := func(reason string) Decision {
		d.Status = model.StatusBlocked
		d.Reasoning = reason
		d.SelectedLane = string(model.LaneJournal)
		d.Provider = ""
		return d
	}

	// 1. Degraded gate.
	if degraded && !e.table.DegradedAllowed[cat] {
		return block(ReasonDegradedDisallowed)
	}

	// 2. Breath gate.
	if adherence, ok := req.adherence(); ok && adherence < e.table.CoachingThreshold && score < threshold {
		d.Status = model.StatusCoaching
		d.Reasoning = ReasonCoaching
		d.Provider = CoachingProvider
		d.SelectedLane = CoachingProvider
		return d
	}

	// 3. Category threshold, inclusive.
	if score < threshold {
		return block(ReasonBelowThreshold)
	}

	// 4. Provenance.
	switch cat {
	case model.CategoryVerify:
		p := ComputeProvenance(req.Provenance)
		d.ProvenanceScore = &p
		e.sessions.recordProvenance(req.SequenceTrace, p)
	case model.CategoryCommit:
		prior, ok := req.priorVerifyScore()
		if !ok {
			prior, ok = e.sessions.provenance(req.SequenceTrace)
		}
		if !ok {
			return block(ReasonMissingProvenance)
		}
		d.ProvenanceScore = &prior
		if prior < e.table.CommitProvenance {
			return block(ReasonInsufficientProvenance)
		}
	}

	// 6. Iterate budget guard.
	if cat == model.CategoryIterate && req.Budgets != nil && req.Budgets.Steps > 0 {
		step := req.Budgets.Step
		if step >= req.Budgets.Steps || e.sessions.halted(req.SequenceTrace, step) {
			e.sessions.recordStep(req.SequenceTrace, step, true)
			d = block(ReasonBudgetHalt)
			d.Checkpoint = true
			return d
		}
		e.sessions.recordStep(req.SequenceTrace, step, false)
	}

	d.Status = model.StatusRouted
	d.Reasoning = ReasonThresholdMet

	// 5. Truth seal.
	if cat == model.CategoryVerify {
		sealed := score >= e.table.TruthSealCoherence && *d.ProvenanceScore >= e.table.TruthSealProvenance
		if sealed {
			d.SelectedLane = string(model.LaneTruth)
			d.Reasoning = ReasonTruthSealed
		} else {
			d.SelectedLane = string(model.LaneJournal)
			d.Reasoning = ReasonJournaled
		}
	}

	if degraded && provider.RequiresUpstream {
		d.Status = model.StatusDegradedFallback
		d.Provider = e.table.FallbackProvider
		d.Reasoning = ReasonDegradedFallback
		if cat == model.CategoryVerify {
			// Nothing is sealed without the upstream verifier.
			d.SelectedLane = string(model.LaneJournal)
		} else {
			d.SelectedLane = e.table.FallbackProvider
		}
	}
	return d
}

// ComputeProvenance returns the explicit provenance score when present,
// otherwise n/(n+1) for n evidence items. No provenance scores 0.
func ComputeProvenance(p *Provenance) float64 {
	if p == nil {
		return 0
	}
	if p.Score != nil {
		return *p.Score
	}
	n := p.EvidenceCount
	if len(p.Evidence) > n {
		n = len(p.Evidence)
	}
	return float64(n) / float64(n+1)
}

// Validate checks req and returns its parsed category.
func Validate(req Request) (model.Category, error) {
	verr := &ValidationError{}

	var cat model.Category
	if req.CategoryTag == "" {
		verr.add("categoryTag", "required")
	} else if c, err := model.ParseCategory(req.CategoryTag); err != nil {
		verr.add("categoryTag", "must be one of bind, mirror, iterate, verify, commit")
	} else {
		cat = c
	}

	if req.CoherenceScore == nil {
		verr.add("coherenceScore", "required")
	} else if !unit(*req.CoherenceScore) {
		verr.add("coherenceScore", "must be within [0, 1], got %v", *req.CoherenceScore)
	}

	if p := req.Provenance; p != nil {
		if p.Score != nil && !unit(*p.Score) {
			verr.add("provenance.score", "must be within [0, 1], got %v", *p.Score)
		}
		if p.PriorVerifyScore != nil && !unit(*p.PriorVerifyScore) {
			verr.add("provenance.priorVerifyScore", "must be within [0, 1], got %v", *p.PriorVerifyScore)
		}
		if p.EvidenceCount < 0 {
			verr.add("provenance.evidenceCount", "must not be negative")
		}
	}

	if b := req.Budgets; b != nil {
		if b.Steps < 0 {
			verr.add("budgets.steps", "must not be negative")
		}
		if b.Step < 0 {
			verr.add("budgets.step", "must not be negative")
		}
	}

	if req.Telemetry != nil && req.Telemetry.Breath != nil {
		br := req.Telemetry.Breath
		if br.Adherence != nil && !unit(*br.Adherence) {
			verr.add("telemetry.breath.adherence", "must be within [0, 1], got %v", *br.Adherence)
		}
		if br.Phase != nil && (math.IsNaN(*br.Phase) || *br.Phase < 0 || *br.Phase >= 2*math.Pi) {
			verr.add("telemetry.breath.phase", "must be within [0, 2π), got %v", *br.Phase)
		}
	}

	if err := verr.orNil(); err != nil {
		return "", err
	}
	return cat, nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func (r Request) adherence() (float64, bool) {
	if r.Telemetry == nil || r.Telemetry.Breath == nil || r.Telemetry.Breath.Adherence == nil {
		return 0, false
	}
	return *r.Telemetry.Breath.Adherence, true
}

func (r Request) priorVerifyScore() (float64, bool) {
	if r.Provenance == nil || r.Provenance.PriorVerifyScore == nil {
		return 0, false
	}
	return *r.Provenance.PriorVerifyScore, true
}
