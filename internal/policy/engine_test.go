package policy

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/coherence-hub/internal/clock"
	"github.com/rickgao/coherence-hub/internal/model"
)

func f(v float64) *float64 { return &v }

type memRecorder struct {
	mu        sync.Mutex
	decisions []Decision
}

func (m *memRecorder) Record(d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

type fixedField model.FieldState

func (ff fixedField) Latest() model.FieldState { return model.FieldState(ff) }

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultTable(), opts...)
	require.NoError(t, err)
	return e
}

func TestDecide_Thresholds(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		category string
		score    float64
		want     model.Status
	}{
		{"bind", 0.68, model.StatusRouted},
		{"bind", 0.67, model.StatusBlocked},
		{"mirror", 0.68, model.StatusRouted},
		{"iterate", 0.74, model.StatusBlocked},
		{"iterate", 0.75, model.StatusRouted},
		{"verify", 0.70, model.StatusRouted},
		{"verify", 0.60, model.StatusBlocked},
		{"commit", 0.87, model.StatusBlocked},
	}

	for _, tt := range tests {
		d, err := e.Decide(Request{CategoryTag: tt.category, CoherenceScore: f(tt.score)})
		require.NoError(t, err)
		assert.Equal(t, tt.want, d.Status, "%s at %v", tt.category, tt.score)
		if tt.want == model.StatusBlocked {
			assert.Equal(t, ReasonBelowThreshold, d.Reasoning)
		}
	}
}

func TestDecide_RoutedImpliesThreshold(t *testing.T) {
	e := newTestEngine(t)
	table := e.Table()

	for _, c := range model.Categories {
		for score := 0.0; score <= 1.0; score += 0.01 {
			d, err := e.Decide(Request{
				CategoryTag:    string(c),
				CoherenceScore: f(score),
				Provenance:     &Provenance{PriorVerifyScore: f(0.9)},
			})
			require.NoError(t, err)
			if d.Status.Passed() {
				assert.GreaterOrEqual(t, score, table.Threshold(c), "%s routed below threshold", c)
			}
		}
	}
}

func TestDecide_DegradedMode(t *testing.T) {
	e := newTestEngine(t, WithDegraded(true))

	tests := []struct {
		category string
		want     model.Status
		provider string
	}{
		{"bind", model.StatusBlocked, ""},
		{"iterate", model.StatusBlocked, ""},
		{"commit", model.StatusBlocked, ""},
		{"mirror", model.StatusRouted, "local-mirror"},
		{"verify", model.StatusDegradedFallback, "local-fallback"},
	}

	for _, tt := range tests {
		d, err := e.Decide(Request{
			CategoryTag:    tt.category,
			CoherenceScore: f(0.99),
			Provenance:     &Provenance{PriorVerifyScore: f(0.99)},
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, d.Status, tt.category)
		assert.Equal(t, tt.provider, d.Provider, tt.category)
		assert.True(t, d.Degraded)
		if tt.want == model.StatusBlocked {
			assert.Equal(t, ReasonDegradedDisallowed, d.Reasoning)
		}
	}
}

func TestDecide_DegradedFallbackNeverSeals(t *testing.T) {
	e := newTestEngine(t, WithDegraded(true))

	d, err := e.Decide(Request{
		CategoryTag:    "verify",
		CoherenceScore: f(0.97),
		Provenance:     &Provenance{Score: f(0.9)},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDegradedFallback, d.Status)
	assert.Equal(t, model.LaneJournal, d.RecordLane())
}

func TestDecide_RequestDegradedOnlyRaises(t *testing.T) {
	e := newTestEngine(t)

	d, err := e.Decide(Request{CategoryTag: "bind", CoherenceScore: f(0.9), Degraded: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, d.Status)
	assert.False(t, e.Degraded(), "request flag must not change the process flag")

	e.SetDegraded(true)
	d, err = e.Decide(Request{CategoryTag: "bind", CoherenceScore: f(0.9), Degraded: false})
	require.NoError(t, err)
	assert.Equal(t, ReasonDegradedDisallowed, d.Reasoning)

	e.SetDegraded(false)
	d, err = e.Decide(Request{CategoryTag: "bind", CoherenceScore: f(0.9)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRouted, d.Status)
}

func TestDecide_BreathCoaching(t *testing.T) {
	e := newTestEngine(t)

	coach := func(score, adherence float64) Decision {
		d, err := e.Decide(Request{
			CategoryTag:    "bind",
			CoherenceScore: f(score),
			Telemetry:      &Telemetry{Breath: &Breath{Adherence: f(adherence)}},
		})
		require.NoError(t, err)
		return d
	}

	d := coach(0.5, 0.2)
	assert.Equal(t, model.StatusCoaching, d.Status)
	assert.Equal(t, CoachingProvider, d.Provider)

	// Above threshold the breath gate never fires.
	assert.Equal(t, model.StatusRouted, coach(0.8, 0.2).Status)

	// Good adherence falls through to the threshold gate.
	d = coach(0.5, 0.9)
	assert.Equal(t, model.StatusBlocked, d.Status)
	assert.Equal(t, ReasonBelowThreshold, d.Reasoning)
}

func TestDecide_VerifyProvenance(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name string
		prov *Provenance
		want float64
	}{
		{"none", nil, 0},
		{"explicit", &Provenance{Score: f(0.9)}, 0.9},
		{"explicit wins", &Provenance{Score: f(0.3), Evidence: []string{"a", "b", "c"}}, 0.3},
		{"evidence", &Provenance{Evidence: []string{"a", "b", "c", "d"}}, 0.8},
		{"evidence count", &Provenance{EvidenceCount: 1}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Decide(Request{CategoryTag: "verify", CoherenceScore: f(0.7), Provenance: tt.prov})
			require.NoError(t, err)
			assert.Equal(t, model.StatusRouted, d.Status, "verify provenance never blocks")
			require.NotNil(t, d.ProvenanceScore)
			assert.InDelta(t, tt.want, *d.ProvenanceScore, 1e-9)
		})
	}
}

func TestDecide_TruthSeal(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		score float64
		prov  float64
		lane  model.Lane
	}{
		{0.96, 0.82, model.LaneTruth},
		{0.95, 0.80, model.LaneTruth},
		{0.94, 0.99, model.LaneJournal},
		{0.99, 0.79, model.LaneJournal},
	}

	for _, tt := range tests {
		d, err := e.Decide(Request{
			CategoryTag:    "verify",
			CoherenceScore: f(tt.score),
			Provenance:     &Provenance{Score: f(tt.prov)},
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusRouted, d.Status)
		assert.Equal(t, string(tt.lane), d.SelectedLane, "score %v prov %v", tt.score, tt.prov)
		assert.Equal(t, tt.lane, d.RecordLane())
	}
}

func TestDecide_CommitGating(t *testing.T) {
	e := newTestEngine(t)

	d, err := e.Decide(Request{CategoryTag: "commit", CoherenceScore: f(0.9)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, d.Status)
	assert.Equal(t, ReasonMissingProvenance, d.Reasoning)

	d, err = e.Decide(Request{
		CategoryTag:    "commit",
		CoherenceScore: f(0.9),
		Provenance:     &Provenance{PriorVerifyScore: f(0.79)},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, d.Status)
	assert.Equal(t, ReasonInsufficientProvenance, d.Reasoning)

	d, err = e.Decide(Request{
		CategoryTag:    "commit",
		CoherenceScore: f(0.9),
		Provenance:     &Provenance{PriorVerifyScore: f(0.85)},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRouted, d.Status)
	assert.Equal(t, "commit-ledger", d.Provider)
}

func TestDecide_CommitUsesTrackedProvenance(t *testing.T) {
	e := newTestEngine(t, WithSessionTracking(16))

	_, err := e.Decide(Request{
		CategoryTag:    "verify",
		CoherenceScore: f(0.9),
		SequenceTrace:  "seq-1",
		Provenance:     &Provenance{Score: f(0.85)},
	})
	require.NoError(t, err)

	d, err := e.Decide(Request{CategoryTag: "commit", CoherenceScore: f(0.9), SequenceTrace: "seq-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRouted, d.Status)
	require.NotNil(t, d.ProvenanceScore)
	assert.InDelta(t, 0.85, *d.ProvenanceScore, 1e-9)

	d, err = e.Decide(Request{CategoryTag: "commit", CoherenceScore: f(0.9), SequenceTrace: "seq-2"})
	require.NoError(t, err)
	assert.Equal(t, ReasonMissingProvenance, d.Reasoning)
}

func TestDecide_BudgetHalt(t *testing.T) {
	e := newTestEngine(t)

	// Coherence rises each step; the cap still halts at step 2.
	scores := []float64{0.80, 0.90, 0.99}
	var statuses []model.Status
	for i, score := range scores {
		d, err := e.Decide(Request{
			CategoryTag:    "iterate",
			CoherenceScore: f(score),
			Budgets:        &Budgets{Steps: 2, Step: i + 1},
		})
		require.NoError(t, err)
		statuses = append(statuses, d.Status)
		if i+1 >= 2 {
			assert.True(t, d.Checkpoint)
			assert.Equal(t, ReasonBudgetHalt, d.Reasoning)
		} else {
			assert.False(t, d.Checkpoint)
		}
	}
	assert.Equal(t, []model.Status{model.StatusRouted, model.StatusBlocked, model.StatusBlocked}, statuses)
}

func TestDecide_TrackedHaltPersists(t *testing.T) {
	e := newTestEngine(t, WithSessionTracking(16))

	d, err := e.Decide(Request{
		CategoryTag:    "iterate",
		CoherenceScore: f(0.8),
		SequenceTrace:  "loop",
		Budgets:        &Budgets{Steps: 2, Step: 2},
	})
	require.NoError(t, err)
	require.True(t, d.Checkpoint)

	// A later caller raising the cap does not resume a halted sequence.
	d, err = e.Decide(Request{
		CategoryTag:    "iterate",
		CoherenceScore: f(0.8),
		SequenceTrace:  "loop",
		Budgets:        &Budgets{Steps: 10, Step: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, d.Status)
	assert.True(t, d.Checkpoint)
}

func TestDecide_GlyphCategory(t *testing.T) {
	e := newTestEngine(t)

	d, err := e.Decide(Request{CategoryTag: "◐", CoherenceScore: f(0.7)})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryMirror, d.Category)
	assert.Equal(t, model.StatusRouted, d.Status)
}

func TestDecide_ValidationErrors(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name   string
		req    Request
		fields []string
	}{
		{"empty", Request{}, []string{"categoryTag", "coherenceScore"}},
		{"unknown category", Request{CategoryTag: "teleport", CoherenceScore: f(0.5)}, []string{"categoryTag"}},
		{"score above range", Request{CategoryTag: "bind", CoherenceScore: f(1.2)}, []string{"coherenceScore"}},
		{"negative score", Request{CategoryTag: "bind", CoherenceScore: f(-0.1)}, []string{"coherenceScore"}},
		{
			"bad provenance",
			Request{CategoryTag: "verify", CoherenceScore: f(0.5), Provenance: &Provenance{Score: f(2)}},
			[]string{"provenance.score"},
		},
		{
			"bad adherence",
			Request{
				CategoryTag:    "bind",
				CoherenceScore: f(0.5),
				Telemetry:      &Telemetry{Breath: &Breath{Adherence: f(1.5)}},
			},
			[]string{"telemetry.breath.adherence"},
		},
		{
			"negative step",
			Request{CategoryTag: "iterate", CoherenceScore: f(0.8), Budgets: &Budgets{Steps: 2, Step: -1}},
			[]string{"budgets.step"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Decide(tt.req)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "error = %v, want *ValidationError", err)

			var got []string
			for _, fe := range verr.Fields {
				got = append(got, fe.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestDecide_RecorderAndContext(t *testing.T) {
	rec := &memRecorder{}
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t,
		WithRecorder(rec),
		WithClock(clock.NewFake(now)),
		WithFieldSource(fixedField{AggregateCoherence: 0.81, Stability: model.StabilityStable}),
	)

	_, err := e.Decide(Request{CategoryTag: "verify", CoherenceScore: f(0.96), Provenance: &Provenance{Score: f(0.9)}})
	require.NoError(t, err)
	_, err = e.Decide(Request{CategoryTag: "bind", CoherenceScore: f(0.1), RequestID: "req-7", SequenceTrace: "trace-7"})
	require.NoError(t, err)

	require.Len(t, rec.decisions, 2)
	sealed, blocked := rec.decisions[0], rec.decisions[1]

	assert.Equal(t, model.LaneTruth, sealed.RecordLane())
	assert.Equal(t, model.LaneJournal, blocked.RecordLane())
	assert.Equal(t, "req-7", blocked.RequestID)
	assert.Equal(t, "trace-7", blocked.SequenceTrace)
	assert.NotEmpty(t, sealed.RequestID, "request id is generated when absent")
	assert.Equal(t, now, sealed.DecidedAt)
	assert.Equal(t, model.StabilityStable, sealed.Stability)
	assert.InDelta(t, 0.81, sealed.FieldCoherence, 1e-9)
}

func TestNewEngine_InvalidSessionCapacity(t *testing.T) {
	_, err := NewEngine(DefaultTable(), WithSessionTracking(0))
	assert.Error(t, err)
}
