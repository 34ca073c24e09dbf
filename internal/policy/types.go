package policy

import (
	"time"

	"github.com/rickgao/coherence-hub/internal/model"
)

// Request is one routing decision call.
type Request struct {
	CategoryTag    string      `json:"categoryTag"`
	CoherenceScore *float64    `json:"coherenceScore"`
	Intent         string      `json:"intent,omitempty"`
	RequestID      string      `json:"requestId,omitempty"`
	SequenceTrace  string      `json:"sequenceTrace,omitempty"`
	Degraded       bool        `json:"degraded,omitempty"` // can only raise the process-wide flag
	Provenance     *Provenance `json:"provenance,omitempty"`
	Budgets        *Budgets    `json:"budgets,omitempty"`
	Telemetry      *Telemetry  `json:"telemetry,omitempty"`
}

// Provenance carries corroboration for verify and commit requests.
type Provenance struct {
	Score            *float64 `json:"score,omitempty"`
	Evidence         []string `json:"evidence,omitempty"`
	EvidenceCount    int      `json:"evidenceCount,omitempty"`
	PriorVerifyScore *float64 `json:"priorVerifyScore,omitempty"`
}

// Budgets caps iterative categories. Step is the 1-based step the caller is
// about to run; Steps is the declared cap.
type Budgets struct {
	Steps int `json:"steps"`
	Step  int `json:"step"`
}

// Telemetry carries auxiliary client signals.
type Telemetry struct {
	Breath *Breath `json:"breath,omitempty"`
}

// Breath is the client's breathing telemetry.
type Breath struct {
	Phase     *float64 `json:"phase,omitempty"`
	Adherence *float64 `json:"adherence,omitempty"`
}

// Decision is the terminal outcome of a routing request.
type Decision struct {
	Status          model.Status    `json:"status"`
	Category        model.Category  `json:"categoryTag"`
	SelectedLane    string          `json:"selectedLane"`
	Provider        string          `json:"provider"`
	Reasoning       string          `json:"reasoning"`
	CoherenceScore  float64         `json:"coherenceScore"`
	Threshold       float64         `json:"threshold"`
	ProvenanceScore *float64        `json:"provenanceScore,omitempty"`
	Checkpoint      bool            `json:"checkpoint,omitempty"`
	Stability       model.Stability `json:"stability,omitempty"`
	FieldCoherence  float64         `json:"fieldCoherence,omitempty"`
	Degraded        bool            `json:"degraded"`
	RequestID       string          `json:"requestId"`
	SequenceTrace   string          `json:"sequenceTrace"`
	DecidedAt       time.Time       `json:"decidedAt"`
}

// RecordLane is the lane store a decision is appended to: the truth lane only
// for ROUTED truth-sealed decisions, the journal lane for everything else.
func (d Decision) RecordLane() model.Lane {
	if d.Status == model.StatusRouted && d.SelectedLane == string(model.LaneTruth) {
		return model.LaneTruth
	}
	return model.LaneJournal
}

// Reasoning codes.
const (
	ReasonDegradedDisallowed     = "degraded_mode_disallowed"
	ReasonCoaching               = "breath_coaching"
	ReasonBelowThreshold         = "below_threshold"
	ReasonMissingProvenance      = "missing_prior_provenance"
	ReasonInsufficientProvenance = "insufficient_prior_provenance"
	ReasonBudgetHalt             = "halt:budget_exhausted"
	ReasonThresholdMet           = "threshold_met"
	ReasonTruthSealed            = "truth_sealed"
	ReasonJournaled              = "journal_lane"
	ReasonDegradedFallback       = "degraded_fallback"
)

// CoachingProvider handles requests substituted by a coaching response.
const CoachingProvider = "breath-coach"
