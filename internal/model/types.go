package model

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Routing Categories
// -----------------------------------------------------------------------------

// Category is the enumerated kind of a routing request.
type Category string

const (
	CategoryBind    Category = "bind"
	CategoryMirror  Category = "mirror"
	CategoryIterate Category = "iterate"
	CategoryVerify  Category = "verify"
	CategoryCommit  Category = "commit"
)

// Categories lists every category in evaluation-table order.
var Categories = []Category{
	CategoryBind,
	CategoryMirror,
	CategoryIterate,
	CategoryVerify,
	CategoryCommit,
}

// categoryGlyphs maps the single-glyph identifiers used by older clients.
var categoryGlyphs = map[string]Category{
	"⟁": CategoryBind,
	"◐": CategoryMirror,
	"↻": CategoryIterate,
	"✓": CategoryVerify,
	"⊕": CategoryCommit,
}

// ParseCategory accepts a category name (case-insensitive) or its glyph.
func ParseCategory(s string) (Category, error) {
	trimmed := strings.TrimSpace(s)
	if c, ok := categoryGlyphs[trimmed]; ok {
		return c, nil
	}
	c := Category(strings.ToLower(trimmed))
	if c.Valid() {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBind, CategoryMirror, CategoryIterate, CategoryVerify, CategoryCommit:
		return true
	}
	return false
}

// Glyph returns the single-glyph identifier for c.
func (c Category) Glyph() string {
	for g, cat := range categoryGlyphs {
		if cat == c {
			return g
		}
	}
	return ""
}

// -----------------------------------------------------------------------------
// Decision Types
// -----------------------------------------------------------------------------

// Status is the terminal outcome of a routing decision.
type Status string

const (
	StatusRouted           Status = "ROUTED"
	StatusBlocked          Status = "BLOCKED"
	StatusDegradedFallback Status = "DEGRADED_FALLBACK"
	StatusCoaching         Status = "COACHING"
)

// Passed reports whether the status means the request cleared every gate.
func (s Status) Passed() bool {
	return s == StatusRouted || s == StatusDegradedFallback
}

// Lane is a physically separated output destination.
type Lane string

const (
	LaneTruth   Lane = "truth"
	LaneJournal Lane = "journal"
)

// -----------------------------------------------------------------------------
// Field State
// -----------------------------------------------------------------------------

// Stability is the advisory variance class of the live coherence samples.
type Stability string

const (
	StabilityStable        Stability = "stable"
	StabilityTransitioning Stability = "transitioning"
	StabilityChaotic       Stability = "chaotic"
)

// FieldState is the process-wide aggregate derived from all live clients.
type FieldState struct {
	AggregateCoherence float64   `json:"aggregateCoherence"`
	PeriodicPhase      float64   `json:"periodicPhase"`
	ActiveClientCount  int       `json:"activeClientCount"`
	CoherenceSamples   []float64 `json:"coherenceSamples"`
	Stability          Stability `json:"stability"`
	Idle               bool      `json:"idle"`
	Timestamp          time.Time `json:"timestamp"`
}
