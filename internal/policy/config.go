package policy

import (
	"fmt"

	"github.com/rickgao/coherence-hub/internal/config"
	"github.com/rickgao/coherence-hub/internal/model"
)

// Provider is the downstream provider a category routes to.
type Provider struct {
	ID               string
	RequiresUpstream bool
}

// Table is the policy table the engine evaluates against.
type Table struct {
	Thresholds          map[model.Category]float64
	Providers           map[model.Category]Provider
	FallbackProvider    string
	DegradedAllowed     map[model.Category]bool
	CoachingThreshold   float64
	TruthSealCoherence  float64
	TruthSealProvenance float64
	CommitProvenance    float64
}

// Threshold returns the minimum coherence score for c.
func (t Table) Threshold(c model.Category) float64 {
	return t.Thresholds[c]
}

// DefaultTable returns the policy table built from the config defaults.
func DefaultTable() Table {
	rc := config.Default().Routing
	t, err := TableFromConfig(rc)
	if err != nil {
		// The defaults are static and always cover every category.
		panic(err)
	}
	return t
}

// TableFromConfig converts the routing section of the hub config into a
// Table. Every category must have a threshold and a provider.
func TableFromConfig(rc config.RoutingConfig) (Table, error) {
	t := Table{
		Thresholds:          make(map[model.Category]float64, len(model.Categories)),
		Providers:           make(map[model.Category]Provider, len(model.Categories)),
		FallbackProvider:    rc.FallbackProvider,
		DegradedAllowed:     make(map[model.Category]bool, len(rc.DegradedAllowed)),
		CoachingThreshold:   rc.CoachingThreshold,
		TruthSealCoherence:  rc.TruthSealCoherence,
		TruthSealProvenance: rc.TruthSealProvenance,
		CommitProvenance:    rc.CommitProvenance,
	}

	for name, v := range rc.Thresholds {
		c, err := model.ParseCategory(name)
		if err != nil {
			return Table{}, fmt.Errorf("thresholds: %w", err)
		}
		t.Thresholds[c] = v
	}
	for name, p := range rc.Providers {
		c, err := model.ParseCategory(name)
		if err != nil {
			return Table{}, fmt.Errorf("providers: %w", err)
		}
		t.Providers[c] = Provider{ID: p.ID, RequiresUpstream: p.RequiresUpstream}
	}
	for _, name := range rc.DegradedAllowed {
		c, err := model.ParseCategory(name)
		if err != nil {
			return Table{}, fmt.Errorf("degraded_allowed: %w", err)
		}
		t.DegradedAllowed[c] = true
	}

	for _, c := range model.Categories {
		if _, ok := t.Thresholds[c]; !ok {
			return Table{}, fmt.Errorf("missing threshold for category %s", c)
		}
		if _, ok := t.Providers[c]; !ok {
			return Table{}, fmt.Errorf("missing provider for category %s", c)
		}
	}
	return t, nil
}
