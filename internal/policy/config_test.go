package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/coherence-hub/internal/config"
	"github.com/rickgao/coherence-hub/internal/model"
)

func TestTableFromConfig(t *testing.T) {
	rc := config.Default().Routing
	rc.Thresholds["⊕"] = 0.9
	delete(rc.Thresholds, "commit")

	table, err := TableFromConfig(rc)
	require.NoError(t, err)

	assert.InDelta(t, 0.9, table.Threshold(model.CategoryCommit), 1e-9)
	assert.True(t, table.DegradedAllowed[model.CategoryMirror])
	assert.False(t, table.DegradedAllowed[model.CategoryBind])
	assert.Equal(t, "local-fallback", table.FallbackProvider)
}

func TestTableFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.RoutingConfig)
	}{
		{"unknown threshold category", func(rc *config.RoutingConfig) { rc.Thresholds["teleport"] = 0.5 }},
		{"missing threshold", func(rc *config.RoutingConfig) { delete(rc.Thresholds, "bind") }},
		{"missing provider", func(rc *config.RoutingConfig) { delete(rc.Providers, "verify") }},
		{"unknown degraded category", func(rc *config.RoutingConfig) { rc.DegradedAllowed = []string{"mirror", "x"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := config.Default().Routing
			tt.mutate(&rc)
			_, err := TableFromConfig(rc)
			assert.Error(t, err)
		})
	}
}
