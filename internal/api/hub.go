package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/rickgao/coherence-hub/internal/model"
	"github.com/rickgao/coherence-hub/internal/policy"
	"github.com/rickgao/coherence-hub/internal/version"
	"github.com/rickgao/coherence-hub/internal/writer"
)

// Health is the GET /health response.
type Health struct {
	Status   string                          `json:"status"`
	Version  version.Info                    `json:"version"`
	Uptime   string                          `json:"uptime"`
	Clients  int                             `json:"clients"`
	Degraded bool                            `json:"degraded"`
	Lanes    map[model.Lane]writer.LaneStats `json:"lanes"`
}

type degradedBody struct {
	Degraded *bool `json:"degraded"`
}

// Route requests a routing decision. A request ID is assigned when req has
// none so retried attempts share it.
func (c *Client) Route(ctx context.Context, req policy.Request) (policy.Decision, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	var d policy.Decision
	err := c.call(ctx, http.MethodPost, "/route", req, &d, false)
	return d, err
}

// Field returns the current field state.
func (c *Client) Field(ctx context.Context) (model.FieldState, error) {
	var fs model.FieldState
	err := c.call(ctx, http.MethodGet, "/field", nil, &fs, false)
	return fs, err
}

// Health returns the hub health summary.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.call(ctx, http.MethodGet, "/health", nil, &h, false)
	return h, err
}

// Degraded reports the process-wide degraded flag.
func (c *Client) Degraded(ctx context.Context) (bool, error) {
	var b degradedBody
	if err := c.call(ctx, http.MethodGet, "/admin/degraded", nil, &b, true); err != nil {
		return false, err
	}
	return b.Degraded != nil && *b.Degraded, nil
}

// SetDegraded sets the degraded flag and returns the value now in effect.
func (c *Client) SetDegraded(ctx context.Context, degraded bool) (bool, error) {
	var b degradedBody
	if err := c.call(ctx, http.MethodPut, "/admin/degraded", degradedBody{Degraded: &degraded}, &b, true); err != nil {
		return false, err
	}
	return b.Degraded != nil && *b.Degraded, nil
}
