// Package httpapi serves the hub's HTTP surface.
//
// Routes:
//   - POST /route: synchronous routing decision (rate limited per client)
//   - GET /field: current field state
//   - GET /health: liveness, version, client count and lane writer stats
//   - GET, PUT /admin/degraded: process-wide degraded flag (signed when a
//     public key is configured)
//   - GET /metrics: Prometheus metrics
//   - GET /ws: WebSocket upgrade into the hub
package httpapi
