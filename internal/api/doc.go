// Package api is a REST client for the hub's HTTP surface.
//
// Endpoints:
//   - POST /route
//   - GET /field
//   - GET /health
//   - GET, PUT /admin/degraded (signed when credentials are set)
package api
