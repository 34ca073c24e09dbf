// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connected clients, aggregate coherence and stability class
//   - WebSocket message rates by type, broadcast delivery and drops
//   - Liveness evictions and stability transitions
//   - Routing decisions by category and status
//   - Lane record writes and failures
//   - HTTP request counts and latencies
package metrics
