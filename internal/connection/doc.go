// Package connection is a WebSocket client for the hub.
//
// The client:
//   - dials /ws and surfaces every frame with its type and receive time
//   - sends typed inbound frames (heartbeat, subscribe, coherence_update, ...)
//   - keeps the connection alive with periodic heartbeat frames
//   - reports the connection stale when nothing arrives for PingTimeout
package connection
