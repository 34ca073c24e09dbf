// Package hub implements the real-time coherence hub.
//
// The hub owns the connection registry, the field aggregator and the
// subscription broadcaster. Every state change runs under the hub mutex as
// mutation, then recompute, then broadcast, so observers never see a field
// state older than the mutation that caused it.
//
// Goroutines:
//   - one reader per connection (the HTTP handler goroutine)
//   - one writer per connection draining its outbound queue
//   - three tickers in Run: phase, aggregate and liveness sweep
package hub
