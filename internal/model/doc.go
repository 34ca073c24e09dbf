// Package model defines shared data types used across the coherence hub.
//
// Conventions:
//   - Coherence and provenance scores: float64 in [0, 1]
//   - Phases: radians in [0, 2π)
//   - Timestamps: time.Time in UTC on the Go side, unix milliseconds on the wire
package model
