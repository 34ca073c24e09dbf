// Package field computes the shared field state: the periodic phase signal,
// the aggregate coherence of all live clients, and the advisory stability
// class of their samples.
package field
