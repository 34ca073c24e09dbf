// Package writer implements the batch writers that drain decision records
// into the lane stores.
//
// Each lane has its own input queue and LaneWriter. The routing engine only
// ever enqueues (Lanes.Record never blocks on I/O); the writer's consume loop
// accumulates a batch that is flushed when full or on the flush ticker.
//
// All writers use append-only semantics (never update, only insert).
package writer
