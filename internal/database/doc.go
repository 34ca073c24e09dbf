// Package database provides the PostgreSQL connection pool and schema used by
// the postgres lane driver and the field-state log.
//
// Tables:
//   - truth_lane: ROUTED truth-sealed verify decisions
//   - journal_lane: every other routing decision
//   - coherence_logs: periodic field-state snapshots
//
// All tables are append-only (never update, only insert). Timestamps are
// stored as BIGINT unix microseconds.
package database
