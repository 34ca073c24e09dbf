// Package lane implements the two append-only decision stores.
//
// The truth lane only ever receives ROUTED truth-sealed verify decisions; the
// journal lane receives every other decision. The stores are physically
// separate (distinct files or distinct tables) and a store rejects records
// addressed to the other lane.
//
// Drivers:
//   - file: one JSONL file per lane, opened O_APPEND
//   - postgres: truth_lane and journal_lane tables, inserted with pgx.Batch
package lane
