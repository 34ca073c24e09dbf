// Package fieldlog periodically records field-state snapshots to the
// coherence_logs table or a JSONL file.
package fieldlog
