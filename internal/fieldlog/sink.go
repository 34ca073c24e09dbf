package fieldlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rickgao/coherence-hub/internal/database"
	"github.com/rickgao/coherence-hub/internal/model"
)

// Entry is one logged snapshot.
type Entry struct {
	InstanceID         string          `json:"instanceId"`
	AggregateCoherence float64         `json:"aggregateCoherence"`
	PeriodicPhase      float64         `json:"periodicPhase"`
	ActiveClients      int             `json:"activeClients"`
	Stability          model.Stability `json:"stability"`
	Idle               bool            `json:"idle"`
	LoggedAt           time.Time       `json:"loggedAt"`
}

// EntryFrom builds an Entry from a field state.
func EntryFrom(instanceID string, fs model.FieldState, at time.Time) Entry {
	return Entry{
		InstanceID:         instanceID,
		AggregateCoherence: fs.AggregateCoherence,
		PeriodicPhase:      fs.PeriodicPhase,
		ActiveClients:      fs.ActiveClientCount,
		Stability:          fs.Stability,
		Idle:               fs.Idle,
		LoggedAt:           at,
	}
}

// Sink persists snapshot entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Close() error
}

// FileSink appends entries as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenFileSink opens path for appending, creating parent directories.
func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create field log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open field log: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

// Path returns the file path.
func (s *FileSink) Path() string { return s.path }

// Write appends e as one line.
func (s *FileSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}

	w := bufio.NewWriter(s.f)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode field log entry: %w", err)
	}
	return w.Flush()
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

const insertSQL = `INSERT INTO ` + database.CoherenceLogsTable + `
	(instance_id, aggregate_coherence, periodic_phase, active_clients, stability, idle, logged_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// PGSink inserts entries into coherence_logs.
type PGSink struct {
	db database.Execer
}

// NewPGSink creates a sink over db.
func NewPGSink(db database.Execer) *PGSink {
	return &PGSink{db: db}
}

// Write inserts one row.
func (s *PGSink) Write(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, insertSQL,
		e.InstanceID,
		e.AggregateCoherence,
		e.PeriodicPhase,
		e.ActiveClients,
		string(e.Stability),
		e.Idle,
		e.LoggedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert coherence log: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PGSink) Close() error { return nil }
