package lane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rickgao/coherence-hub/internal/model"
)

// FileStore appends records as JSON lines to a single file.
type FileStore struct {
	lane model.Lane
	path string

	mu   sync.Mutex
	file *os.File
}

// FilePath returns the JSONL file used for lane l under dir.
func FilePath(dir string, l model.Lane) string {
	return filepath.Join(dir, string(l)+".jsonl")
}

// OpenFileStore opens (creating if needed) the JSONL file for lane l in dir.
func OpenFileStore(dir string, l model.Lane) (*FileStore, error) {
	if l != model.LaneTruth && l != model.LaneJournal {
		return nil, fmt.Errorf("unknown lane %q", l)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lane dir: %w", err)
	}

	path := FilePath(dir, l)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s lane: %w", l, err)
	}
	return &FileStore{lane: l, path: path, file: f}, nil
}

// Lane returns the lane this store accepts.
func (s *FileStore) Lane() model.Lane { return s.lane }

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Append writes records in order and syncs the file.
func (s *FileStore) Append(_ context.Context, records []Record) error {
	if err := checkLane(s.lane, records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}

	w := bufio.NewWriter(s.file)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %s: %w", r.RequestID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s lane: %w", s.lane, err)
	}
	return s.file.Sync()
}

// Close closes the backing file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
