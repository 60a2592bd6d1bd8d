package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists the full action collection. Save replaces the previous
// contents wholesale; a reader never observes a half-written collection.
type Store interface {
	// Load returns the persisted records. A corrupted or missing store
	// yields an empty collection, never an error that would block startup.
	Load() ([]*ActionRecord, error)

	// Save atomically replaces the persisted collection.
	Save(records []*ActionRecord) error
}

// FileStore keeps the queue as a single JSON array on disk.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates or opens a file-backed store in dir.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.With("component", "file-store")}, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, "actions.json")
}

// Load reads the persisted queue. Corruption is logged and treated as an
// empty queue so a damaged file cannot block startup.
func (s *FileStore) Load() ([]*ActionRecord, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logger.Warn("queue file unreadable, starting empty", "path", s.path(), "error", err)
		return nil, nil
	}

	var records []*ActionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("queue file corrupted, starting empty", "path", s.path(), "error", err)
		return nil, nil
	}
	return records, nil
}

// Save writes the full collection via a temp file and rename so a crashed
// write never leaves a partial queue behind. Compact marshalling keeps the
// raw payload bytes exactly as they were enqueued.
func (s *FileStore) Save(records []*ActionRecord) error {
	if records == nil {
		records = []*ActionRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}
