// ABOUTME: Persistence for the usage record
// ABOUTME: JSON file store with atomic replace, plus an in-memory store
package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Record is the persisted usage state. BlockedSince is epoch milliseconds
// and is present only while a cooldown is pending or enforced.
type Record struct {
	UsesCount    int    `json:"uses_count"`
	BlockedSince *int64 `json:"blocked_since_ms,omitempty"`
}

// Store loads and saves the usage record
type Store interface {
	Load() (Record, error)
	Save(Record) error
}

// FileStore keeps the record as JSON on disk
type FileStore struct {
	path string
}

// NewFileStore creates a store at path, or at DefaultPath when path is empty
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath()
	}
	return &FileStore{path: path}
}

// Path returns the file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record. A missing file is an empty record.
func (s *FileStore) Load() (Record, error) {
	var rec Record

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("failed to read usage file: %w", err)
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse usage file %s: %w", s.path, err)
	}
	if rec.UsesCount < 0 {
		rec.UsesCount = 0
	}
	return rec, nil
}

// Save writes the record to a temp file and renames it into place
func (s *FileStore) Save(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create usage directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write usage file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace usage file: %w", err)
	}
	return nil
}

// DefaultPath returns the platform-specific usage file path
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "mentor-go", "usage.json")
}

// MemoryStore keeps the record in memory
type MemoryStore struct {
	mu  sync.Mutex
	rec Record
}

// NewMemoryStore creates a store holding rec
func NewMemoryStore(rec Record) *MemoryStore {
	return &MemoryStore{rec: copyRecord(rec)}
}

func (s *MemoryStore) Load() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecord(s.rec), nil
}

func (s *MemoryStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = copyRecord(rec)
	return nil
}

func copyRecord(rec Record) Record {
	if rec.BlockedSince != nil {
		since := *rec.BlockedSince
		rec.BlockedSince = &since
	}
	return rec
}
