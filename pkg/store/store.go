// Package store persists last-known entity state as flat JSON documents,
// one document per source. Write volume is tens of keys at sub-minute
// cadence, so every mutation rewrites the whole document synchronously.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

// Update describes a merge into an entity record. Status is always written.
// ThreadAnchor is written only when non-empty and Notified only when true:
// neither field is ever cleared by an Update, which is what preserves thread
// continuity across failed sends.
type Update struct {
	Status       string
	ThreadAnchor string
	Notified     bool
	Title        string
	URL          string
	Support      *float64
}

// Store is a durable key-value map from composite entity key to record.
// It is scoped to one source; within a source entity processing is
// sequential, but the mutex keeps the state/state-dump CLI paths safe.
type Store struct {
	mu      sync.RWMutex
	path    string
	records map[string]watch.Record
	logger  *slog.Logger
}

// Open loads the document at path, creating an empty store when the file
// does not exist. A corrupt or unreadable document is logged and replaced
// by an empty store rather than failing startup; the next successful write
// reconciles the file.
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:    path,
		records: make(map[string]watch.Record),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("failed to read state document, starting empty",
				"path", path, "error", err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		logger.Error("failed to parse state document, starting empty",
			"path", path, "error", err)
		s.records = make(map[string]watch.Record)
		return s
	}

	logger.Info("loaded state document", "path", path, "entities", len(s.records))
	return s
}

// Get returns the record for key and whether it exists.
func (s *Store) Get(key string) (watch.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Upsert merges u into the record for key, creating the record if absent,
// and flushes the document before returning. A flush failure is logged and
// the in-memory state stays authoritative for the running process.
func (s *Store) Upsert(key string, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key]
	rec.Status = u.Status
	if u.ThreadAnchor != "" {
		rec.ThreadAnchor = u.ThreadAnchor
	}
	if u.Notified {
		rec.Notified = true
	}
	if u.Title != "" {
		rec.Title = u.Title
	}
	if u.URL != "" {
		rec.URL = u.URL
	}
	if u.Support != nil {
		rec.Support = u.Support
	}
	s.records[key] = rec

	s.flushLocked()
}

// Remove deletes the record for key, if present, and flushes.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return
	}
	delete(s.records, key)
	s.flushLocked()
}

// Count returns the number of tracked entities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns a consistent snapshot of every record at call time.
func (s *Store) All() map[string]watch.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]watch.Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

func (s *Store) flushLocked() {
	if err := writeJSONDocument(s.path, s.records); err != nil {
		s.logger.Error("failed to persist state document",
			"path", s.path, "error", err)
	}
}

// writeJSONDocument writes v to path via a temp file and rename so a crash
// mid-write never leaves a truncated document behind.
func writeJSONDocument(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state document: %w", err)
	}
	return nil
}
