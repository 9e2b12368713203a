package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// AdminAlertStore records which watch targets have already produced an
// admin alert, keyed by identifier. Entries are never expired automatically;
// a misconfigured space warns exactly once until an operator clears the
// document by hand.
type AdminAlertStore struct {
	mu     sync.Mutex
	path   string
	warned map[string]bool
	logger *slog.Logger
}

// OpenAdminAlerts loads the warned-set document at path, starting empty
// when the file is missing or unreadable.
func OpenAdminAlerts(path string, logger *slog.Logger) *AdminAlertStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AdminAlertStore{
		path:   path,
		warned: make(map[string]bool),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("failed to read admin alert document, starting empty",
				"path", path, "error", err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.warned); err != nil {
		logger.Error("failed to parse admin alert document, starting empty",
			"path", path, "error", err)
		s.warned = make(map[string]bool)
	}
	return s
}

// Warned reports whether id has already been alerted on.
func (s *AdminAlertStore) Warned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warned[id]
}

// MarkWarned records id as alerted and flushes.
func (s *AdminAlertStore) MarkWarned(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[id] {
		return
	}
	s.warned[id] = true
	if err := writeJSONDocument(s.path, s.warned); err != nil {
		s.logger.Error("failed to persist admin alert document",
			"path", s.path, "error", err)
	}
}
