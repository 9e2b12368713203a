package watchlist

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a watchlist document for changes and triggers a reload
// callback. The parent directory is watched rather than the file itself
// because editors and sync tools replace files via rename.
type Watcher struct {
	path         string
	watcher      *fsnotify.Watcher
	reloadFunc   func(string) error
	logger       *slog.Logger
	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a watcher for path. reloadFunc receives the path and
// returns an error when the new document is unusable; the previous document
// stays in effect in that case.
func NewWatcher(path string, reloadFunc func(string) error, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:         path,
		watcher:      fsw,
		reloadFunc:   reloadFunc,
		logger:       logger,
		stopCh:       make(chan struct{}),
		debounceTime: time.Second,
	}, nil
}

// Start begins watching. It is a no-op when already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info("watchlist watcher started", "path", w.path)
	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher and releases its inotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := func() {
		if err := w.reloadFunc(w.path); err != nil {
			w.logger.Error("watchlist reload failed, keeping previous document",
				"path", w.path, "error", err)
			return
		}
		w.logger.Info("watchlist reloaded", "path", w.path)
	}

	var reloadCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce rapid successive writes into one reload.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.debounceTime)
			reloadCh = debounce.C

		case <-reloadCh:
			reloadCh = nil
			reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watchlist watcher error", "error", err)

		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
