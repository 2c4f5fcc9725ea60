package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher polls an agent descriptor directory and keeps a registry in sync
// with it: new and changed YAML files are (re)loaded, deleted files unload
// their agent. Polling keeps the watcher portable; descriptor directories
// are small.
type Watcher struct {
	mu sync.Mutex

	dir      string
	interval time.Duration
	registry *Registry
	logger   *zap.Logger

	running  bool
	stopChan chan struct{}

	// mod times of descriptor files seen in the last scan
	lastModTimes map[string]time.Time
	// descriptor path -> agent id loaded from it
	owners map[string]string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher creates a watcher over the given descriptor directory.
func NewWatcher(dir string, reg *Registry, opts ...WatcherOption) (*Watcher, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("stat agent directory %s: %w", dir, err)
	}
	w := &Watcher{
		dir:          dir,
		interval:     5 * time.Second,
		registry:     reg,
		logger:       zap.NewNop(),
		stopChan:     make(chan struct{}),
		lastModTimes: make(map[string]time.Time),
		owners:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "registry-watcher"))
	return w, nil
}

// Start scans once, then polls until the context ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	w.scan()
	go w.pollLoop(ctx)

	w.logger.Info("descriptor watcher started",
		zap.String("dir", w.dir),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop stops the watcher. Stopping a stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("descriptor watcher stopped")
}

// IsRunning reports whether the watcher is polling.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan diffs the directory against the last scan and applies changes to
// the registry. A malformed descriptor logs and leaves the previous
// version live; it never unloads a working agent.
func (w *Watcher) scan() {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("agent directory scan failed", zap.String("dir", w.dir), zap.Error(err))
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		seen[path] = true

		lastMod, existed := w.lastModTimes[path]
		if existed && !info.ModTime().After(lastMod) {
			continue
		}
		w.lastModTimes[path] = info.ModTime()

		d, err := w.registry.LoadFile(path)
		if err != nil {
			w.logger.Warn("descriptor reload failed",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		w.owners[path] = d.ID
		w.logger.Info("descriptor reloaded",
			zap.String("path", path),
			zap.String("agent_id", d.ID))
	}

	for path := range w.lastModTimes {
		if seen[path] {
			continue
		}
		delete(w.lastModTimes, path)
		if id, ok := w.owners[path]; ok {
			delete(w.owners, path)
			w.registry.Remove(id)
		}
	}
}
