// Package watch runs the sync engine continuously, re-processing the
// results tree whenever snapshot files land in it.
//
// The watcher:
// 1. Performs a full sync pass on startup
// 2. Watches the results root, student and run directories for changes
// 3. Debounces rapid file writes into a single sync pass
// 4. Handles graceful shutdown
//
// A sync pass is always a full Process over the results root; the
// processed-file ledger makes re-processing already synced files a no-op,
// so only the changed snapshots do real work.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/avigny/cartable/internal/engine"
)

// Config holds configuration for the watcher.
type Config struct {
	// DebounceInterval is how long to wait after the last observed change
	// before starting a sync pass. The crawler writes the three snapshot
	// files of a run one after another; debouncing batches them into one
	// pass.
	DebounceInterval time.Duration

	// RescanInterval is how often to run a sync pass regardless of events,
	// as a safety net for missed notifications.
	RescanInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		RescanInterval:   5 * time.Minute,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Watcher ties a filesystem watcher to the sync engine.
type Watcher struct {
	engine      *engine.Engine
	resultsRoot string
	config      *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event timestamp
	changeQueueMu sync.Mutex

	syncMu sync.Mutex // one sync pass at a time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher over the given results root.
//
// Use Start() to begin watching and syncing.
func New(eng *engine.Engine, resultsRoot string) (*Watcher, error) {
	return NewWithConfig(eng, resultsRoot, DefaultConfig())
}

// NewWithConfig creates a watcher with custom configuration.
func NewWithConfig(eng *engine.Engine, resultsRoot string, config *Config) (*Watcher, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if resultsRoot == "" {
		return nil, fmt.Errorf("resultsRoot cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		engine:      eng,
		resultsRoot: resultsRoot,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the watcher's operation.
//
// This blocks until ctx is cancelled or an error occurs.
func (w *Watcher) Start(ctx context.Context) error {
	w.config.Logger.Println("Starting watcher")

	w.syncPass(ctx)

	if err := w.addWatches(); err != nil {
		return err
	}
	w.config.Logger.Printf("Watching: %s", w.resultsRoot)

	w.wg.Add(3)
	go w.watchFileEvents()
	go w.processChangeQueue(ctx)
	go w.periodicRescan(ctx)

	select {
	case <-ctx.Done():
		w.config.Logger.Println("Shutdown signal received")
		return w.Stop()
	case <-w.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	w.config.Logger.Println("Stopping watcher")

	w.cancel()

	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}

	w.wg.Wait()

	w.config.Logger.Println("Watcher stopped")
	return nil
}

// addWatches registers the results root plus every existing student and
// run directory. New directories are picked up from create events.
func (w *Watcher) addWatches() error {
	if err := w.watcher.Add(w.resultsRoot); err != nil {
		return fmt.Errorf("failed to watch results root: %w", err)
	}

	students, err := os.ReadDir(w.resultsRoot)
	if err != nil {
		return fmt.Errorf("failed to read results root: %w", err)
	}
	for _, st := range students {
		if !st.IsDir() {
			continue
		}
		studentDir := filepath.Join(w.resultsRoot, st.Name())
		if err := w.watcher.Add(studentDir); err != nil {
			w.config.Logger.Printf("Warning: failed to watch %s: %v", studentDir, err)
			continue
		}

		runs, err := os.ReadDir(studentDir)
		if err != nil {
			w.config.Logger.Printf("Warning: failed to read %s: %v", studentDir, err)
			continue
		}
		for _, run := range runs {
			if !run.IsDir() {
				continue
			}
			runDir := filepath.Join(studentDir, run.Name())
			if err := w.watcher.Add(runDir); err != nil {
				w.config.Logger.Printf("Warning: failed to watch %s: %v", runDir, err)
			}
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// A created directory is a new student or run directory; watch
			// it so the snapshot files written into it are seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.config.Logger.Printf("Warning: failed to watch %s: %v", event.Name, err)
					}
					continue
				}
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a file event for debounced processing.
func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	w.changeQueue[path] = time.Now()
}

// processChangeQueue triggers a sync pass once queued changes have been
// quiet for the debounce interval.
func (w *Watcher) processChangeQueue(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			if w.drainSettled() {
				w.syncPass(ctx)
			}
		}
	}
}

// drainSettled clears and reports queued changes that have been quiet for
// at least the debounce interval. A queue with only fresh entries is left
// alone so a burst of writes coalesces into one pass.
func (w *Watcher) drainSettled() bool {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	if len(w.changeQueue) == 0 {
		return false
	}

	now := time.Now()
	for _, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			return false
		}
	}

	w.config.Logger.Printf("Processing %d queued changes", len(w.changeQueue))
	w.changeQueue = make(map[string]time.Time)
	return true
}

// periodicRescan runs a sync pass on a fixed interval as a safety net.
func (w *Watcher) periodicRescan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.syncPass(ctx)
		}
	}
}

// syncPass runs one engine pass over the results root.
func (w *Watcher) syncPass(ctx context.Context) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	sum, err := w.engine.Process(ctx, w.resultsRoot)
	if err != nil {
		w.config.Logger.Printf("Sync pass failed: %v", err)
		return
	}
	w.config.Logger.Printf("Sync pass complete in %v: %d courses in/%d up, %d homework in/%d up, %d reaped, %d errors",
		sum.Elapsed.Round(time.Millisecond),
		sum.CoursesInserted, sum.CoursesUpdated,
		sum.HomeworkInserted, sum.HomeworkUpdated,
		sum.Reaped, sum.Errors)
}
