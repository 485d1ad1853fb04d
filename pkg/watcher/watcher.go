package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eternnoir/chunkscribe/pkg/audio"
	"github.com/eternnoir/chunkscribe/pkg/logger"
)

// Watcher re-runs the pipeline for media files created or changed under a
// directory tree. Runs are serialized through a single worker goroutine.
type Watcher struct {
	cfg      Config
	root     string
	exclude  map[string]struct{}
	runner   Runner
	log      *logger.Logger
	watcher  *fsnotify.Watcher
	tracker  *stabilityTracker
	queue    chan batch
	progress ProgressCallback

	statsLock sync.RWMutex
	stats     WatchStats
}

// New creates a watcher for cfg.WatchDir
func New(cfg Config, runner Runner, log *logger.Logger) (*Watcher, error) {
	if cfg.WatchDir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	defaults := DefaultConfig()
	if cfg.StabilityWait <= 0 {
		cfg.StabilityWait = defaults.StabilityWait
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}

	root, err := filepath.Abs(cfg.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	exclude := make(map[string]struct{}, len(cfg.ExcludeDirs))
	for _, dir := range cfg.ExcludeDirs {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			exclude[abs] = struct{}{}
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		root:    root,
		exclude: exclude,
		runner:  runner,
		log:     log.WithComponent("watcher"),
		watcher: fsw,
		tracker: newStabilityTracker(),
		queue:   make(chan batch, cfg.QueueSize),
		stats: WatchStats{
			StartTime: time.Now(),
		},
	}, nil
}

// SetProgressCallback sets a callback for progress updates. Call before Run.
func (w *Watcher) SetProgressCallback(callback ProgressCallback) {
	w.progress = callback
}

// Stats returns a snapshot of the watcher statistics
func (w *Watcher) Stats() WatchStats {
	w.statsLock.RLock()
	defer w.statsLock.RUnlock()

	stats := w.stats
	stats.Pending = w.tracker.Len() + len(w.queue)
	return stats
}

// Run watches until ctx is cancelled or a configuration error stops the
// worker. The fsnotify watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("failed to add watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	processor := newBatchProcessor(w.root, w.runner, w.log, w.handleProgressEvent)
	workerErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		workerErr <- w.processWorker(ctx, processor)
	}()

	if w.cfg.ProcessExisting {
		w.queue <- batch{all: true}
	}

	w.log.Info().
		Str("directory", w.root).
		Dur("stability_wait", w.cfg.StabilityWait).
		Msg("File watcher started")

	err := w.watchLoop(ctx, workerErr)
	cancel()
	close(w.queue)
	wg.Wait()

	w.log.Info().Msg("File watcher stopped")
	return err
}

// watchLoop is the main watch loop
func (w *Watcher) watchLoop(ctx context.Context, workerErr <-chan error) error {
	interval := w.cfg.StabilityWait / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-workerErr:
			return err
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleFileEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("Watcher error")
		case now := <-ticker.C:
			w.dispatch(now)
		}
	}
}

// handleFileEvent handles a file system event
func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	log := w.log.WithField("file", event.Name)

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.tracker.Forget(event.Name)
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) {
				log.Debug().Msg("Directory created")
				if err := w.addTree(event.Name); err != nil {
					log.Warn().Err(err).Msg("Failed to watch new directory")
				}
			}
			return
		}
		if !info.Mode().IsRegular() || audio.Classify(event.Name) == audio.KindUnsupported {
			return
		}
		if w.excluded(filepath.Dir(event.Name)) {
			return
		}
		w.tracker.Touch(event.Name, time.Now())
	}
}

// dispatch queues files that have been stable long enough
func (w *Watcher) dispatch(now time.Time) {
	due := w.tracker.Due(now, w.cfg.StabilityWait)
	if len(due) == 0 {
		return
	}

	for _, path := range due {
		w.reportProgress(&ProgressEvent{
			Type:      EventFound,
			FilePath:  path,
			Message:   "File ready for processing",
			Timestamp: now,
		})
	}

	select {
	case w.queue <- batch{paths: due}:
	default:
		// Worker is behind; retry on a later tick
		for _, path := range due {
			w.tracker.Touch(path, now.Add(-w.cfg.StabilityWait))
		}
		w.log.Warn().Int("files", len(due)).Msg("Worker queue is full, deferring files")
	}
}

// processWorker runs batches one at a time
func (w *Watcher) processWorker(ctx context.Context, processor *batchProcessor) error {
	for b := range w.queue {
		if ctx.Err() != nil {
			continue
		}
		w.statsLock.Lock()
		w.stats.Runs++
		w.statsLock.Unlock()

		if err := processor.Process(ctx, b); err != nil {
			w.log.Error().Err(err).Msg("Stopping watcher")
			return err
		}
	}
	return nil
}

// addTree watches dir and every directory below it. Files already present in
// a newly created directory are tracked too, since their events may have been
// missed before the watch was registered.
func (w *Watcher) addTree(dir string) error {
	isRoot := dir == w.root
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable path")
			return nil
		}
		if d.IsDir() {
			if w.excluded(path) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			return nil
		}
		if !isRoot && d.Type().IsRegular() && audio.Classify(path) != audio.KindUnsupported {
			w.tracker.Touch(path, time.Now())
		}
		return nil
	})
}

func (w *Watcher) excluded(dir string) bool {
	for {
		if _, ok := w.exclude[dir]; ok {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir || len(parent) < len(w.root) {
			return false
		}
		dir = parent
	}
}

// handleProgressEvent updates stats and forwards the event
func (w *Watcher) handleProgressEvent(event *ProgressEvent) {
	w.statsLock.Lock()
	switch event.Type {
	case EventCompleted:
		w.stats.ProcessedCount++
	case EventIncomplete:
		w.stats.IncompleteCount++
	case EventFailed:
		w.stats.FailedCount++
	case EventSkipped:
		w.stats.SkippedCount++
	}
	w.statsLock.Unlock()

	w.reportProgress(event)
}

// reportProgress reports progress if callback is set
func (w *Watcher) reportProgress(event *ProgressEvent) {
	if w.progress != nil {
		w.progress(event)
	}
}
