// Package inbox watches a drop directory for incoming burst folders and
// enqueues merge jobs once a folder has settled.
package inbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"burstmerge/internal/fsutil"
	"burstmerge/internal/pipeline"
)

// jobQueue is the slice of the pipeline the watcher needs.
type jobQueue interface {
	Submit(job pipeline.Job) error
}

// Watcher monitors the inbox directory. Each subdirectory is treated as one
// burst; when no new frames have arrived for the settle window and the
// directory holds enough frames, a merge job is submitted.
type Watcher struct {
	root      string
	settle    time.Duration
	minFrames int
	log       *slog.Logger
	queue     jobQueue

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
	jobSeq int
}

// New creates a watcher over root. Jobs go to queue once a burst settles.
func New(root string, settle time.Duration, minFrames int, queue jobQueue, logger *slog.Logger) (*Watcher, error) {
	if minFrames < 2 {
		minFrames = 2
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create inbox watcher: %w", err)
	}
	return &Watcher{
		root:      root,
		settle:    settle,
		minFrames: minFrames,
		log:       logger,
		queue:     queue,
		watcher:   fw,
		done:      make(chan struct{}),
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Start begins monitoring the inbox root and its existing burst folders.
// Folders that already hold enough frames are scheduled immediately.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("watch inbox %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("scan inbox %s: %w", w.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warn("cannot watch burst folder", "dir", dir, "error", err)
		}
	}

	// Folders already holding frames get a settle timer right away.
	files, err := fsutil.ListRawFiles(w.root)
	if err != nil {
		return fmt.Errorf("scan inbox %s: %w", w.root, err)
	}
	for dir := range fsutil.GroupByDir(files) {
		if dir != w.root {
			w.schedule(dir)
		}
	}
	w.log.Info("inbox watcher started", "root", w.root, "settle", w.settle, "min_frames", w.minFrames)

	go w.processEvents()
	return nil
}

// Stop stops monitoring and cancels pending settle timers.
func (w *Watcher) Stop() error {
	close(w.done)
	w.mu.Lock()
	for dir, t := range w.timers {
		t.Stop()
		delete(w.timers, dir)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("inbox watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	// New burst folders get their own watch so frame writes inside them
	// are visible.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.Warn("cannot watch burst folder", "dir", event.Name, "error", err)
			}
			return
		}
	}

	if !fsutil.IsRawFile(event.Name) || fsutil.IsMergedOutput(event.Name) {
		return
	}
	dir := filepath.Dir(event.Name)
	if dir == w.root {
		// Loose frames at the top level are ignored; a burst is a folder.
		return
	}
	w.schedule(dir)
}

// schedule arms or rearms the settle timer for a burst folder.
func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[dir]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[dir] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, dir)
		w.mu.Unlock()
		w.settled(dir)
	})
}

// settled fires after the settle window. The folder is merged if it still
// exists and holds enough frames.
func (w *Watcher) settled(dir string) {
	frames, err := fsutil.ListRawFiles(dir)
	if err != nil {
		w.log.Warn("cannot list burst folder", "dir", dir, "error", err)
		return
	}
	if len(frames) < w.minFrames {
		w.log.Debug("burst folder below frame minimum", "dir", dir, "frames", len(frames))
		return
	}

	w.mu.Lock()
	w.jobSeq++
	seq := w.jobSeq
	w.mu.Unlock()

	job := pipeline.Job{
		ID:        fmt.Sprintf("watch-%d-%d", time.Now().Unix(), seq),
		Type:      pipeline.JobMerge,
		InputPath: dir,
		Options:   map[string]any{"frames": frames},
	}
	if err := w.queue.Submit(job); err != nil {
		w.log.Error("cannot submit merge job", "dir", dir, "error", err)
		return
	}
	w.log.Info("burst settled, merge queued", "job", job.ID, "dir", dir, "frames", len(frames))
}
