package inbox

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"burstmerge/internal/logging"
	"burstmerge/internal/pipeline"
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []pipeline.Job
}

func (q *captureQueue) Submit(job pipeline.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func writeFrames(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
}

func newTestWatcher(t *testing.T, root string, q *captureQueue) *Watcher {
	t.Helper()
	w, err := New(root, 10*time.Millisecond, 2, q, logging.New("error", "text"))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestSettledSubmitsMergeJob(t *testing.T) {
	root := t.TempDir()
	burstDir := filepath.Join(root, "burst01")
	writeFrames(t, burstDir, "frame_b.dng", "frame_a.dng", "frame_c.dng")

	q := &captureQueue{}
	w := newTestWatcher(t, root, q)

	w.settled(burstDir)

	if len(q.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(q.jobs))
	}
	job := q.jobs[0]
	if job.Type != pipeline.JobMerge {
		t.Fatalf("expected merge job, got %s", job.Type)
	}
	if job.InputPath != burstDir {
		t.Fatalf("expected input %s, got %s", burstDir, job.InputPath)
	}
	frames, _ := job.Options["frames"].([]string)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if filepath.Base(frames[0]) != "frame_a.dng" {
		t.Fatalf("expected sorted frames, got %v", frames)
	}
}

func TestSettledSkipsBelowFrameMinimum(t *testing.T) {
	root := t.TempDir()
	burstDir := filepath.Join(root, "burst01")
	writeFrames(t, burstDir, "only.dng")

	q := &captureQueue{}
	w := newTestWatcher(t, root, q)

	w.settled(burstDir)

	if len(q.jobs) != 0 {
		t.Fatalf("expected no jobs below minimum, got %d", len(q.jobs))
	}
}

func TestSettledIgnoresMergedOutputs(t *testing.T) {
	root := t.TempDir()
	burstDir := filepath.Join(root, "burst01")
	writeFrames(t, burstDir, "frame_a.dng", "burst01_merged.dng")

	q := &captureQueue{}
	w := newTestWatcher(t, root, q)

	w.settled(burstDir)

	if len(q.jobs) != 0 {
		t.Fatalf("expected merged output to not count as a frame, got %d jobs", len(q.jobs))
	}
}

func TestWatcherQueuesAfterSettleWindow(t *testing.T) {
	root := t.TempDir()
	burstDir := filepath.Join(root, "burst01")
	writeFrames(t, burstDir, "frame_a.dng", "frame_b.dng")

	q := &captureQueue{}
	w := newTestWatcher(t, root, q)
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.count() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected merge job after settle window")
}
