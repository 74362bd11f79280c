package cli

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"burstmerge/internal/config"
	"burstmerge/internal/pipeline"
)

// fakePipeline satisfies pipelineClient and completes each submitted job
// immediately with a canned result.
type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	submitErr error
	resultErr error
	resCh     chan pipeline.Result
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{resCh: make(chan pipeline.Result, 8)}
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.jobs = append(f.jobs, job)
	f.resCh <- pipeline.Result{Job: job, Error: f.resultErr, Meta: map[string]any{"frames": 3}}
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	return f.resCh, func() {}
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()
	fake := newFakePipeline()
	root := &Root{
		pipeline: fake,
		cfg:      testConfig(),
		log:      slog.Default(),
	}
	return root, fake
}

func testConfig() *config.Config {
	return &config.Config{
		Processing: config.Processing{ParallelJobs: 2, LaneWidth: 32},
		Paths:      config.Paths{Inbox: "./inbox", DefaultOutput: "./output"},
		Merge:      config.Merge{Mode: "uniform", ExtrapolateHighlights: true},
		Watch:      config.Watch{SettleSeconds: 3, MinFrames: 2},
	}
}

func TestMergeCommandSubmitsJob(t *testing.T) {
	root, fake := newTestRoot(t)
	dir := t.TempDir()

	cmd := newMergeCmd(root)
	cmd.SetArgs([]string{dir, "--mode", "exposure", "--highlight-half-width", "6", "--no-hot-pixels"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("merge command failed: %v", err)
	}

	if len(fake.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(fake.jobs))
	}
	job := fake.jobs[0]
	if job.Type != pipeline.JobMerge {
		t.Fatalf("expected merge job, got %s", job.Type)
	}
	if job.InputPath != dir {
		t.Fatalf("expected input %s, got %s", dir, job.InputPath)
	}
	if job.Options["mode"] != "exposure" {
		t.Fatalf("expected exposure mode, got %v", job.Options["mode"])
	}
	if job.Options["highlightHalfWidth"] != 6 {
		t.Fatalf("expected half-width 6, got %v", job.Options["highlightHalfWidth"])
	}
	if job.Options["noHotPixels"] != true {
		t.Fatalf("expected hot pixels disabled")
	}
}

func TestMergeCommandPassesExplicitFrames(t *testing.T) {
	root, fake := newTestRoot(t)

	cmd := newMergeCmd(root)
	cmd.SetArgs([]string{"/bursts/a/f1.dng", "/bursts/a/f2.dng", "/bursts/a/f3.dng"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("merge command failed: %v", err)
	}

	frames, _ := fake.jobs[0].Options["frames"].([]string)
	if len(frames) != 3 {
		t.Fatalf("expected 3 entries in frames option, got %v", frames)
	}
	if fake.jobs[0].InputPath != "/bursts/a" {
		t.Fatalf("expected input derived from first frame, got %s", fake.jobs[0].InputPath)
	}
}

func TestInspectCommandSubmitsJob(t *testing.T) {
	root, fake := newTestRoot(t)

	cmd := newInspectCmd(root)
	cmd.SetArgs([]string{"/photos/frame.dng"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("inspect command failed: %v", err)
	}

	if len(fake.jobs) != 1 || fake.jobs[0].Type != pipeline.JobInspect {
		t.Fatalf("expected one inspect job, got %+v", fake.jobs)
	}
}

func TestEnqueueAndWaitReturnsJobError(t *testing.T) {
	root, fake := newTestRoot(t)
	fake.resultErr = errors.New("merge blew up")

	job := pipeline.Job{ID: newID("merge"), Type: pipeline.JobMerge, InputPath: "/x"}
	err := root.enqueueAndWait(context.Background(), job)
	if err == nil || !strings.Contains(err.Error(), "merge blew up") {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestEnqueueAndWaitReturnsSubmitError(t *testing.T) {
	root, fake := newTestRoot(t)
	fake.submitErr = errors.New("queue full")

	job := pipeline.Job{ID: newID("merge"), Type: pipeline.JobMerge, InputPath: "/x"}
	if err := root.enqueueAndWait(context.Background(), job); err == nil {
		t.Fatal("expected submit error, got nil")
	}
}

func TestNewIDHasPrefix(t *testing.T) {
	id := newID("merge")
	if !strings.HasPrefix(id, "merge-") {
		t.Fatalf("expected merge prefix, got %s", id)
	}
	if id == newID("merge") {
		t.Fatalf("expected distinct ids")
	}
}
