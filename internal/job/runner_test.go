package job

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProcessor struct {
	called atomic.Int32
	fn     func(ctx context.Context, j *RenderJob) error
}

func (f *fakeProcessor) Process(ctx context.Context, j *RenderJob) error {
	f.called.Add(1)
	if f.fn != nil {
		return f.fn(ctx, j)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunnerProcessesQueuedJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	j := newTestJob()
	if err := repo.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	proc := &fakeProcessor{
		fn: func(ctx context.Context, got *RenderJob) error {
			if got.ID != j.ID {
				t.Errorf("processed wrong job: %s", got.ID)
			}
			return repo.UpdateJobStatus(ctx, got.ID, StatusDone, "")
		},
	}
	runner := NewRunner(repo, proc, testLogger())

	runner.processNextJob(ctx)

	if proc.called.Load() != 1 {
		t.Fatalf("processor called %d times, want 1", proc.called.Load())
	}
	// A finished job must not be picked up again.
	runner.processNextJob(ctx)
	if proc.called.Load() != 1 {
		t.Errorf("processor re-ran a terminal job")
	}
}

func TestRunnerEmptyQueueIsNoop(t *testing.T) {
	repo := setupRepo(t)
	proc := &fakeProcessor{}
	runner := NewRunner(repo, proc, testLogger())

	runner.processNextJob(context.Background())
	if proc.called.Load() != 0 {
		t.Errorf("processor called on empty queue")
	}
}

func TestRunnerPauseResume(t *testing.T) {
	repo := setupRepo(t)
	runner := NewRunner(repo, &fakeProcessor{}, testLogger())

	if runner.IsPaused() {
		t.Error("runner starts paused")
	}
	runner.Pause()
	if !runner.IsPaused() {
		t.Error("Pause did not take")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("Resume did not take")
	}
}

func TestRunnerStartStopsOnContextCancel(t *testing.T) {
	repo := setupRepo(t)
	runner := NewRunner(repo, &fakeProcessor{}, testLogger())
	runner.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	// Wait for the loop to come up, then cancel.
	deadline := time.After(time.Second)
	for !runner.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("runner never started")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
	if runner.IsRunning() {
		t.Error("IsRunning still true after stop")
	}
}

func TestCancelActiveJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	j := newTestJob()
	if err := repo.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	proc := &fakeProcessor{
		fn: func(jobCtx context.Context, got *RenderJob) error {
			close(started)
			<-jobCtx.Done()
			return repo.UpdateJobStatus(context.Background(), got.ID, StatusError, "cancelled")
		},
	}
	runner := NewRunner(repo, proc, testLogger())

	done := make(chan struct{})
	go func() {
		runner.processNextJob(ctx)
		close(done)
	}()

	<-started
	if err := runner.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancelled job never returned")
	}

	got, _ := repo.GetJob(ctx, j.ID)
	if got.Status != StatusError || got.ErrorMessage != "cancelled" {
		t.Errorf("job after cancel: %+v", got)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	j := newTestJob()
	if err := repo.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(repo, &fakeProcessor{}, testLogger())
	if err := runner.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, _ := repo.GetJob(ctx, j.ID)
	if got.Status != StatusError || got.ErrorMessage != "cancelled" {
		t.Errorf("queued job after cancel: %+v", got)
	}
}

func TestCancelTerminalJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	j := newTestJob()
	if err := repo.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	repo.UpdateJobStatus(ctx, j.ID, StatusDone, "")

	runner := NewRunner(repo, &fakeProcessor{}, testLogger())
	if err := runner.Cancel(ctx, j.ID); err == nil {
		t.Error("expected error cancelling a done job")
	}
}
