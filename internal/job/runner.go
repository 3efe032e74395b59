package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Processor runs one job end to end. The render pipeline implements it;
// the indirection keeps this package free of pipeline imports.
type Processor interface {
	Process(ctx context.Context, j *RenderJob) error
}

// Runner polls the queue and hands jobs to the processor one at a time.
type Runner struct {
	repo         Repository
	processor    Processor
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewRunner(repo Repository, processor Processor, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		processor:    processor,
		logger:       logger,
		pollInterval: 2 * time.Second,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Start blocks, polling for queued jobs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Cancel aborts the named job if it is currently being processed.
// Queued jobs are cancelled by marking them directly.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	cancel, active := r.cancels[jobID]
	r.mu.Unlock()

	if active {
		cancel()
		return nil
	}

	j, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job not found")
	}
	if IsTerminal(j.Status) {
		return fmt.Errorf("job already %s", j.Status)
	}
	return r.repo.UpdateJobStatus(ctx, jobID, StatusError, "cancelled")
}

func (r *Runner) processNextJob(ctx context.Context) {
	j, err := r.repo.NextQueuedJob(ctx)
	if err != nil {
		r.logger.Error("failed to poll job queue", "error", err)
		return
	}
	if j == nil {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[j.ID] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.cancels, j.ID)
		r.mu.Unlock()
		cancel()
	}()

	r.logger.Info("processing job", "job_id", j.ID)
	if err := r.processor.Process(jobCtx, j); err != nil {
		r.logger.Error("job failed", "job_id", j.ID, "error", err)
	}
}
