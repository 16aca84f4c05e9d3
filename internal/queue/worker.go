package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sevigo/repo-pulse/internal/core"
)

// workerPool consumes one named queue with a fixed number of goroutines. Each
// claimed job runs in exactly one worker at a time; concurrency across
// different jobs is bounded by the pool size.
type workerPool struct {
	queue   string
	workers int
	manager *Manager
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// StartWorkers launches a worker pool for the named queue. If workers is 0 or
// negative, it defaults to 1.
func (m *Manager) StartWorkers(ctx context.Context, queue string, workers int) {
	if workers <= 0 {
		workers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)
	pool := &workerPool{
		queue:   queue,
		workers: workers,
		manager: m,
		logger:  m.logger.With("queue", queue),
		cancel:  cancel,
	}
	m.pools = append(m.pools, pool)

	for i := range workers {
		pool.wg.Add(1)
		go pool.run(poolCtx, i)
	}
	m.logger.Info("queue workers started", "queue", queue, "workers", workers)
}

// Stop cancels all worker pools and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	m.logger.Info("stopping queue workers, waiting for in-flight jobs")
	for _, pool := range m.pools {
		pool.cancel()
	}
	for _, pool := range m.pools {
		pool.wg.Wait()
	}
	m.logger.Info("all queue workers stopped")
}

// run is the poll-claim-process loop of a single worker.
func (p *workerPool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Info("starting worker", "id", workerID)

	ticker := time.NewTicker(p.manager.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down worker", "id", workerID)
			return
		case <-ticker.C:
		}

		// Drain everything due before going back to sleep.
		for {
			job, found, err := p.manager.store.ClaimNext(ctx, p.queue)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Store errors are queue-level failures, not job failures:
				// log and back off rather than burning a job's attempts.
				p.logger.Error("failed to claim job", "worker_id", workerID, "error", err)
				break
			}
			if !found {
				break
			}
			p.process(ctx, workerID, job)
		}
	}
}

// process executes one claimed job and records the terminal transition.
func (p *workerPool) process(ctx context.Context, workerID int, job *core.Job) {
	logger := p.logger.With("worker_id", workerID, "job_id", job.ID, "type", job.Type)
	logger.Info("worker processing job", "attempt", job.Attempts, "max_attempts", job.MaxAttempts)

	processor, ok := p.manager.processors[job.Type]
	if !ok {
		// No processor will ever handle this type; retrying is pointless.
		logger.Error("no processor registered for job type")
		p.finishFailed(ctx, logger, job, nil, fmt.Sprintf("no processor registered for type %q", job.Type))
		return
	}

	report := func(ctx context.Context, percent int, message string) error {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		return p.manager.store.UpdateProgress(ctx, job.ID, percent, message)
	}

	result, err := p.runProcessor(ctx, processor, job, report)

	switch {
	case err == nil && (result == nil || result.Success):
		if result == nil {
			result = &core.JobResult{Success: true, Message: "completed"}
		}
		if markErr := p.manager.store.MarkCompleted(ctx, job.ID, result); markErr != nil {
			logger.Error("failed to mark job completed", "error", markErr)
			p.release(ctx, logger, job.ID)
			return
		}
		logger.Info("job completed", "message", result.Message)

	case err == nil:
		// Processor reported a structured failure without raising: treat it
		// like an error for the retry policy.
		p.retryOrFail(ctx, logger, job, result, result.Error)

	default:
		p.retryOrFail(ctx, logger, job, result, err.Error())
	}
}

// runProcessor invokes the processor with panic recovery: a panicking job must
// not take its worker down with it.
func (p *workerPool) runProcessor(ctx context.Context, processor core.Processor, job *core.Job, report core.ProgressFn) (result *core.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor panicked",
				"job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return processor.Process(ctx, job, report)
}

func (p *workerPool) retryOrFail(ctx context.Context, logger *slog.Logger, job *core.Job, result *core.JobResult, errMsg string) {
	if job.Attempts < job.MaxAttempts {
		delay := p.manager.backoffDelay(job.Attempts)
		logger.Warn("job failed, scheduling retry",
			"attempt", job.Attempts, "retry_in", delay, "error", errMsg)
		if err := p.manager.store.ScheduleRetry(ctx, job.ID, time.Now().Add(delay), errMsg); err != nil {
			logger.Error("failed to schedule retry", "error", err)
			p.release(ctx, logger, job.ID)
		}
		return
	}
	p.finishFailed(ctx, logger, job, result, errMsg)
}

// release hands an active job back for re-claim after a queue-level error.
// The refunded attempt means the retry policy only counts job-logic failures;
// processors must stay idempotent because the job will run again.
func (p *workerPool) release(ctx context.Context, logger *slog.Logger, id string) {
	if err := p.manager.store.ReleaseJob(ctx, id); err != nil {
		logger.Error("failed to release job for re-claim", "error", err)
	}
}

func (p *workerPool) finishFailed(ctx context.Context, logger *slog.Logger, job *core.Job, result *core.JobResult, errMsg string) {
	logger.Error("job failed permanently", "attempts", job.Attempts, "error", errMsg)
	if result == nil {
		result = &core.JobResult{Success: false, Message: "job failed", Error: errMsg}
	}
	if err := p.manager.store.MarkFailed(ctx, job.ID, result, errMsg); err != nil {
		logger.Error("failed to mark job failed", "error", err)
		p.release(ctx, logger, job.ID)
	}
}
