// Package queue implements the durable job queue: idempotent enqueue with
// priority and delay, per-queue worker pools with retry/backoff, and retention
// sweeping for finished jobs.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

// Options tunes the queue manager. Zero fields fall back to defaults.
type Options struct {
	// PollInterval is how often idle workers check for due jobs. Default 1s.
	PollInterval time.Duration
	// BackoffBase is the first retry delay; it doubles per attempt. Default 5s.
	BackoffBase time.Duration
	// DefaultMaxAttempts is the attempt budget when the enqueue call does not
	// override it. Default 3.
	DefaultMaxAttempts int
	// CompletedRetention is how long completed jobs are kept. Default 24h.
	CompletedRetention time.Duration
	// FailedRetention is how long failed jobs are kept for audit. Default 7d.
	FailedRetention time.Duration
	// CompletedCap bounds the number of retained completed jobs. Default 1000.
	CompletedCap int
	// SweepInterval is how often retention sweeps run. Default 10m.
	SweepInterval time.Duration
	// StaleActiveAfter is how long an active job may go without touching its
	// row (claims and progress reports refresh updated_at) before the sweeper
	// assumes its worker crashed and requeues it. Default 30m.
	StaleActiveAfter time.Duration
	// WaitPollInterval is the re-read cadence of WaitForJob. Default 500ms.
	WaitPollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5 * time.Second
	}
	if o.DefaultMaxAttempts <= 0 {
		o.DefaultMaxAttempts = 3
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = 24 * time.Hour
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 7 * 24 * time.Hour
	}
	if o.CompletedCap <= 0 {
		o.CompletedCap = 1000
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 10 * time.Minute
	}
	if o.StaleActiveAfter <= 0 {
		o.StaleActiveAfter = 30 * time.Minute
	}
	if o.WaitPollInterval <= 0 {
		o.WaitPollInterval = 500 * time.Millisecond
	}
	return o
}

// Manager implements core.QueueManager on top of a durable JobStore. Queue
// state survives restarts; only the worker goroutines are process-local.
type Manager struct {
	store      storage.JobStore
	opts       Options
	logger     *slog.Logger
	processors map[string]core.Processor
	pools      []*workerPool
}

// NewManager creates a queue manager. Processors are registered before
// StartWorkers is called; registration is not safe once workers run.
func NewManager(store storage.JobStore, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		opts:       opts.withDefaults(),
		logger:     logger,
		processors: make(map[string]core.Processor),
	}
}

// Register adds a processor for its job type. Registering a duplicate type is
// a programming error.
func (m *Manager) Register(p core.Processor) error {
	if _, exists := m.processors[p.Type()]; exists {
		return fmt.Errorf("processor for job type %q already registered", p.Type())
	}
	m.processors[p.Type()] = p
	return nil
}

// Enqueue stores a job and returns it. When opts.JobID names an existing job
// the stored job is returned unchanged, terminal or not: the id is the
// de-duplication key and a new run requires a new id.
func (m *Manager) Enqueue(ctx context.Context, queue, jobType string, payload map[string]any, opts core.EnqueueOptions) (*core.Job, error) {
	expected, err := core.QueueForType(jobType)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = expected
	}
	if queue != expected {
		return nil, fmt.Errorf("job type %q belongs on queue %q, not %q", jobType, expected, queue)
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	priority := opts.Priority
	if priority == 0 {
		priority = core.PriorityMedium
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.opts.DefaultMaxAttempts
	}
	if payload == nil {
		payload = map[string]any{}
	}

	job := &core.Job{
		ID:          id,
		Queue:       queue,
		Type:        jobType,
		Priority:    priority,
		Payload:     payload,
		Status:      core.StatusWaiting,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().Add(opts.Delay),
	}
	if opts.Delay > 0 {
		job.Status = core.StatusDelayed
	}

	created, err := m.store.InsertJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	if !created {
		existing, err := m.store.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read existing job %s: %w", id, err)
		}
		m.logger.Debug("enqueue de-duplicated",
			"job_id", id, "type", jobType, "status", existing.Status)
		return existing, nil
	}

	m.logger.Info("job enqueued",
		"job_id", id, "queue", queue, "type", jobType, "priority", priority.String())
	return m.store.GetJob(ctx, id)
}

// GetJob returns the stored job by id.
func (m *Manager) GetJob(ctx context.Context, id string) (*core.Job, error) {
	return m.store.GetJob(ctx, id)
}

// ListJobs returns jobs filtered by queue and statuses, newest first.
func (m *Manager) ListJobs(ctx context.Context, queue string, statuses []core.JobStatus, offset, limit int) ([]*core.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.ListJobs(ctx, queue, statuses, offset, limit)
}

// WaitForJob polls the job until it reaches a terminal status. It returns the
// terminal snapshot, or an error wrapping core.ErrWaitTimeout when the timeout
// elapses first.
func (m *Manager) WaitForJob(ctx context.Context, id string, timeout time.Duration) (*core.Job, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(m.opts.WaitPollInterval)
	defer ticker.Stop()

	for {
		job, err := m.store.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("wait for job %s: %w", id, err)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s still %s after %s: %w",
				id, job.Status, timeout, core.ErrWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// backoffDelay returns the retry delay before the given attempt number runs
// again: base * 2^(attempt-1).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
