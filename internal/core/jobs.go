// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout is returned by QueueManager.WaitForJob when the watched job
// does not reach a terminal status inside the allowed window.
var ErrWaitTimeout = errors.New("timed out waiting for job to finish")

// JobStatus describes where a job currently sits in its lifecycle.
type JobStatus string

const (
	StatusWaiting   JobStatus = "waiting"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusDelayed   JobStatus = "delayed"
	StatusPaused    JobStatus = "paused"
)

// Terminal reports whether a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobPriority orders waiting jobs within a queue. Higher values dispatch first.
type JobPriority int

const (
	PriorityLow      JobPriority = 1
	PriorityMedium   JobPriority = 2
	PriorityHigh     JobPriority = 3
	PriorityCritical JobPriority = 4
)

// ParsePriority maps the wire-level priority names onto JobPriority values.
// An empty string defaults to medium.
func ParsePriority(s string) (JobPriority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Job type names accepted by the enqueue API. Each type belongs to exactly
// one named queue, see QueueForType.
const (
	JobTypeRepositorySync     = "repository-sync"
	JobTypeInitialSync        = "initial-sync"
	JobTypeIncrementalSync    = "incremental-sync"
	JobTypeMetricsCalculation = "metrics-calculation"
	JobTypeBurnoutAnalysis    = "burnout-analysis"
	JobTypeTeamMetrics        = "team-metrics"
)

// Named queues. Orchestration jobs and the per-repository jobs they spawn live
// on separate queues so a waiting parent can never starve its own children.
const (
	QueueSync     = "sync"
	QueueRepoSync = "repo-sync"
	QueueMetrics  = "metrics"
)

// QueueForType returns the queue a job type is dispatched on, or an error for
// unknown types.
func QueueForType(jobType string) (string, error) {
	switch jobType {
	case JobTypeRepositorySync:
		return QueueRepoSync, nil
	case JobTypeInitialSync, JobTypeIncrementalSync:
		return QueueSync, nil
	case JobTypeMetricsCalculation, JobTypeBurnoutAnalysis, JobTypeTeamMetrics:
		return QueueMetrics, nil
	default:
		return "", fmt.Errorf("unknown job type %q", jobType)
	}
}

// Job is a unit of asynchronous work tracked by the queue manager. The queue's
// job store is the single source of truth for every field here; processors must
// re-read rather than cache across suspension points.
type Job struct {
	ID              string         `json:"id"`
	Queue           string         `json:"queue"`
	Type            string         `json:"type"`
	Priority        JobPriority    `json:"priority"`
	Payload         map[string]any `json:"payload"`
	Status          JobStatus      `json:"status"`
	Attempts        int            `json:"attempts"`
	MaxAttempts     int            `json:"maxAttempts"`
	RunAt           time.Time      `json:"runAt"`
	ProgressPercent int            `json:"progressPercent"`
	ProgressMessage string         `json:"progressMessage"`
	Result          *JobResult     `json:"result,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	FinishedAt      *time.Time     `json:"finishedAt,omitempty"`
}

// JobResult is returned by a processor and persisted with the finished job.
type JobResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// EnqueueOptions tunes a single enqueue call. The zero value is valid: medium
// priority, no delay, the queue's default attempt budget, and a generated id.
type EnqueueOptions struct {
	Priority JobPriority
	// Delay postpones the first dispatch of the job.
	Delay time.Duration
	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int
	// JobID makes the enqueue idempotent: re-enqueuing an id that already
	// exists returns the stored job instead of creating a duplicate.
	JobID string
}

// ProgressFn reports processor progress. Percent values are clamped so that
// recorded progress is monotonically non-decreasing for the job's lifetime.
type ProgressFn func(ctx context.Context, percent int, message string) error

// Processor executes jobs of a single type. Implementations return a JobResult
// on success paths and an error on unrecoverable setup failures, letting the
// queue's retry/backoff policy take over.
type Processor interface {
	Type() string
	Process(ctx context.Context, job *Job, report ProgressFn) (*JobResult, error)
}

// QueueManager owns job lifecycle and storage. It dispatches each job to at
// most one concurrent execution and retries failures with exponential backoff.
type QueueManager interface {
	Enqueue(ctx context.Context, queue, jobType string, payload map[string]any, opts EnqueueOptions) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, queue string, statuses []JobStatus, offset, limit int) ([]*Job, error)
	// WaitForJob blocks until the job reaches a terminal status or the timeout
	// elapses. A child that never settles fails the caller with an error
	// wrapping ErrWaitTimeout.
	WaitForJob(ctx context.Context, id string, timeout time.Duration) (*Job, error)
}
