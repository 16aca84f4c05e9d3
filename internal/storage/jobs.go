package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sevigo/repo-pulse/internal/core"
)

// JobStore persists queue jobs. The queue manager treats this store as the
// single source of truth for job state; workers on any process share it.
type JobStore interface {
	// InsertJob stores a new job row. It returns false without error when a
	// job with the same id already exists, which is the queue's
	// de-duplication contract.
	InsertJob(ctx context.Context, job *core.Job) (bool, error)
	GetJob(ctx context.Context, id string) (*core.Job, error)
	ListJobs(ctx context.Context, queue string, statuses []core.JobStatus, offset, limit int) ([]*core.Job, error)
	// ClaimNext atomically locks the highest-priority due job on the queue,
	// marks it active and increments its attempt counter. found is false when
	// no job is due.
	ClaimNext(ctx context.Context, queue string) (*core.Job, bool, error)
	MarkCompleted(ctx context.Context, id string, result *core.JobResult) error
	MarkFailed(ctx context.Context, id string, result *core.JobResult, lastError string) error
	// ScheduleRetry parks a failed attempt as delayed until runAt.
	ScheduleRetry(ctx context.Context, id string, runAt time.Time, lastError string) error
	// ReleaseJob returns an active job to waiting and refunds the attempt it
	// consumed. Used when the failure was a queue-level error, not job logic.
	ReleaseJob(ctx context.Context, id string) error
	// RequeueStaleActive returns active jobs untouched since olderThan to
	// waiting. Such jobs were orphaned by a crashed worker; the crashed
	// attempt stays consumed.
	RequeueStaleActive(ctx context.Context, olderThan time.Time) (int64, error)
	UpdateProgress(ctx context.Context, id string, percent int, message string) error
	SweepCompleted(ctx context.Context, olderThan time.Time, keep int) (int64, error)
	SweepFailed(ctx context.Context, olderThan time.Time) (int64, error)
}

type jobRow struct {
	ID              string          `db:"id"`
	Queue           string          `db:"queue"`
	Type            string          `db:"type"`
	Priority        int             `db:"priority"`
	Payload         json.RawMessage `db:"payload"`
	Status          string          `db:"status"`
	Attempts        int             `db:"attempts"`
	MaxAttempts     int             `db:"max_attempts"`
	RunAt           time.Time       `db:"run_at"`
	ProgressPercent int             `db:"progress_percent"`
	ProgressMessage string          `db:"progress_message"`
	Result          json.RawMessage `db:"result"`
	LastError       string          `db:"last_error"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	StartedAt       *time.Time      `db:"started_at"`
	FinishedAt      *time.Time      `db:"finished_at"`
}

func (r *jobRow) toJob() (*core.Job, error) {
	job := &core.Job{
		ID:              r.ID,
		Queue:           r.Queue,
		Type:            r.Type,
		Priority:        core.JobPriority(r.Priority),
		Status:          core.JobStatus(r.Status),
		Attempts:        r.Attempts,
		MaxAttempts:     r.MaxAttempts,
		RunAt:           r.RunAt,
		ProgressPercent: r.ProgressPercent,
		ProgressMessage: r.ProgressMessage,
		LastError:       r.LastError,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for job %s: %w", r.ID, err)
		}
	}
	if len(r.Result) > 0 {
		job.Result = &core.JobResult{}
		if err := json.Unmarshal(r.Result, job.Result); err != nil {
			return nil, fmt.Errorf("decode result for job %s: %w", r.ID, err)
		}
	}
	return job, nil
}

type postgresJobStore struct {
	db *sqlx.DB
}

// NewJobStore creates a Postgres-backed JobStore.
func NewJobStore(db *sqlx.DB) JobStore {
	return &postgresJobStore{db: db}
}

const jobColumns = `id, queue, type, priority, payload, status, attempts, max_attempts,
	run_at, progress_percent, progress_message, result, last_error,
	created_at, updated_at, started_at, finished_at`

func (s *postgresJobStore) InsertJob(ctx context.Context, job *core.Job) (bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, type, priority, payload, status, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Queue, job.Type, int(job.Priority), payload,
		string(job.Status), job.MaxAttempts, job.RunAt)
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresJobStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.toJob()
}

func (s *postgresJobStore) ListJobs(ctx context.Context, queue string, statuses []core.JobStatus, offset, limit int) ([]*core.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	if queue != "" {
		args = append(args, queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	if len(statuses) > 0 {
		in := make([]string, 0, len(statuses))
		for _, st := range statuses {
			in = append(in, string(st))
		}
		args = append(args, in)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	// pq needs array types for ANY()
	for i, a := range args {
		if ss, ok := a.([]string); ok {
			args[i] = pq.Array(ss)
		}
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*core.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *postgresJobStore) ClaimNext(ctx context.Context, queue string) (*core.Job, bool, error) {
	// Single-statement claim: lock the next due job, skip rows locked by
	// concurrent workers, and flip it to active in one round trip.
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		WITH next AS (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND status IN ('waiting', 'delayed')
			  AND run_at <= now()
			ORDER BY priority DESC, run_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j
		SET status = 'active',
		    attempts = j.attempts + 1,
		    started_at = COALESCE(j.started_at, now()),
		    updated_at = now()
		FROM next
		WHERE j.id = next.id
		RETURNING j.id, j.queue, j.type, j.priority, j.payload, j.status,
		          j.attempts, j.max_attempts, j.run_at, j.progress_percent,
		          j.progress_message, j.result, j.last_error, j.created_at,
		          j.updated_at, j.started_at, j.finished_at`, queue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim next job: %w", err)
	}
	job, err := row.toJob()
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *postgresJobStore) MarkCompleted(ctx context.Context, id string, result *core.JobResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result = $2, last_error = '',
		    progress_percent = 100, finished_at = now(), updated_at = now()
		WHERE id = $1`, id, raw)
	return err
}

func (s *postgresJobStore) MarkFailed(ctx context.Context, id string, result *core.JobResult, lastError string) error {
	var raw []byte
	if result != nil {
		var err error
		raw, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', result = $2, last_error = $3,
		    finished_at = now(), updated_at = now()
		WHERE id = $1`, id, raw, lastError)
	return err
}

func (s *postgresJobStore) ScheduleRetry(ctx context.Context, id string, runAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'delayed', run_at = $2, last_error = $3, updated_at = now()
		WHERE id = $1`, id, runAt, lastError)
	return err
}

func (s *postgresJobStore) ReleaseJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'waiting', attempts = GREATEST(attempts - 1, 0), updated_at = now()
		WHERE id = $1 AND status = 'active'`, id)
	return err
}

func (s *postgresJobStore) RequeueStaleActive(ctx context.Context, olderThan time.Time) (int64, error) {
	// Live workers refresh updated_at through progress reports and the claim
	// itself, so an old updated_at means the owning process is gone.
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'waiting', run_at = now(), updated_at = now()
		WHERE status = 'active' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue stale active jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresJobStore) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	// GREATEST keeps recorded progress monotonic even if callers misreport.
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress_percent = GREATEST(progress_percent, $2),
		    progress_message = $3, updated_at = now()
		WHERE id = $1`, id, percent, message)
	return err
}

func (s *postgresJobStore) SweepCompleted(ctx context.Context, olderThan time.Time, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = 'completed'
		  AND (finished_at < $1
		       OR id IN (
		           SELECT id FROM jobs WHERE status = 'completed'
		           ORDER BY finished_at DESC OFFSET $2))`,
		olderThan, keep)
	if err != nil {
		return 0, fmt.Errorf("sweep completed jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresJobStore) SweepFailed(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status = 'failed' AND finished_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweep failed jobs: %w", err)
	}
	return res.RowsAffected()
}
