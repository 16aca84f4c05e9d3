package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

// memJobStore is an in-memory storage.JobStore used to exercise the manager
// and workers without Postgres. It mirrors the SQL store's claim ordering and
// monotonic progress semantics.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*core.Job
	seq  int
}

var _ storage.JobStore = (*memJobStore)(nil)

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*core.Job)}
}

func (s *memJobStore) clone(j *core.Job) *core.Job {
	out := *j
	if j.Result != nil {
		res := *j.Result
		out.Result = &res
	}
	return &out
}

func (s *memJobStore) InsertJob(_ context.Context, job *core.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return false, nil
	}
	stored := s.clone(job)
	s.seq++
	stored.CreatedAt = time.Now().Add(time.Duration(s.seq)) // stable tiebreak
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[job.ID] = stored
	return true, nil
}

func (s *memJobStore) GetJob(_ context.Context, id string) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.clone(job), nil
}

func (s *memJobStore) ListJobs(_ context.Context, queue string, statuses []core.JobStatus, offset, limit int) ([]*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.Job
	for _, job := range s.jobs {
		if queue != "" && job.Queue != queue {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if job.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, s.clone(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memJobStore) ClaimNext(_ context.Context, queue string) (*core.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var best *core.Job
	for _, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		if job.Status != core.StatusWaiting && job.Status != core.StatusDelayed {
			continue
		}
		if job.RunAt.After(now) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, false, nil
	}
	best.Status = core.StatusActive
	best.Attempts++
	best.UpdatedAt = now
	if best.StartedAt == nil {
		started := now
		best.StartedAt = &started
	}
	return s.clone(best), true, nil
}

func (s *memJobStore) MarkCompleted(_ context.Context, id string, result *core.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = core.StatusCompleted
	job.Result = result
	job.LastError = ""
	job.ProgressPercent = 100
	finished := time.Now()
	job.FinishedAt = &finished
	return nil
}

func (s *memJobStore) MarkFailed(_ context.Context, id string, result *core.JobResult, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = core.StatusFailed
	job.Result = result
	job.LastError = lastError
	finished := time.Now()
	job.FinishedAt = &finished
	return nil
}

func (s *memJobStore) ScheduleRetry(_ context.Context, id string, runAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = core.StatusDelayed
	job.RunAt = runAt
	job.LastError = lastError
	return nil
}

func (s *memJobStore) ReleaseJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status == core.StatusActive {
		job.Status = core.StatusWaiting
		if job.Attempts > 0 {
			job.Attempts--
		}
	}
	return nil
}

func (s *memJobStore) RequeueStaleActive(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var requeued int64
	for _, job := range s.jobs {
		if job.Status == core.StatusActive && job.UpdatedAt.Before(olderThan) {
			job.Status = core.StatusWaiting
			job.UpdatedAt = time.Now()
			requeued++
		}
	}
	return requeued, nil
}

func (s *memJobStore) UpdateProgress(_ context.Context, id string, percent int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if percent > job.ProgressPercent {
		job.ProgressPercent = percent
	}
	job.ProgressMessage = message
	job.UpdatedAt = time.Now()
	return nil
}

func (s *memJobStore) SweepCompleted(_ context.Context, olderThan time.Time, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.jobs {
		if job.Status == core.StatusCompleted && job.FinishedAt != nil && job.FinishedAt.Before(olderThan) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memJobStore) SweepFailed(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.jobs {
		if job.Status == core.StatusFailed && job.FinishedAt != nil && job.FinishedAt.Before(olderThan) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memJobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
