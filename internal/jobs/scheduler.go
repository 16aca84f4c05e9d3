package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

// Scheduler enqueues one incremental-sync job per sync-enabled owner once a
// day at a fixed UTC hour. The date-scoped job id makes a same-day rerun of
// the scheduler (or a restart) a no-op, the queue returns the existing job.
type Scheduler struct {
	queue      core.QueueManager
	store      storage.MirrorStore
	hourUTC    int
	runOnStart bool
	logger     *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewScheduler creates the daily scheduler firing at hourUTC (0-23). When
// runOnStart is set, a catch-up round is enqueued immediately on Start.
func NewScheduler(queue core.QueueManager, store storage.MirrorStore, hourUTC int, runOnStart bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		queue:      queue,
		store:      store,
		hourUTC:    hourUTC,
		runOnStart: runOnStart,
		logger:     logger,
		now:        time.Now,
	}
}

// Start launches the scheduling loop. It returns immediately; the loop stops
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	if s.runOnStart {
		s.enqueueRound(ctx)
	}

	for {
		next := s.nextRun()
		s.logger.Info("next scheduled sync round", "at", next)

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.enqueueRound(ctx)
		}
	}
}

// nextRun returns the next occurrence of the configured hour, strictly in the
// future.
func (s *Scheduler) nextRun() time.Time {
	now := s.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// enqueueRound enqueues one incremental-sync job per owner that has at least
// one sync-enabled repository. Failures are logged per owner, a broken owner
// never blocks the rest of the round.
func (s *Scheduler) enqueueRound(ctx context.Context) {
	owners, err := s.store.ListSyncEnabledOwners(ctx)
	if err != nil {
		s.logger.Error("failed to list owners for sync round", "error", err)
		return
	}

	day := s.now().UTC().Format("2006-01-02")
	enqueued := 0
	for _, owner := range owners {
		payload, err := core.EncodePayload(&core.OrchestrationRequest{UserID: owner})
		if err != nil {
			s.logger.Error("failed to encode sync payload", "user", owner, "error", err)
			continue
		}
		job, err := s.queue.Enqueue(ctx, core.QueueSync, core.JobTypeIncrementalSync, payload,
			core.EnqueueOptions{
				JobID:    fmt.Sprintf("incremental-sync:%s:%s", owner, day),
				Priority: core.PriorityLow,
			})
		if err != nil {
			s.logger.Error("failed to enqueue scheduled sync", "user", owner, "error", err)
			continue
		}
		enqueued++
		s.logger.Debug("scheduled sync enqueued", "user", owner, "job_id", job.ID, "status", job.Status)
	}
	s.logger.Info("sync round enqueued", "owners", len(owners), "jobs", enqueued)
}
