package queue

import (
	"context"
	"time"
)

// StartSweeper launches the maintenance sweeper: completed jobs are evicted
// after their retention window (and above the count cap), failed jobs after
// the longer audit window, and active jobs orphaned by a crashed worker are
// returned to waiting. One sweep runs immediately so jobs stranded by a
// previous process are recovered at startup.
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		m.sweep(ctx)

		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()

	requeued, err := m.store.RequeueStaleActive(ctx, now.Add(-m.opts.StaleActiveAfter))
	if err != nil {
		m.logger.Error("stale-active sweep failed", "error", err)
	}
	if requeued > 0 {
		m.logger.Warn("requeued jobs orphaned by a crashed worker", "count", requeued)
	}

	completed, err := m.store.SweepCompleted(ctx, now.Add(-m.opts.CompletedRetention), m.opts.CompletedCap)
	if err != nil {
		m.logger.Error("completed-job sweep failed", "error", err)
	}
	failed, err := m.store.SweepFailed(ctx, now.Add(-m.opts.FailedRetention))
	if err != nil {
		m.logger.Error("failed-job sweep failed", "error", err)
	}

	if completed > 0 || failed > 0 {
		m.logger.Info("swept finished jobs", "completed", completed, "failed", failed)
	}
}
