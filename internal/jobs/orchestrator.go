package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

const defaultChildJobTimeout = 15 * time.Minute

// Orchestrator fans an initial-sync or incremental-sync job out into one
// repository-sync child per repository. Children run sequentially: each is
// enqueued and awaited before the next starts, so one user's sync never
// saturates the repo-sync queue.
type Orchestrator struct {
	queue           core.QueueManager
	store           storage.MirrorStore
	childJobTimeout time.Duration
	logger          *slog.Logger
}

// NewOrchestrator creates the orchestrator. childJobTimeout bounds how long a
// single repository child may take; zero selects the 15m default.
func NewOrchestrator(queue core.QueueManager, store storage.MirrorStore, childJobTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if childJobTimeout <= 0 {
		childJobTimeout = defaultChildJobTimeout
	}
	return &Orchestrator{
		queue:           queue,
		store:           store,
		childJobTimeout: childJobTimeout,
		logger:          logger,
	}
}

// Processors returns the two queue processors backed by this orchestrator:
// initial-sync (forces a full window) and incremental-sync.
func (o *Orchestrator) Processors() []core.Processor {
	return []core.Processor{
		&orchestratorProcessor{jobType: core.JobTypeInitialSync, forceFull: true, o: o},
		&orchestratorProcessor{jobType: core.JobTypeIncrementalSync, o: o},
	}
}

type orchestratorProcessor struct {
	jobType   string
	forceFull bool
	o         *Orchestrator
}

func (p *orchestratorProcessor) Type() string { return p.jobType }

func (p *orchestratorProcessor) Process(ctx context.Context, job *core.Job, report core.ProgressFn) (*core.JobResult, error) {
	var req core.OrchestrationRequest
	if err := core.DecodePayload(job.Payload, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("userId cannot be empty")
	}
	req.ForceFull = req.ForceFull || p.forceFull
	return p.o.run(ctx, job, &req, report)
}

func (o *Orchestrator) run(ctx context.Context, parent *core.Job, req *core.OrchestrationRequest, report core.ProgressFn) (*core.JobResult, error) {
	runStart := time.Now().UTC()

	targets, err := o.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &core.JobResult{Success: true, Message: "no sync-enabled repositories"}, nil
	}

	o.logger.Info("starting sync orchestration",
		"user", req.UserID, "repositories", len(targets), "force_full", req.ForceFull)

	statuses := make([]*core.SyncStatus, 0, len(targets))
	completed, failed := 0, 0

	for i, target := range targets {
		percent := 100 * i / len(targets)
		_ = report(ctx, percent, fmt.Sprintf("syncing %s (%d/%d)", target.fullName, i+1, len(targets)))

		status := &core.SyncStatus{
			RepositoryFullName: target.fullName,
			LastSyncedAt:       target.lastSyncedAt,
			Status:             core.SyncInProgress,
		}
		statuses = append(statuses, status)

		if err := o.syncOne(ctx, parent, req, target, runStart); err != nil {
			failed++
			status.Status = core.SyncFailed
			status.Message = err.Error()
			o.logger.Error("repository sync failed",
				"user", req.UserID, "repo", target.fullName, "error", err)
			continue
		}
		completed++
		status.Status = core.SyncCompleted
	}

	result := &core.JobResult{
		Success: failed == 0,
		Message: fmt.Sprintf("synced %d of %d repositories", completed, len(targets)),
		Data: map[string]any{
			"completedCount": completed,
			"failedCount":    failed,
			"statuses":       statuses,
		},
	}
	if failed > 0 {
		result.Error = fmt.Sprintf("%d repository syncs failed", failed)
	}
	return result, nil
}

type syncTarget struct {
	fullName     string
	lastSyncedAt *time.Time
}

// resolveTargets picks which repositories this run covers. An explicit list in
// the request wins; repositories not yet mirrored locally are still accepted,
// the child sync creates their row.
func (o *Orchestrator) resolveTargets(ctx context.Context, req *core.OrchestrationRequest) ([]syncTarget, error) {
	if len(req.RepositoryFullNames) > 0 {
		targets := make([]syncTarget, 0, len(req.RepositoryFullNames))
		for _, fullName := range req.RepositoryFullNames {
			target := syncTarget{fullName: fullName}
			repo, err := o.store.GetRepositoryByFullName(ctx, req.UserID, fullName)
			switch {
			case err == nil:
				target.lastSyncedAt = repo.LastSyncedAt
			case errors.Is(err, storage.ErrNotFound):
				// first sync, repository row is created by the child
			default:
				return nil, err
			}
			targets = append(targets, target)
		}
		return targets, nil
	}

	repos, err := o.store.ListSyncEnabledRepositories(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	targets := make([]syncTarget, 0, len(repos))
	for _, repo := range repos {
		targets = append(targets, syncTarget{fullName: repo.FullName, lastSyncedAt: repo.LastSyncedAt})
	}
	return targets, nil
}

// syncOne enqueues one repository-sync child and waits for it to settle. The
// stable child id collapses concurrently running duplicates; a terminal row
// left over from an earlier run does not satisfy this one and is superseded by
// a per-parent id.
func (o *Orchestrator) syncOne(ctx context.Context, parent *core.Job, req *core.OrchestrationRequest, target syncTarget, runStart time.Time) error {
	syncReq := core.RepoSyncRequest{
		UserID:             req.UserID,
		RepositoryFullName: target.fullName,
		SyncType:           core.SyncIncremental,
	}
	if req.ForceFull || target.lastSyncedAt == nil {
		syncReq.SyncType = core.SyncFull
	} else {
		syncReq.Since = *target.lastSyncedAt
	}

	payload, err := core.EncodePayload(&syncReq)
	if err != nil {
		return err
	}

	childID := fmt.Sprintf("repo-sync:%s:%s", req.UserID, target.fullName)
	opts := core.EnqueueOptions{JobID: childID, Priority: parent.Priority}

	child, err := o.queue.Enqueue(ctx, core.QueueRepoSync, core.JobTypeRepositorySync, payload, opts)
	if err != nil {
		return fmt.Errorf("enqueue child sync: %w", err)
	}
	if child.Status.Terminal() && child.CreatedAt.Before(runStart) {
		opts.JobID = fmt.Sprintf("%s:%s", childID, parent.ID)
		child, err = o.queue.Enqueue(ctx, core.QueueRepoSync, core.JobTypeRepositorySync, payload, opts)
		if err != nil {
			return fmt.Errorf("enqueue child sync: %w", err)
		}
	}

	settled, err := o.queue.WaitForJob(ctx, child.ID, o.childJobTimeout)
	if err != nil {
		return fmt.Errorf("await child sync %s: %w", child.ID, err)
	}
	if settled.Status != core.StatusCompleted {
		if settled.LastError != "" {
			return fmt.Errorf("child sync failed: %s", settled.LastError)
		}
		return fmt.Errorf("child sync finished with status %s", settled.Status)
	}
	return nil
}
