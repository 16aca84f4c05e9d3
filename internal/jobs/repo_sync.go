// Package jobs contains the queue processors: repository sync, the sync
// orchestrators, the daily scheduler, and the metrics jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/repo-pulse/internal/breaker"
	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

// SyncSettings tunes the repository sync processor. Zero fields fall back to
// defaults.
type SyncSettings struct {
	// FullLookbackDays is the reconciliation window of a full sync. Default 30.
	FullLookbackDays int
	// BatchSize bounds how many entities are hydrated per batch. Default 50.
	BatchSize int
	// BatchConcurrency bounds detail fetches in flight inside a batch.
	// Default 8.
	BatchConcurrency int
}

func (s SyncSettings) withDefaults() SyncSettings {
	if s.FullLookbackDays <= 0 {
		s.FullLookbackDays = 30
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.BatchConcurrency <= 0 {
		s.BatchConcurrency = 8
	}
	return s
}

// RepositorySyncProcessor reconciles the local mirror of one repository with
// the remote host. The whole job is idempotent: rerunning it against an
// unchanged remote is a no-op, and within one run deletions are always applied
// before upserts so a crash can never resurrect removed entities.
type RepositorySyncProcessor struct {
	source   core.SourceClient
	store    storage.MirrorStore
	brk      *breaker.Breaker
	settings SyncSettings
	logger   *slog.Logger
}

// NewRepositorySyncProcessor creates the processor for repository-sync jobs.
// brk must be the breaker registered for core.SourceAPIDependency.
func NewRepositorySyncProcessor(source core.SourceClient, store storage.MirrorStore, brk *breaker.Breaker, settings SyncSettings, logger *slog.Logger) *RepositorySyncProcessor {
	return &RepositorySyncProcessor{
		source:   source,
		store:    store,
		brk:      brk,
		settings: settings.withDefaults(),
		logger:   logger,
	}
}

func (p *RepositorySyncProcessor) Type() string { return core.JobTypeRepositorySync }

func (p *RepositorySyncProcessor) Process(ctx context.Context, job *core.Job, report core.ProgressFn) (*core.JobResult, error) {
	var req core.RepoSyncRequest
	if err := core.DecodePayload(job.Payload, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync request: %w", err)
	}

	// The mark for last_synced_at is taken before anything is fetched, so the
	// next incremental window overlaps this run instead of leaving a gap.
	syncStart := time.Now().UTC()
	since := req.Since
	if req.SyncType == core.SyncFull {
		since = syncStart.AddDate(0, 0, -p.settings.FullLookbackDays)
	}

	log := p.logger.With("repo", req.RepositoryFullName, "sync_type", req.SyncType)
	log.Info("starting repository sync", "since", since)

	_ = report(ctx, 5, "resolving repository")
	remote, err := breaker.Do(ctx, p.brk, func(ctx context.Context) (*core.RemoteRepository, error) {
		return p.source.GetRepositoryDetails(ctx, req.RepositoryFullName)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve repository %s: %w", req.RepositoryFullName, err)
	}

	repo, err := p.store.UpsertRepository(ctx, &storage.Repository{
		OwnerID:       req.UserID,
		RemoteID:      remote.RemoteID,
		FullName:      remote.FullName,
		Name:          remote.Name,
		Private:       remote.Private,
		DefaultBranch: remote.DefaultBranch,
		Language:      remote.Language,
		SyncEnabled:   true,
	})
	if err != nil {
		return nil, err
	}
	_ = report(ctx, 10, "repository resolved")

	commitStats, err := p.syncCommits(ctx, repo, since, report)
	if err != nil {
		return nil, fmt.Errorf("sync commits: %w", err)
	}
	_ = report(ctx, 45, "commits synced")

	prStats, err := p.syncPullRequests(ctx, repo, since)
	if err != nil {
		return nil, fmt.Errorf("sync pull requests: %w", err)
	}
	_ = report(ctx, 70, "pull requests synced")

	issueStats, err := p.syncIssues(ctx, repo, since)
	if err != nil {
		return nil, fmt.Errorf("sync issues: %w", err)
	}
	_ = report(ctx, 95, "issues synced")

	if err := p.store.SetLastSyncedAt(ctx, repo.ID, syncStart); err != nil {
		return nil, fmt.Errorf("record sync time: %w", err)
	}

	log.Info("repository sync finished",
		"commits_created", commitStats.created, "commits_deleted", commitStats.deleted,
		"prs_upserted", prStats.created, "prs_deleted", prStats.deleted,
		"issues_upserted", issueStats.created, "issues_deleted", issueStats.deleted,
		"skipped", commitStats.skipped+prStats.skipped)

	return &core.JobResult{
		Success: true,
		Message: fmt.Sprintf("synced %s", repo.FullName),
		Data: map[string]any{
			"repositoryFullName": repo.FullName,
			"syncType":           string(req.SyncType),
			"commitsCreated":     commitStats.created,
			"commitsDeleted":     commitStats.deleted,
			"pullsUpserted":      prStats.created,
			"pullsDeleted":       prStats.deleted,
			"issuesUpserted":     issueStats.created,
			"issuesDeleted":      issueStats.deleted,
			"entitiesSkipped":    commitStats.skipped + prStats.skipped,
		},
	}, nil
}

type entityStats struct {
	created int
	deleted int
	skipped int
}

// syncCommits reconciles the commit mirror inside the window. Commits are
// immutable, so already-mirrored SHAs are neither re-fetched nor rewritten;
// new SHAs are hydrated through GetCommitDetails for their change stats.
func (p *RepositorySyncProcessor) syncCommits(ctx context.Context, repo *storage.Repository, since time.Time, report core.ProgressFn) (entityStats, error) {
	var stats entityStats

	remote, err := breaker.Do(ctx, p.brk, func(ctx context.Context) ([]*core.RemoteCommit, error) {
		return p.source.GetCommits(ctx, repo.FullName, since)
	})
	if err != nil {
		return stats, err
	}

	local, err := p.store.ListCommitSHAsSince(ctx, repo.ID, since)
	if err != nil {
		return stats, err
	}
	localSet := make(map[string]bool, len(local))
	for _, sha := range local {
		localSet[sha] = true
	}
	remoteSet := make(map[string]bool, len(remote))
	for _, c := range remote {
		remoteSet[c.SHA] = true
	}

	// Deletions first: SHAs mirrored in the window but gone from the remote
	// history (force-push, branch rewrite) are removed before anything new is
	// written.
	var stale []string
	for _, sha := range local {
		if !remoteSet[sha] {
			stale = append(stale, sha)
		}
	}
	if len(stale) > 0 {
		deleted, err := p.store.DeleteCommitsBySHA(ctx, repo.ID, stale)
		if err != nil {
			return stats, err
		}
		stats.deleted = int(deleted)
		p.logger.Info("removed stale commits", "repo", repo.FullName, "count", deleted)
	}

	var fresh []*core.RemoteCommit
	for _, c := range remote {
		if !localSet[c.SHA] {
			fresh = append(fresh, c)
		}
	}

	var created, skipped atomic.Int64
	done := 0
	for batch := range batches(fresh, p.settings.BatchSize) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.settings.BatchConcurrency)
		for _, c := range batch {
			g.Go(func() error {
				detail, err := breaker.Do(gctx, p.brk, func(ctx context.Context) (*core.RemoteCommit, error) {
					return p.source.GetCommitDetails(ctx, repo.FullName, c.SHA)
				})
				if err != nil {
					if isFatalSyncErr(err) {
						return err
					}
					p.logger.Warn("skipping commit", "repo", repo.FullName, "sha", c.SHA, "error", err)
					skipped.Add(1)
					return nil
				}
				inserted, err := p.store.InsertCommitIfAbsent(gctx, &storage.Commit{
					RepositoryID: repo.ID,
					SHA:          detail.SHA,
					AuthorLogin:  detail.AuthorLogin,
					AuthorEmail:  detail.AuthorEmail,
					Message:      detail.Message,
					Additions:    detail.Additions,
					Deletions:    detail.Deletions,
					CommittedAt:  detail.CommittedAt,
				})
				if err != nil {
					return err
				}
				if inserted {
					created.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
		done += len(batch)
		if len(fresh) > 0 {
			percent := 15 + 30*done/len(fresh)
			_ = report(ctx, percent, fmt.Sprintf("commits %d/%d", done, len(fresh)))
		}
	}

	stats.created = int(created.Load())
	stats.skipped = int(skipped.Load())
	return stats, nil
}

// syncPullRequests reconciles pull requests updated inside the window. Rows
// are upserted because pull requests mutate after creation.
func (p *RepositorySyncProcessor) syncPullRequests(ctx context.Context, repo *storage.Repository, since time.Time) (entityStats, error) {
	var stats entityStats

	all, err := breaker.Do(ctx, p.brk, func(ctx context.Context) ([]*core.RemotePullRequest, error) {
		return p.source.GetPullRequests(ctx, repo.FullName)
	})
	if err != nil {
		return stats, err
	}
	var remote []*core.RemotePullRequest
	for _, pr := range all {
		if !pr.UpdatedAt.Before(since) {
			remote = append(remote, pr)
		}
	}

	local, err := p.store.ListPullRequestNumbersUpdatedSince(ctx, repo.ID, since)
	if err != nil {
		return stats, err
	}
	remoteSet := make(map[int]bool, len(remote))
	for _, pr := range remote {
		remoteSet[pr.Number] = true
	}
	var stale []int
	for _, n := range local {
		if !remoteSet[n] {
			stale = append(stale, n)
		}
	}
	if len(stale) > 0 {
		deleted, err := p.store.DeletePullRequestsByNumber(ctx, repo.ID, stale)
		if err != nil {
			return stats, err
		}
		stats.deleted = int(deleted)
		p.logger.Info("removed stale pull requests", "repo", repo.FullName, "count", deleted)
	}

	var upserted, skipped atomic.Int64
	for batch := range batches(remote, p.settings.BatchSize) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.settings.BatchConcurrency)
		for _, pr := range batch {
			g.Go(func() error {
				// The list endpoint omits diff stats, fetch the full record.
				detail, err := breaker.Do(gctx, p.brk, func(ctx context.Context) (*core.RemotePullRequest, error) {
					return p.source.GetPullRequestDetails(ctx, repo.FullName, pr.Number)
				})
				if err != nil {
					if isFatalSyncErr(err) {
						return err
					}
					p.logger.Warn("skipping pull request", "repo", repo.FullName, "pr", pr.Number, "error", err)
					skipped.Add(1)
					return nil
				}
				if err := p.store.UpsertPullRequest(gctx, &storage.PullRequest{
					RepositoryID:    repo.ID,
					Number:          detail.Number,
					Title:           detail.Title,
					State:           detail.State,
					AuthorLogin:     detail.AuthorLogin,
					Additions:       detail.Additions,
					Deletions:       detail.Deletions,
					ChangedFiles:    detail.ChangedFiles,
					CreatedAtRemote: detail.CreatedAt,
					UpdatedAtRemote: detail.UpdatedAt,
					MergedAt:        detail.MergedAt,
					ClosedAt:        detail.ClosedAt,
				}); err != nil {
					return err
				}
				upserted.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
	}

	stats.created = int(upserted.Load())
	stats.skipped = int(skipped.Load())
	return stats, nil
}

// syncIssues reconciles issues updated inside the window. The list endpoint
// already carries every mirrored field, so no per-issue detail fetch is needed.
func (p *RepositorySyncProcessor) syncIssues(ctx context.Context, repo *storage.Repository, since time.Time) (entityStats, error) {
	var stats entityStats

	all, err := breaker.Do(ctx, p.brk, func(ctx context.Context) ([]*core.RemoteIssue, error) {
		return p.source.GetIssues(ctx, repo.FullName)
	})
	if err != nil {
		return stats, err
	}
	var remote []*core.RemoteIssue
	for _, issue := range all {
		if !issue.UpdatedAt.Before(since) {
			remote = append(remote, issue)
		}
	}

	local, err := p.store.ListIssueNumbersUpdatedSince(ctx, repo.ID, since)
	if err != nil {
		return stats, err
	}
	remoteSet := make(map[int]bool, len(remote))
	for _, issue := range remote {
		remoteSet[issue.Number] = true
	}
	var stale []int
	for _, n := range local {
		if !remoteSet[n] {
			stale = append(stale, n)
		}
	}
	if len(stale) > 0 {
		deleted, err := p.store.DeleteIssuesByNumber(ctx, repo.ID, stale)
		if err != nil {
			return stats, err
		}
		stats.deleted = int(deleted)
		p.logger.Info("removed stale issues", "repo", repo.FullName, "count", deleted)
	}

	for _, issue := range remote {
		if err := p.store.UpsertIssue(ctx, &storage.Issue{
			RepositoryID:    repo.ID,
			Number:          issue.Number,
			Title:           issue.Title,
			State:           issue.State,
			AuthorLogin:     issue.AuthorLogin,
			CommentCount:    issue.CommentCount,
			CreatedAtRemote: issue.CreatedAt,
			UpdatedAtRemote: issue.UpdatedAt,
			ClosedAt:        issue.ClosedAt,
		}); err != nil {
			return stats, err
		}
		stats.created++
	}
	return stats, nil
}

// batches yields the items in chunks of at most size.
func batches[T any](items []T, size int) func(yield func([]T) bool) {
	return func(yield func([]T) bool) {
		for start := 0; start < len(items); start += size {
			end := min(start+size, len(items))
			if !yield(items[start:end]) {
				return
			}
		}
	}
}

// isFatalSyncErr reports whether a per-entity failure must abort the whole
// sync. An open breaker means the upstream is down, so hammering on with the
// remaining entities would only keep it open; cancellation means the job is
// being shut down.
func isFatalSyncErr(err error) bool {
	return errors.Is(err, breaker.ErrCircuitOpen) || errors.Is(err, context.Canceled)
}
