// Package metrics computes aggregate activity windows from the mirrored data.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/repo-pulse/internal/storage"
)

// Calculator reads the mirror and materializes repo_metrics rows. It never
// touches the remote host; metrics jobs are pure reads over already-synced
// data.
type Calculator struct {
	store  storage.MirrorStore
	logger *slog.Logger
}

func NewCalculator(store storage.MirrorStore, logger *slog.Logger) *Calculator {
	return &Calculator{store: store, logger: logger}
}

// ComputeRepository aggregates one repository over the trailing period and
// persists the result. The stored row is returned.
func (c *Calculator) ComputeRepository(ctx context.Context, ownerID, fullName string, period time.Duration) (*storage.RepoMetrics, error) {
	repo, err := c.store.GetRepositoryByFullName(ctx, ownerID, fullName)
	if err != nil {
		return nil, fmt.Errorf("resolve repository %s: %w", fullName, err)
	}

	to := time.Now().UTC()
	from := to.Add(-period)

	summary, err := c.store.ActivitySummary(ctx, repo.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize activity for %s: %w", fullName, err)
	}
	summary.RepositoryID = repo.ID
	summary.PeriodStart = from
	summary.PeriodEnd = to
	summary.ComputedAt = to

	if err := c.store.UpsertRepoMetrics(ctx, summary); err != nil {
		return nil, fmt.Errorf("store metrics for %s: %w", fullName, err)
	}

	c.logger.Debug("computed repository metrics",
		"repo", fullName, "commits", summary.CommitCount, "prs", summary.PRCount,
		"issues", summary.IssueCount, "active_authors", summary.ActiveAuthors)
	return summary, nil
}

// ComputeOwner aggregates every sync-enabled repository of the owner. A
// repository that fails to aggregate is logged and skipped so one broken repo
// does not void the whole run.
func (c *Calculator) ComputeOwner(ctx context.Context, ownerID string, period time.Duration) ([]*storage.RepoMetrics, error) {
	repos, err := c.store.ListSyncEnabledRepositories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list repositories for %s: %w", ownerID, err)
	}

	out := make([]*storage.RepoMetrics, 0, len(repos))
	for _, repo := range repos {
		m, err := c.ComputeRepository(ctx, ownerID, repo.FullName, period)
		if err != nil {
			c.logger.Warn("skipping repository metrics", "repo", repo.FullName, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
