package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

// MetricsCalculator is the collaborator the metrics processors delegate to.
// internal/metrics provides the Postgres-backed implementation.
type MetricsCalculator interface {
	ComputeRepository(ctx context.Context, ownerID, fullName string, period time.Duration) (*storage.RepoMetrics, error)
	ComputeOwner(ctx context.Context, ownerID string, period time.Duration) ([]*storage.RepoMetrics, error)
}

// MetricsRequest is the payload shared by the metrics job types. An empty
// RepositoryFullName targets every sync-enabled repository of the user.
type MetricsRequest struct {
	UserID             string `json:"userId"`
	RepositoryFullName string `json:"repositoryFullName,omitempty"`
	PeriodDays         int    `json:"periodDays,omitempty"`
}

const defaultMetricsPeriodDays = 30

func (r *MetricsRequest) period() time.Duration {
	days := r.PeriodDays
	if days <= 0 {
		days = defaultMetricsPeriodDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// metricsProcessor backs the three analytics job types. They share the same
// aggregation path; what differs downstream is how consumers read the rows,
// so the processors differ only in type name and summary message.
type metricsProcessor struct {
	jobType    string
	calculator MetricsCalculator
	logger     *slog.Logger
}

// NewMetricsProcessors returns the processors for metrics-calculation,
// burnout-analysis and team-metrics jobs.
func NewMetricsProcessors(calculator MetricsCalculator, logger *slog.Logger) []core.Processor {
	out := make([]core.Processor, 0, 3)
	for _, jobType := range []string{
		core.JobTypeMetricsCalculation,
		core.JobTypeBurnoutAnalysis,
		core.JobTypeTeamMetrics,
	} {
		out = append(out, &metricsProcessor{jobType: jobType, calculator: calculator, logger: logger})
	}
	return out
}

func (p *metricsProcessor) Type() string { return p.jobType }

func (p *metricsProcessor) Process(ctx context.Context, job *core.Job, report core.ProgressFn) (*core.JobResult, error) {
	var req MetricsRequest
	if err := core.DecodePayload(job.Payload, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("userId cannot be empty")
	}

	_ = report(ctx, 10, "aggregating mirror data")

	var (
		computed []*storage.RepoMetrics
		err      error
	)
	if req.RepositoryFullName != "" {
		var m *storage.RepoMetrics
		m, err = p.calculator.ComputeRepository(ctx, req.UserID, req.RepositoryFullName, req.period())
		if m != nil {
			computed = append(computed, m)
		}
	} else {
		computed, err = p.calculator.ComputeOwner(ctx, req.UserID, req.period())
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.jobType, err)
	}

	var commits, prs, issues int
	for _, m := range computed {
		commits += m.CommitCount
		prs += m.PRCount
		issues += m.IssueCount
	}

	p.logger.Info("metrics job finished", "type", p.jobType, "user", req.UserID,
		"repositories", len(computed))

	return &core.JobResult{
		Success: true,
		Message: fmt.Sprintf("aggregated %d repositories", len(computed)),
		Data: map[string]any{
			"repositoriesComputed": len(computed),
			"commitCount":          commits,
			"prCount":              prs,
			"issueCount":           issues,
			"periodDays":           int(req.period().Hours() / 24),
		},
	}, nil
}
