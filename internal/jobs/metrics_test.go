package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

type fakeCalculator struct {
	repoCalls  []string
	ownerCalls []string
	period     time.Duration
	err        error
}

func (f *fakeCalculator) ComputeRepository(_ context.Context, _ string, fullName string, period time.Duration) (*storage.RepoMetrics, error) {
	f.repoCalls = append(f.repoCalls, fullName)
	f.period = period
	if f.err != nil {
		return nil, f.err
	}
	return &storage.RepoMetrics{CommitCount: 7, PRCount: 2, IssueCount: 1}, nil
}

func (f *fakeCalculator) ComputeOwner(_ context.Context, ownerID string, period time.Duration) ([]*storage.RepoMetrics, error) {
	f.ownerCalls = append(f.ownerCalls, ownerID)
	f.period = period
	if f.err != nil {
		return nil, f.err
	}
	return []*storage.RepoMetrics{
		{CommitCount: 7, PRCount: 2, IssueCount: 1},
		{CommitCount: 3, PRCount: 1, IssueCount: 4},
	}, nil
}

func metricsJob(t *testing.T, jobType string, req *MetricsRequest) *core.Job {
	t.Helper()
	payload, err := core.EncodePayload(req)
	require.NoError(t, err)
	return &core.Job{ID: "metrics-1", Queue: core.QueueMetrics, Type: jobType, Payload: payload}
}

func TestMetricsProcessorsCoverAllJobTypes(t *testing.T) {
	processors := NewMetricsProcessors(&fakeCalculator{}, testLogger())
	types := make([]string, 0, len(processors))
	for _, p := range processors {
		types = append(types, p.Type())
	}
	assert.ElementsMatch(t, []string{
		core.JobTypeMetricsCalculation,
		core.JobTypeBurnoutAnalysis,
		core.JobTypeTeamMetrics,
	}, types)
}

func TestMetricsJobForSingleRepository(t *testing.T) {
	calc := &fakeCalculator{}
	p := NewMetricsProcessors(calc, testLogger())[0]

	result, err := p.Process(context.Background(),
		metricsJob(t, p.Type(), &MetricsRequest{UserID: "u1", RepositoryFullName: "acme/app", PeriodDays: 7}),
		noProgress)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, []string{"acme/app"}, calc.repoCalls)
	assert.Empty(t, calc.ownerCalls)
	assert.Equal(t, 7*24*time.Hour, calc.period)
	assert.Equal(t, 1, result.Data["repositoriesComputed"])
	assert.Equal(t, 7, result.Data["commitCount"])
}

func TestMetricsJobForWholeOwnerUsesDefaultPeriod(t *testing.T) {
	calc := &fakeCalculator{}
	p := NewMetricsProcessors(calc, testLogger())[0]

	result, err := p.Process(context.Background(),
		metricsJob(t, p.Type(), &MetricsRequest{UserID: "u1"}), noProgress)
	require.NoError(t, err)

	assert.Equal(t, []string{"u1"}, calc.ownerCalls)
	assert.Equal(t, 30*24*time.Hour, calc.period)
	assert.Equal(t, 2, result.Data["repositoriesComputed"])
	assert.Equal(t, 10, result.Data["commitCount"])
	assert.Equal(t, 5, result.Data["issueCount"])
}

func TestMetricsJobPropagatesCalculatorError(t *testing.T) {
	calc := &fakeCalculator{err: errors.New("mirror unreachable")}
	p := NewMetricsProcessors(calc, testLogger())[0]

	_, err := p.Process(context.Background(),
		metricsJob(t, p.Type(), &MetricsRequest{UserID: "u1"}), noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror unreachable")
}

func TestMetricsJobRequiresUser(t *testing.T) {
	p := NewMetricsProcessors(&fakeCalculator{}, testLogger())[0]

	_, err := p.Process(context.Background(), metricsJob(t, p.Type(), &MetricsRequest{}), noProgress)
	require.Error(t, err)
}
