package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/repo-pulse/internal/breaker"
	"github.com/sevigo/repo-pulse/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	core.SourceClient

	rate *core.RateLimitStatus
	err  error
}

func (f *fakeSource) GetRateLimitStatus(context.Context) (*core.RateLimitStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rate, nil
}

func TestProbeRecordsHealthyResult(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute)
	source := &fakeSource{rate: &core.RateLimitStatus{Limit: 5000, Remaining: 4200, ResetAt: reset}}
	breakers := breaker.NewRegistry(breaker.Settings{}, testLogger())
	m := NewMonitor(source, breakers, time.Minute, testLogger())

	m.probe(context.Background())

	result := m.LastResult()
	assert.True(t, result.Healthy)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.RateLimit)
	assert.Equal(t, 4200, result.RateLimit.Remaining)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestProbeRecordsFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("503 service unavailable")}
	breakers := breaker.NewRegistry(breaker.Settings{}, testLogger())
	m := NewMonitor(source, breakers, time.Minute, testLogger())

	m.probe(context.Background())

	result := m.LastResult()
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Error, "503")
	assert.Nil(t, result.RateLimit)
}

func TestProbeResetsOpenBreakerOnRecovery(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Settings{FailureThreshold: 1}, testLogger())
	brk := breakers.Get(core.SourceAPIDependency)
	_ = brk.Execute(context.Background(), func(context.Context) error {
		return errors.New("down")
	})
	require.Equal(t, breaker.StateOpen, brk.State())

	source := &fakeSource{rate: &core.RateLimitStatus{Limit: 5000, Remaining: 100}}
	m := NewMonitor(source, breakers, time.Minute, testLogger())

	m.probe(context.Background())

	assert.Equal(t, breaker.StateClosed, brk.State())
	assert.True(t, m.LastResult().Healthy)
}

func TestProbeLeavesBreakerOpenWhileUpstreamFails(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Settings{FailureThreshold: 1}, testLogger())
	brk := breakers.Get(core.SourceAPIDependency)
	_ = brk.Execute(context.Background(), func(context.Context) error {
		return errors.New("down")
	})
	require.Equal(t, breaker.StateOpen, brk.State())

	source := &fakeSource{err: errors.New("still down")}
	m := NewMonitor(source, breakers, time.Minute, testLogger())

	m.probe(context.Background())

	assert.Equal(t, breaker.StateOpen, brk.State())
	assert.False(t, m.LastResult().Healthy)
}
