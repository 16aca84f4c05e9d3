package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T, settings Settings) (*Breaker, *time.Time) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New("test-dep", settings, logger)

	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func failingCall(ctx context.Context) error { return errBoom }
func okCall(ctx context.Context) error      { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Settings{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, failingCall)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// Next call must be rejected without invoking the function.
	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, Settings{FailureThreshold: 3})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	require.Error(t, b.Execute(ctx, failingCall))
	require.NoError(t, b.Execute(ctx, okCall))
	require.Error(t, b.Execute(ctx, failingCall))
	require.Error(t, b.Execute(ctx, failingCall))

	// Only 2 consecutive failures since the success, still closed.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	b, now := newTestBreaker(t, Settings{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	require.Equal(t, StateOpen, b.State())

	// Before the timeout, still rejecting.
	require.ErrorIs(t, b.Execute(ctx, okCall), ErrCircuitOpen)

	*now = now.Add(31 * time.Second)

	// First call after the timeout is a trial; it succeeds but one success is
	// not enough to close yet.
	require.NoError(t, b.Execute(ctx, okCall))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, okCall))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, Settings{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
	})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	*now = now.Add(31 * time.Second)

	require.ErrorIs(t, b.Execute(ctx, failingCall), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Timeout re-armed: still rejecting until another full reset window.
	*now = now.Add(29 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, okCall), ErrCircuitOpen)
}

func TestBreakerHalfOpenProbeBound(t *testing.T) {
	b, now := newTestBreaker(t, Settings{
		FailureThreshold:  1,
		SuccessThreshold:  10,
		ResetTimeout:      time.Second,
		MaxHalfOpenProbes: 2,
	})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	*now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(ctx, func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	// Both probe slots taken: the next call fails fast.
	err := b.Execute(ctx, okCall)
	require.ErrorIs(t, err, ErrTooManyProbes)
	require.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	wg.Wait()
}

func TestBreakerCallTimeout(t *testing.T) {
	b, _ := newTestBreaker(t, Settings{
		FailureThreshold: 1,
		CallTimeout:      20 * time.Millisecond,
	})
	ctx := context.Background()

	err := b.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(t, Settings{FailureThreshold: 1})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Execute(ctx, okCall))
}

func TestRegistryCreatesLazilyPerName(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := NewRegistry(Settings{}, logger)

	a := reg.Get("external-source-api")
	b := reg.Get("external-source-api")
	c := reg.Get("other-dep")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	states := reg.States()
	require.Len(t, states, 2)
	assert.Equal(t, StateClosed, states["external-source-api"].State)
}
