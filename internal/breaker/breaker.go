// Package breaker implements a per-dependency circuit breaker that stops
// calling a failing dependency for a cooldown period to avoid cascading
// failure. State lives in memory only and resets to closed on restart.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state machine value.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrCircuitOpen is returned without invoking the wrapped call while the
// breaker is open and the reset timeout has not elapsed. Callers use it to
// distinguish "upstream is down" from a failure of their own logic.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyProbes is returned when the half-open trial budget is already in
// flight. It wraps ErrCircuitOpen so existing errors.Is checks keep working.
var ErrTooManyProbes = fmt.Errorf("%w: too many half-open probes", ErrCircuitOpen)

// Settings configures a single breaker. Zero fields fall back to defaults.
type Settings struct {
	// FailureThreshold is the number of consecutive failures (from closed)
	// that trips the breaker. Default 5.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes required to close
	// the breaker again. Default 2.
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before allowing
	// half-open probes. Default 30s.
	ResetTimeout time.Duration
	// CallTimeout bounds each wrapped call; an expired call counts as a
	// failure. Default 10s.
	CallTimeout time.Duration
	// MaxHalfOpenProbes bounds concurrent trial calls in half-open state.
	// Default 3.
	MaxHalfOpenProbes int
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.MaxHalfOpenProbes <= 0 {
		s.MaxHalfOpenProbes = 3
	}
	return s
}

// Counts is a snapshot of a breaker's internal counters, exposed for health
// reporting.
type Counts struct {
	State           State
	FailureCount    int
	SuccessCount    int
	NextAttemptTime time.Time
	ProbesInFlight  int
}

// Breaker guards one named external dependency. All state mutation is
// serialized through the mutex because concurrent jobs calling the same
// dependency share one instance.
type Breaker struct {
	name     string
	settings Settings
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	nextAttempt time.Time
	probes      int

	now func() time.Time
}

// New creates a closed breaker for the named dependency.
func New(name string, settings Settings, logger *slog.Logger) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		logger:   logger,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Execute runs fn under the breaker's protection. It fails immediately with
// ErrCircuitOpen when the breaker is open, bounds the call with the configured
// timeout, and records the outcome against the state machine.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.settings.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	// A call that outlived its budget is an upstream failure regardless of
	// what fn returned.
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}

	b.afterCall(err)
	return err
}

// beforeCall decides whether the call may proceed and reserves a half-open
// probe slot when applicable.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.nextAttempt) {
			return fmt.Errorf("%w: dependency %q, retry after %s",
				ErrCircuitOpen, b.name, b.nextAttempt.Format(time.RFC3339))
		}
		b.transition(StateHalfOpen)
		b.probes = 1
		return nil
	case StateHalfOpen:
		if b.probes >= b.settings.MaxHalfOpenProbes {
			return ErrTooManyProbes
		}
		b.probes++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if err != nil {
		b.onFailure()
		return
	}
	b.onSuccess()
}

func (b *Breaker) onFailure() {
	b.failures++
	b.successes = 0

	switch b.state {
	case StateClosed:
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		// A single half-open failure reopens the breaker and re-arms the
		// reset timeout.
		b.trip()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
			b.probes = 0
		}
	}
}

func (b *Breaker) trip() {
	b.transition(StateOpen)
	b.nextAttempt = b.now().Add(b.settings.ResetTimeout)
	b.successes = 0
	b.probes = 0
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Warn("circuit breaker state change",
		"dependency", b.name,
		"from", b.state.String(),
		"to", to.String(),
	)
	b.state = to
}

// Reset forces the breaker closed. Used when an external health check has
// confirmed the dependency recovered.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
	b.probes = 0
	b.nextAttempt = time.Time{}
}

// State returns the current state without mutating the machine.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the breaker's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		State:           b.state,
		FailureCount:    b.failures,
		SuccessCount:    b.successes,
		NextAttemptTime: b.nextAttempt,
		ProbesInFlight:  b.probes,
	}
}

// Do runs a value-returning call under the breaker.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	return out, err
}
