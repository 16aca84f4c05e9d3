// Package health probes the upstream source API and feeds the health endpoint.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sevigo/repo-pulse/internal/breaker"
	"github.com/sevigo/repo-pulse/internal/core"
)

// ProbeResult is the outcome of the latest upstream probe.
type ProbeResult struct {
	CheckedAt time.Time             `json:"checkedAt"`
	Healthy   bool                  `json:"healthy"`
	Error     string                `json:"error,omitempty"`
	RateLimit *core.RateLimitStatus `json:"rateLimit,omitempty"`
}

// Monitor periodically probes the source API rate-limit endpoint. The probe
// deliberately bypasses the circuit breaker: it is the recovery signal, so it
// must keep running while the breaker blocks regular traffic. A successful
// probe against an open breaker force-closes it.
type Monitor struct {
	source   core.SourceClient
	breakers *breaker.Registry
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last ProbeResult
}

// NewMonitor creates the monitor. interval <= 0 selects one minute.
func NewMonitor(source core.SourceClient, breakers *breaker.Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		source:   source,
		breakers: breakers,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the probe loop and returns immediately. One probe runs right
// away so the health endpoint has data from the first request on.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := ProbeResult{CheckedAt: time.Now().UTC()}

	status, err := m.source.GetRateLimitStatus(probeCtx)
	if err != nil {
		result.Error = err.Error()
		m.logger.Warn("upstream probe failed", "error", err)
	} else {
		result.Healthy = true
		result.RateLimit = status

		brk := m.breakers.Get(core.SourceAPIDependency)
		if brk.State() == breaker.StateOpen {
			m.logger.Info("upstream recovered, closing circuit breaker",
				"dependency", core.SourceAPIDependency,
				"rate_limit_remaining", status.Remaining)
			brk.Reset()
		}
	}

	m.mu.Lock()
	m.last = result
	m.mu.Unlock()
}

// LastResult returns the most recent probe outcome. Before the first probe
// settles, the zero result reports unhealthy with a zero timestamp.
func (m *Monitor) LastResult() ProbeResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
