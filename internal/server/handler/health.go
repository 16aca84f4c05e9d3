package handler

import (
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/sevigo/repo-pulse/internal/breaker"
	"github.com/sevigo/repo-pulse/internal/health"
)

// HealthHandler reports database reachability, circuit breaker states and the
// latest upstream probe.
type HealthHandler struct {
	db       *sqlx.DB
	breakers *breaker.Registry
	monitor  *health.Monitor
	logger   *slog.Logger
}

func NewHealthHandler(db *sqlx.DB, breakers *breaker.Registry, monitor *health.Monitor, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, breakers: breakers, monitor: monitor, logger: logger}
}

// Handle answers 200 when the database is reachable, 503 otherwise. Breaker
// and upstream state are informational and never fail the check on their own:
// the service can still serve job reads while the upstream is down.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "ok"
	dbStatus := "ok"
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Error("health check database ping failed", "error", err)
		dbStatus = "unreachable"
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}

	dependencies := make(map[string]any)
	for name, counts := range h.breakers.States() {
		dependencies[name] = counts
	}

	writeJSON(w, status, map[string]any{
		"status":        overall,
		"database":      dbStatus,
		"dependencies":  dependencies,
		"upstreamProbe": h.monitor.LastResult(),
	})
}
