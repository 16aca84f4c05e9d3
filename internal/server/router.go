package server

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/sevigo/repo-pulse/internal/breaker"
	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/health"
	"github.com/sevigo/repo-pulse/internal/server/handler"
)

// NewRouter creates and configures the HTTP router with middleware and API routes.
func NewRouter(queue core.QueueManager, db *sqlx.DB, breakers *breaker.Registry, monitor *health.Monitor, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	healthHandler := handler.NewHealthHandler(db, breakers, monitor, logger)
	r.Get("/health", healthHandler.Handle)

	r.Route("/api/v1", func(r chi.Router) {
		jobHandler := handler.NewJobHandler(queue, logger)
		r.Post("/jobs", jobHandler.Create)
		r.Get("/jobs", jobHandler.List)
		r.Get("/jobs/{id}", jobHandler.Get)
	})

	return r
}
