// Package app initializes and orchestrates the main components of the
// application. It wires together configuration, storage, the queue, the sync
// processors and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sevigo/repo-pulse/internal/breaker"
	"github.com/sevigo/repo-pulse/internal/config"
	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/db"
	"github.com/sevigo/repo-pulse/internal/github"
	"github.com/sevigo/repo-pulse/internal/health"
	"github.com/sevigo/repo-pulse/internal/jobs"
	"github.com/sevigo/repo-pulse/internal/metrics"
	"github.com/sevigo/repo-pulse/internal/queue"
	"github.com/sevigo/repo-pulse/internal/server"
	"github.com/sevigo/repo-pulse/internal/storage"
)

// App holds the main application components.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	dbCleanup func()
	queue     *queue.Manager
	scheduler *jobs.Scheduler
	monitor   *health.Monitor
	server    *server.Server

	cancelBackground context.CancelFunc
}

// NewApp sets up the application with all its dependencies.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger.Info("initializing repo-pulse",
		"schedule_hour_utc", cfg.Sync.ScheduleHourUTC,
		"sync_workers", cfg.Queue.SyncWorkers,
		"repo_sync_workers", cfg.Queue.RepoSyncWorkers)

	dbConn, dbCleanup, err := db.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	jobStore := storage.NewJobStore(dbConn.DB)
	mirrorStore := storage.NewMirrorStore(dbConn.DB)

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		SuccessThreshold:  cfg.Breaker.SuccessThreshold,
		ResetTimeout:      cfg.Breaker.ResetTimeout,
		CallTimeout:       cfg.Breaker.CallTimeout,
		MaxHalfOpenProbes: cfg.Breaker.MaxHalfOpenProbes,
	}, logger)
	sourceBreaker := breakers.Get(core.SourceAPIDependency)

	sourceClient, err := github.NewSourceClient(ctx, cfg, logger)
	if err != nil {
		dbCleanup()
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}

	queueManager := queue.NewManager(jobStore, queue.Options{
		PollInterval:       cfg.Queue.PollInterval,
		BackoffBase:        cfg.Queue.BackoffBase,
		DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
		CompletedCap:       cfg.Queue.CompletedCap,
		SweepInterval:      cfg.Queue.SweepInterval,
		StaleActiveAfter:   cfg.Queue.StaleActiveAfter,
	}, logger)

	repoSync := jobs.NewRepositorySyncProcessor(sourceClient, mirrorStore, sourceBreaker, jobs.SyncSettings{
		FullLookbackDays: cfg.Sync.FullLookbackDays,
		BatchSize:        cfg.Sync.BatchSize,
		BatchConcurrency: cfg.Sync.BatchConcurrency,
	}, logger)

	orchestrator := jobs.NewOrchestrator(queueManager, mirrorStore, cfg.Sync.ChildJobTimeout, logger)
	calculator := metrics.NewCalculator(mirrorStore, logger)

	processors := []core.Processor{repoSync}
	processors = append(processors, orchestrator.Processors()...)
	processors = append(processors, jobs.NewMetricsProcessors(calculator, logger)...)
	for _, p := range processors {
		if err := queueManager.Register(p); err != nil {
			dbCleanup()
			return nil, fmt.Errorf("failed to register processor: %w", err)
		}
	}

	scheduler := jobs.NewScheduler(queueManager, mirrorStore,
		cfg.Sync.ScheduleHourUTC, cfg.Sync.RunOnStart, logger)
	monitor := health.NewMonitor(sourceClient, breakers, cfg.Sync.HealthProbeEvery, logger)

	router := server.NewRouter(queueManager, dbConn.DB, breakers, monitor, logger)
	httpServer := server.NewServer(cfg, router, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		dbCleanup: dbCleanup,
		queue:     queueManager,
		scheduler: scheduler,
		monitor:   monitor,
		server:    httpServer,
	}, nil
}

// Start launches the background components and then blocks serving HTTP until
// shutdown.
func (a *App) Start(ctx context.Context) error {
	backgroundCtx, cancel := context.WithCancel(context.Background())
	a.cancelBackground = cancel

	a.queue.StartWorkers(backgroundCtx, core.QueueSync, a.cfg.Queue.SyncWorkers)
	a.queue.StartWorkers(backgroundCtx, core.QueueRepoSync, a.cfg.Queue.RepoSyncWorkers)
	a.queue.StartWorkers(backgroundCtx, core.QueueMetrics, a.cfg.Queue.MetricsWorkers)
	a.queue.StartSweeper(backgroundCtx)
	a.scheduler.Start(backgroundCtx)
	a.monitor.Start(backgroundCtx)

	return a.server.Start()
}

// Stop shuts the application down in reverse start order: first the HTTP
// server stops accepting work, then background loops and workers drain, and
// the database pool closes last.
func (a *App) Stop() {
	if err := a.server.Stop(); err != nil {
		a.logger.Error("failed to stop HTTP server", "error", err)
	}
	if a.cancelBackground != nil {
		a.cancelBackground()
	}
	a.queue.Stop()
	a.dbCleanup()
	a.logger.Info("application stopped")
}
