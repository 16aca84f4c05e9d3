package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sevigo/repo-pulse/internal/config"
	"github.com/sevigo/repo-pulse/internal/db"
	"github.com/sevigo/repo-pulse/internal/logger"
	"github.com/sevigo/repo-pulse/internal/queue"
	"github.com/sevigo/repo-pulse/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "pulse-cli",
	Short: "pulse-cli is the command-line interface for repo-pulse.",
	Long:  `A CLI for managing the repo-pulse sync service: triggering sync runs and inspecting jobs. Commands talk to the shared job queue; a running server instance executes the work.`,
}

// setupQueue connects to the database and returns a queue manager suitable for
// enqueueing and inspecting jobs. No workers are started here, execution is the
// server's business.
func setupQueue() (*queue.Manager, *slog.Logger, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(cfg.Logger, nil)

	dbConn, cleanup, err := db.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	manager := queue.NewManager(storage.NewJobStore(dbConn.DB), queue.Options{
		BackoffBase:        cfg.Queue.BackoffBase,
		DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
	}, log)

	return manager, log, cleanup, nil
}
