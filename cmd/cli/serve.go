package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sevigo/repo-pulse/internal/app"
	"github.com/sevigo/repo-pulse/internal/config"
	"github.com/sevigo/repo-pulse/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the repo-pulse server with workers, scheduler and HTTP API",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log := logger.NewLogger(cfg.Logger, nil)
		slog.SetDefault(log)

		application, err := app.NewApp(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}

		go func() {
			if err := application.Start(ctx); err != nil {
				log.Error("server error", "error", err)
				cancel()
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("received shutdown signal")
		case <-ctx.Done():
		}

		application.Stop()
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(serveCmd)
}
