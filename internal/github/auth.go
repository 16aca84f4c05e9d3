package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/sevigo/repo-pulse/internal/config"
	"github.com/sevigo/repo-pulse/internal/core"
)

// NewSourceClient builds a core.SourceClient from the configured credentials.
// A personal access token takes precedence; otherwise the client authenticates
// as a GitHub App installation.
func NewSourceClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.SourceClient, error) {
	if cfg.GitHub.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHub.Token})
		tc := oauth2.NewClient(ctx, ts)
		logger.Info("using token authentication for source API")
		return NewClient(github.NewClient(tc), cfg.GitHub.RequestsPerSecond, logger), nil
	}
	return newInstallationClient(cfg, logger)
}

// newInstallationClient authenticates as a GitHub App installation. The
// ghinstallation transport refreshes the installation token on expiry, so the
// client stays valid across the long-running sync schedule.
func newInstallationClient(cfg *config.Config, logger *slog.Logger) (core.SourceClient, error) {
	logger.Info("creating installation client for source API",
		"app_id", cfg.GitHub.AppID, "installation_id", cfg.GitHub.InstallationID)

	privateKey, err := os.ReadFile(cfg.GitHub.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.GitHub.PrivateKeyPath, err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, cfg.GitHub.AppID, cfg.GitHub.InstallationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation transport: %w", err)
	}

	client := github.NewClient(&http.Client{Transport: transport})
	return NewClient(client, cfg.GitHub.RequestsPerSecond, logger), nil
}
