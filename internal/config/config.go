// Package config loads and validates the application's configuration.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/repo-pulse/internal/logger"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	SSLMode         string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// GitHubConfig selects how the source client authenticates. A personal access
// token takes precedence; otherwise App credentials are used.
type GitHubConfig struct {
	Token             string
	AppID             int64
	InstallationID    int64
	PrivateKeyPath    string
	RequestsPerSecond float64
}

// QueueConfig tunes the queue manager and its worker pools.
type QueueConfig struct {
	SyncWorkers        int
	RepoSyncWorkers    int
	MetricsWorkers     int
	PollInterval       time.Duration
	BackoffBase        time.Duration
	DefaultMaxAttempts int
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	CompletedCap       int
	SweepInterval      time.Duration
	StaleActiveAfter   time.Duration
}

// BreakerConfig tunes the circuit breaker guarding the source API.
type BreakerConfig struct {
	FailureThreshold  int
	SuccessThreshold  int
	ResetTimeout      time.Duration
	CallTimeout       time.Duration
	MaxHalfOpenProbes int
}

// SyncConfig tunes reconciliation and scheduling behavior.
type SyncConfig struct {
	FullLookbackDays int
	BatchSize        int
	BatchConcurrency int
	ChildJobTimeout  time.Duration
	ScheduleHourUTC  int
	RunOnStart       bool
	HealthProbeEvery time.Duration
}

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig
	Database DBConfig
	GitHub   GitHubConfig
	Queue    QueueConfig
	Breaker  BreakerConfig
	Sync     SyncConfig
	Logger   logger.Config
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_OUTPUT", "stdout")

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_USER", "repopulse")
	viper.SetDefault("DB_NAME", "repopulse")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	viper.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")

	viper.SetDefault("GITHUB_PRIVATE_KEY_PATH", "keys/repo-pulse-app.private-key.pem")
	viper.SetDefault("GITHUB_REQUESTS_PER_SECOND", 5.0)

	viper.SetDefault("QUEUE_SYNC_WORKERS", 2)
	viper.SetDefault("QUEUE_REPO_SYNC_WORKERS", 4)
	viper.SetDefault("QUEUE_METRICS_WORKERS", 2)
	viper.SetDefault("QUEUE_POLL_INTERVAL", "1s")
	viper.SetDefault("QUEUE_BACKOFF_BASE", "5s")
	viper.SetDefault("QUEUE_DEFAULT_MAX_ATTEMPTS", 3)
	viper.SetDefault("QUEUE_COMPLETED_RETENTION", "24h")
	viper.SetDefault("QUEUE_FAILED_RETENTION", "168h")
	viper.SetDefault("QUEUE_COMPLETED_CAP", 1000)
	viper.SetDefault("QUEUE_SWEEP_INTERVAL", "10m")
	viper.SetDefault("QUEUE_STALE_ACTIVE_AFTER", "30m")

	viper.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	viper.SetDefault("BREAKER_SUCCESS_THRESHOLD", 2)
	viper.SetDefault("BREAKER_RESET_TIMEOUT", "30s")
	viper.SetDefault("BREAKER_CALL_TIMEOUT", "10s")
	viper.SetDefault("BREAKER_MAX_HALF_OPEN_PROBES", 3)

	viper.SetDefault("SYNC_FULL_LOOKBACK_DAYS", 30)
	viper.SetDefault("SYNC_BATCH_SIZE", 50)
	viper.SetDefault("SYNC_BATCH_CONCURRENCY", 8)
	viper.SetDefault("SYNC_CHILD_JOB_TIMEOUT", "15m")
	viper.SetDefault("SYNC_SCHEDULE_HOUR_UTC", 3)
	viper.SetDefault("SYNC_RUN_ON_START", false)
	viper.SetDefault("SYNC_HEALTH_PROBE_EVERY", "1m")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Debug("no .env file found, relying on environment", "error", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		Database: DBConfig{
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			Username:        viper.GetString("DB_USER"),
			Password:        viper.GetString("DB_PASSWORD"),
			Database:        viper.GetString("DB_NAME"),
			SSLMode:         viper.GetString("DB_SSLMODE"),
			ConnMaxLifetime: viper.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: viper.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		GitHub: GitHubConfig{
			Token:             viper.GetString("GITHUB_TOKEN"),
			AppID:             viper.GetInt64("GITHUB_APP_ID"),
			InstallationID:    viper.GetInt64("GITHUB_INSTALLATION_ID"),
			PrivateKeyPath:    viper.GetString("GITHUB_PRIVATE_KEY_PATH"),
			RequestsPerSecond: viper.GetFloat64("GITHUB_REQUESTS_PER_SECOND"),
		},
		Queue: QueueConfig{
			SyncWorkers:        viper.GetInt("QUEUE_SYNC_WORKERS"),
			RepoSyncWorkers:    viper.GetInt("QUEUE_REPO_SYNC_WORKERS"),
			MetricsWorkers:     viper.GetInt("QUEUE_METRICS_WORKERS"),
			PollInterval:       viper.GetDuration("QUEUE_POLL_INTERVAL"),
			BackoffBase:        viper.GetDuration("QUEUE_BACKOFF_BASE"),
			DefaultMaxAttempts: viper.GetInt("QUEUE_DEFAULT_MAX_ATTEMPTS"),
			CompletedRetention: viper.GetDuration("QUEUE_COMPLETED_RETENTION"),
			FailedRetention:    viper.GetDuration("QUEUE_FAILED_RETENTION"),
			CompletedCap:       viper.GetInt("QUEUE_COMPLETED_CAP"),
			SweepInterval:      viper.GetDuration("QUEUE_SWEEP_INTERVAL"),
			StaleActiveAfter:   viper.GetDuration("QUEUE_STALE_ACTIVE_AFTER"),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  viper.GetInt("BREAKER_FAILURE_THRESHOLD"),
			SuccessThreshold:  viper.GetInt("BREAKER_SUCCESS_THRESHOLD"),
			ResetTimeout:      viper.GetDuration("BREAKER_RESET_TIMEOUT"),
			CallTimeout:       viper.GetDuration("BREAKER_CALL_TIMEOUT"),
			MaxHalfOpenProbes: viper.GetInt("BREAKER_MAX_HALF_OPEN_PROBES"),
		},
		Sync: SyncConfig{
			FullLookbackDays: viper.GetInt("SYNC_FULL_LOOKBACK_DAYS"),
			BatchSize:        viper.GetInt("SYNC_BATCH_SIZE"),
			BatchConcurrency: viper.GetInt("SYNC_BATCH_CONCURRENCY"),
			ChildJobTimeout:  viper.GetDuration("SYNC_CHILD_JOB_TIMEOUT"),
			ScheduleHourUTC:  viper.GetInt("SYNC_SCHEDULE_HOUR_UTC"),
			RunOnStart:       viper.GetBool("SYNC_RUN_ON_START"),
			HealthProbeEvery: viper.GetDuration("SYNC_HEALTH_PROBE_EVERY"),
		},
		Logger: logger.Config{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
			Output: viper.GetString("LOG_OUTPUT"),
			File:   viper.GetString("LOG_FILE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the application cannot run with.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" && c.GitHub.AppID == 0 {
		return fmt.Errorf("either GITHUB_TOKEN or GITHUB_APP_ID must be set")
	}
	if c.GitHub.Token == "" && c.GitHub.InstallationID == 0 {
		return fmt.Errorf("GITHUB_INSTALLATION_ID must be set when using App authentication")
	}
	if c.Queue.DefaultMaxAttempts < 1 {
		return fmt.Errorf("QUEUE_DEFAULT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if c.Breaker.MaxHalfOpenProbes < 1 {
		return fmt.Errorf("BREAKER_MAX_HALF_OPEN_PROBES must be at least 1")
	}
	if c.Sync.ScheduleHourUTC < 0 || c.Sync.ScheduleHourUTC > 23 {
		return fmt.Errorf("SYNC_SCHEDULE_HOUR_UTC must be between 0 and 23, got %d", c.Sync.ScheduleHourUTC)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1")
	}
	if c.Sync.BatchConcurrency < 1 {
		return fmt.Errorf("SYNC_BATCH_CONCURRENCY must be at least 1")
	}
	return nil
}
