// Package logger builds the process-wide slog logger from configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// DefaultLogFile is where file output lands when LOG_FILE is not set.
const DefaultLogFile = "repo-pulse.log"

// Config holds the logger configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	// File is the log file path, used only when Output is "file".
	File string `mapstructure:"file"`
}

// NewLogger builds a slog logger from the configuration. A non-nil output
// overrides the configured sink, which tests use to capture records. Bad
// level or format values fall back to info/text instead of failing startup.
func NewLogger(cfg Config, output io.Writer) *slog.Logger {
	if output == nil {
		output = openSink(cfg)
	}

	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", cfg.Level)
			level = slog.LevelInfo
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}

func openSink(cfg Config) io.Writer {
	switch cfg.Output {
	case "stderr":
		return os.Stderr
	case "file":
		path := cfg.File
		if path == "" {
			path = DefaultLogFile
		}
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s, using stderr: %v\n", path, err)
			return os.Stderr
		}
		return file
	default:
		return os.Stdout
	}
}
