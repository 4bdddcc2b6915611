package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"driftsync/internal/config"
)

// New constructs a zerolog logger from config settings. Defaults to
// JSON, info level, stdout when fields are empty. The returned closer
// is non-nil only for file output.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && cfg.Level != "" {
		level = parsed
	}

	output, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	if useConsole(cfg, app) {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Logger()

	return &base, closer, nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return file, file, nil
	default:
		return nil, nil, fmt.Errorf("unknown logging output %q", cfg.Output)
	}
}

func useConsole(cfg config.LoggingConfig, app config.AppConfig) bool {
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "console":
		return true
	case "json":
		return false
	}
	// Unset format: human output for development, JSON elsewhere.
	return strings.EqualFold(app.Environment, "development")
}
