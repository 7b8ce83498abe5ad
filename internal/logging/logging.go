// Package logging configures the process-wide slog logger: a rotating file
// writer plus stderr, JSON when piped and human-readable text on a TTY.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file location. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr also mirrors log output to stderr.
	WriteToStderr bool
}

// Setup initializes the default logger and returns a cleanup function that
// flushes and closes the log file.
func Setup(cfg Config) (func(), error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}

	var writers []io.Writer
	var rotating *RotatingWriter

	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, err
		}
		rotating = w
		writers = append(writers, w)
	}
	if cfg.WriteToStderr || rotating == nil {
		writers = append(writers, os.Stderr)
	}

	output := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) && rotating == nil {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	slog.SetDefault(slog.New(handler))

	cleanup := func() {
		if rotating != nil {
			_ = rotating.Sync()
			_ = rotating.Close()
		}
	}
	return cleanup, nil
}

// ParseLevel converts a level string to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
