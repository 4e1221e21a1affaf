// Package logging builds the slog loggers used by the harness and by task
// processes, and relays task stderr back into the harness log.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Attribute keys shared by harness and task records.
const (
	KeyRunID = "run_id"
	KeyTask  = "task"
	KeyPID   = "pid"
)

// Config selects the handler for a harness logger.
type Config struct {
	Format  string // "json" (default) or "text"
	Level   string // "debug", "info", "warn" or "error"
	Verbose bool   // forces debug level with source locations
}

// New returns a harness logger writing to w.
func New(w io.Writer, cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard returns a logger that drops every record. The TUI owns the
// terminal while it runs.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewTask returns the logger of a task process. Records are always JSON
// and carry the task name and pid, so the parent's StderrHandler can
// attribute them whatever format the harness itself logs in.
func NewTask(w io.Writer, task string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(KeyTask, task, KeyPID, os.Getpid())
}

// ForRun scopes logger to one run of the workload.
func ForRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(KeyRunID, runID)
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs logger as the slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
