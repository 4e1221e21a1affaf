// Package config provides configuration management for timeshare-workload.
package config

import (
	"fmt"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// Backends
const (
	BackendThread  = "thread"
	BackendProcess = "process"
)

// Config holds all configuration options for the harness.
type Config struct {
	// Workload
	Variant     string `json:"variant"`
	ProgramFile string `json:"program_file"`
	Scale       int    `json:"scale"`

	// Scheduling
	Backend     string        `json:"backend"` // thread, process
	Tick        time.Duration `json:"tick"`
	Granularity int           `json:"granularity"`
	ChildEnv    []string      `json:"child_env"`

	// Runs
	Runs      int           `json:"runs"`
	Timeout   time.Duration `json:"timeout"`
	RunGap    time.Duration `json:"run_gap"`
	RunJitter time.Duration `json:"run_jitter"`

	// Observability
	MetricsAddr    string `json:"metrics_addr"`
	MetricsDump    string `json:"metrics_dump"`
	PerTaskMetrics bool   `json:"per_task_metrics"`
	Verbose        bool   `json:"verbose"`
	LogFormat      string `json:"log_format"` // json, text
	TUIEnabled     bool   `json:"tui_enabled"`

	// Diagnostic modes
	List          bool `json:"list"`
	PrintProgram  bool `json:"print_program"`
	SkipPreflight bool `json:"skip_preflight"`

	// Task is set only in task processes started by the process backend.
	Task string `json:"task,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Workload
		Variant: workload.VariantChatty,
		Scale:   1,

		// Scheduling
		Backend:     BackendThread,
		Tick:        time.Millisecond,
		Granularity: 100,

		// Runs
		Runs:    1,
		Timeout: 60 * time.Second,

		// Observability
		MetricsAddr: "127.0.0.1:17092",
		LogFormat:   "text",
	}
}

// LoadProgram resolves the workload program: the program file when set,
// otherwise the built-in variant.
func LoadProgram(cfg *Config) (workload.Program, error) {
	if cfg.ProgramFile != "" {
		p, err := workload.LoadProgramFile(cfg.ProgramFile)
		if err != nil {
			return workload.Program{}, fmt.Errorf("program file: %w", err)
		}
		return p, nil
	}
	return workload.Lookup(cfg.Variant)
}

// ChildArgs renders the flags a task process needs to rebuild the same
// program and timing as the harness.
func ChildArgs(cfg *Config) []string {
	args := []string{
		"-scale", fmt.Sprint(cfg.Scale),
		"-tick", cfg.Tick.String(),
		"-log-format", cfg.LogFormat,
	}
	if cfg.ProgramFile != "" {
		args = append(args, "-program", cfg.ProgramFile)
	} else {
		args = append(args, "-variant", cfg.Variant)
	}
	if cfg.Verbose {
		args = append(args, "-v")
	}
	return args
}
