package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Variant must be built in unless a program file replaces it
	if cfg.ProgramFile == "" {
		if _, err := workload.Lookup(cfg.Variant); err != nil {
			errs = append(errs, ValidationError{
				Field:   "variant",
				Message: fmt.Sprintf("must be one of: %s (got %q)", strings.Join(workload.Names(), ", "), cfg.Variant),
			})
		}
	}

	// Backend must be valid
	validBackends := map[string]bool{BackendThread: true, BackendProcess: true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Message: fmt.Sprintf("must be 'thread' or 'process' (got %q)", cfg.Backend),
		})
	}

	// Tick must be positive and small enough to finish in reasonable time
	const maxTick = time.Second
	if cfg.Tick <= 0 {
		errs = append(errs, ValidationError{
			Field:   "tick",
			Message: "must be positive",
		})
	} else if cfg.Tick > maxTick {
		errs = append(errs, ValidationError{
			Field:   "tick",
			Message: fmt.Sprintf("must be at most %v (got %v)", maxTick, cfg.Tick),
		})
	}

	if cfg.Granularity < 0 {
		errs = append(errs, ValidationError{
			Field:   "granularity",
			Message: "must not be negative",
		})
	}

	if cfg.Scale < 1 {
		errs = append(errs, ValidationError{
			Field:   "scale",
			Message: "must be at least 1",
		})
	}

	if cfg.Runs < 1 {
		errs = append(errs, ValidationError{
			Field:   "runs",
			Message: "must be at least 1",
		})
	}

	// Timeout must be positive
	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must be positive",
		})
	}

	if cfg.RunGap < 0 || cfg.RunJitter < 0 {
		errs = append(errs, ValidationError{
			Field:   "run_gap",
			Message: "run gap and jitter must not be negative",
		})
	}

	// Metrics address, if set, must be host:port
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Child environment only reaches task processes
	if len(cfg.ChildEnv) > 0 && cfg.Backend != BackendProcess {
		errs = append(errs, ValidationError{
			Field:   "child_env",
			Message: "-child-env requires -backend process",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
