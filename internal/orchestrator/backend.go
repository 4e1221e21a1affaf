package orchestrator

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/config"
	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel/proc"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel/thread"
	"github.com/randomizedcoder/go-timeshare-workload/internal/logging"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// MachineFactory builds the kernel.Machine for one run.
type MachineFactory func(sup *supervisor.Supervisor, con *console.Console, logger *slog.Logger) (kernel.Machine, error)

// NewMachineFactory returns the factory for cfg.Backend.
func NewMachineFactory(cfg *config.Config, program workload.Program, stderr *logging.StderrHandler) (MachineFactory, error) {
	switch cfg.Backend {
	case config.BackendThread:
		return ThreadFactory(cfg.Tick), nil
	case config.BackendProcess:
		var env []string
		if len(cfg.ChildEnv) > 0 {
			env = append(os.Environ(), cfg.ChildEnv...)
		}
		return ProcessFactory(proc.Config{
			Args:    config.ChildArgs(cfg),
			Env:     env,
			Program: program,
			Stderr:  stderr,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// ThreadFactory runs every task as a goroutine.
func ThreadFactory(tick time.Duration) MachineFactory {
	return func(sup *supervisor.Supervisor, con *console.Console, logger *slog.Logger) (kernel.Machine, error) {
		return thread.New(thread.Config{
			Tick:       tick,
			Supervisor: sup,
			Console:    con,
			Logger:     logger,
		})
	}
}

// ProcessFactory runs every task as a re-executed process. base supplies
// everything but the per-run supervisor, console and logger.
func ProcessFactory(base proc.Config) MachineFactory {
	return func(sup *supervisor.Supervisor, con *console.Console, logger *slog.Logger) (kernel.Machine, error) {
		cfg := base
		cfg.Supervisor = sup
		cfg.Console = con
		cfg.Logger = logger
		return proc.New(cfg)
	}
}
