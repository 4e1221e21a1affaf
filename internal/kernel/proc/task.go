package proc

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/logging"
)

// RunTask runs one task in the current process and exits with its status.
// It never returns. A failed primitive, a panic, or an entry that returns
// without terminating exits with kernel.AbortStatus.
func RunTask(cfg TaskConfig) {
	// cfg.Logger from logging.NewTask already carries the task name.
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With(logging.KeyTask, cfg.Name)
	}

	var entry kernel.Entry
	var ok bool
	if cfg.Resolve != nil {
		entry, ok = cfg.Resolve(cfg.Name)
	}
	if !ok {
		logger.Error("task_fault", "error", fmt.Errorf("%w: %q", ErrUnknownTask, cfg.Name))
		os.Exit(kernel.AbortStatus)
	}

	path := cfg.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			logger.Error("task_fault", "error", err)
			os.Exit(kernel.AbortStatus)
		}
		path = exe
	}

	k := &taskKernel{
		name:   cfg.Name,
		tick:   cfg.Tick,
		path:   path,
		args:   cfg.Args,
		events: cfg.Events,
	}

	defer func() {
		err := kernel.AsFault(cfg.Name, recover())
		if err == nil {
			err = &kernel.Fault{Task: cfg.Name, Op: "return", Err: kernel.ErrNoTerminate}
		}
		logger.Error("task_fault", "error", err)
		os.Exit(kernel.AbortStatus)
	}()

	entry(k)
}

// taskKernel is the kernel.Kernel of a task process.
type taskKernel struct {
	name   string
	tick   time.Duration
	path   string
	args   []string
	events *EventWriter
}

// Spawn re-executes the binary for child. The entry is resolved by name in
// the new process.
func (k *taskKernel) Spawn(child string, _ kernel.Entry) error {
	cmd := exec.Command(k.path, TaskCommand(k.args, child)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if f := k.events.file(); f != nil {
		cmd.ExtraFiles = []*os.File{f}
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", child, err)
	}
	k.events.Spawned(k.name, child, cmd.Process.Pid)
	return cmd.Process.Release()
}

func (k *taskKernel) Sleep(units int) error {
	if units < 0 {
		return fmt.Errorf("sleep %d: negative duration", units)
	}
	time.Sleep(time.Duration(units) * k.tick)
	k.events.Woke(k.name)
	return nil
}

// Write issues a single write(2) on stdout, which the harness shares
// between all task processes as the console.
func (k *taskKernel) Write(p []byte, stream kernel.Stream) error {
	if stream != kernel.ConsoleOutput {
		return fmt.Errorf("write to %s: %w", stream, kernel.ErrBadStream)
	}
	_, err := os.Stdout.Write(p)
	return err
}

func (k *taskKernel) Terminate(status int) {
	os.Exit(status)
}
