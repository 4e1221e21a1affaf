// Package proc runs workload tasks as separate operating-system processes.
//
// The harness re-executes its own binary once per task with a -task flag.
// Task processes share the harness's console pipe as stdout and report
// progress as JSON lines on file descriptor 3. The harness is a child
// subreaper, so every task process, orphaned or not, is reaped by it and
// its exit status is collected there.
package proc

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/logging"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// TaskFlag is the hidden flag that selects child mode.
const TaskFlag = "task"

// eventFD is the descriptor task processes report events on.
const eventFD = 3

var (
	// ErrUnsupported is returned on platforms without the process backend.
	ErrUnsupported = errors.New("process backend requires linux")

	// ErrAbnormalExit describes a task process killed by a signal or exiting
	// with the abort status.
	ErrAbnormalExit = errors.New("task process ended abnormally")

	// ErrUnknownTask is returned in child mode for a name the program lacks.
	ErrUnknownTask = errors.New("unknown task")
)

// Config holds configuration for the harness side of the backend.
type Config struct {
	Path    string   // executable to re-run, default os.Executable()
	Args    []string // flags placed before -task
	Env     []string // nil inherits the harness environment
	Program workload.Program

	Supervisor *supervisor.Supervisor
	Console    *console.Console        // nil discards output
	Stderr     *logging.StderrHandler // nil creates one on Logger
	Logger     *slog.Logger
}

// TaskConfig holds configuration for a task process.
type TaskConfig struct {
	Name    string
	Resolve func(name string) (kernel.Entry, bool)
	Events  *EventWriter
	Tick    time.Duration
	Path    string   // executable for Spawn, default os.Executable()
	Args    []string // flags placed before -task for spawned children
	Logger  *slog.Logger
}

// TaskCommand returns the argument list that runs task name.
func TaskCommand(args []string, name string) []string {
	out := make([]string, 0, len(args)+2)
	out = append(out, args...)
	return append(out, "-"+TaskFlag, name)
}

// SplitTaskArgs finds the task flag in args (without the program name).
// It returns the arguments preceding it, the task name, and whether the
// flag was present.
func SplitTaskArgs(args []string) (prefix []string, name string, ok bool) {
	for i, arg := range args {
		flagName, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || flagName != TaskFlag {
			continue
		}
		if hasValue {
			return args[:i], value, value != ""
		}
		if i+1 < len(args) {
			return args[:i], args[i+1], args[i+1] != ""
		}
		return args[:i], "", false
	}
	return args, "", false
}
