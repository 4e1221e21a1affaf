// Package kernel defines the primitives a workload task consumes from the
// operating system it runs on: spawn, sleep, write and terminate.
//
// The workload never assumes a threading mechanism. Backends implement
// Kernel on top of goroutines (package thread) or OS processes (package
// proc), and tests use the recording kernel in package fake.
package kernel

import (
	"context"
	"errors"
	"fmt"
)

// Stream identifies an output destination for Write.
type Stream int

const (
	// ConsoleInput is the keyboard stream. Tasks cannot write to it.
	ConsoleInput Stream = 0

	// ConsoleOutput is the shared console display stream.
	ConsoleOutput Stream = 1
)

// String returns the stream name.
func (s Stream) String() string {
	switch s {
	case ConsoleInput:
		return "console_input"
	case ConsoleOutput:
		return "console_output"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// AbortStatus is the status published by a task that failed a primitive
// call or returned without terminating. Programs may not assign it.
const AbortStatus = 255

var (
	// ErrBadStream is returned by Write for any stream other than ConsoleOutput.
	ErrBadStream = errors.New("stream is not writable")

	// ErrNoTerminate is recorded when a task entry returns without calling Terminate.
	ErrNoTerminate = errors.New("task returned without terminating")
)

// Entry is the body of a task. It must end by calling k.Terminate.
type Entry func(k Kernel)

// Kernel is the syscall surface visible to one task. Every task receives
// its own Kernel value; Terminate ends that task only.
type Kernel interface {
	// Spawn creates a new concurrently schedulable task running entry and
	// returns without waiting for it. name labels the task for observers.
	Spawn(name string, entry Entry) error

	// Sleep blocks the calling task for at least units of scheduler time.
	Sleep(units int) error

	// Write emits p to stream as one atomic unit.
	Write(p []byte, stream Stream) error

	// Terminate ends the calling task and publishes status. It never returns.
	Terminate(status int)
}

// Machine runs a workload under one scheduling backend until every task the
// supervisor expects has terminated or ctx ends.
//
// Backends that cannot carry closures across their task boundary (such as
// separate processes) resolve tasks by name and may ignore entry.
type Machine interface {
	Run(ctx context.Context, root string, entry Entry) error
}

// Fault is a fatal primitive failure inside a task. Workload code raises it
// with panic; backends recover it and record the task as aborted.
type Fault struct {
	Task string
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("task %s: %s: %v", f.Task, f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Must panics with a *Fault when err is non-nil.
func Must(task, op string, err error) {
	if err != nil {
		panic(&Fault{Task: task, Op: op, Err: err})
	}
}

// AsFault converts a recovered panic value into an error describing why the
// task ended abnormally. It returns nil for a nil value.
func AsFault(task string, r any) error {
	switch v := r.(type) {
	case nil:
		return nil
	case *Fault:
		return v
	case error:
		return &Fault{Task: task, Op: "panic", Err: v}
	default:
		return &Fault{Task: task, Op: "panic", Err: fmt.Errorf("%v", v)}
	}
}
