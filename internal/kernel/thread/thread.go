// Package thread runs workload tasks as goroutines.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
)

var (
	errNilEntry      = errors.New("nil task entry")
	errNegativeSleep = errors.New("negative sleep")
)

// Config holds configuration for the goroutine backend.
type Config struct {
	Tick       time.Duration // wall time of one sleep unit
	Supervisor *supervisor.Supervisor
	Console    *console.Console // nil discards output
	Logger     *slog.Logger
}

// Machine is a kernel.Machine that gives every task its own goroutine.
type Machine struct {
	tick    time.Duration
	sup     *supervisor.Supervisor
	console *console.Console
	logger  *slog.Logger
}

var _ kernel.Machine = (*Machine)(nil)

// New creates a goroutine Machine.
func New(cfg Config) (*Machine, error) {
	if cfg.Tick <= 0 {
		return nil, fmt.Errorf("thread: tick must be positive, got %v", cfg.Tick)
	}
	if cfg.Supervisor == nil {
		return nil, errors.New("thread: supervisor is required")
	}
	con := cfg.Console
	if con == nil {
		con = console.New(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		tick:    cfg.Tick,
		sup:     cfg.Supervisor,
		console: con,
		logger:  logger,
	}, nil
}

// Run boots root and blocks until the supervisor has seen every expected
// termination or ctx ends. On cancellation, sleeping tasks are woken with
// the context error and Run waits for every goroutine to finish.
func (m *Machine) Run(ctx context.Context, root string, entry kernel.Entry) error {
	if entry == nil {
		return errNilEntry
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{Machine: m, ctx: ctx}

	m.logger.Debug("thread_run_starting", "root", root, "tick", m.tick.String())
	m.sup.Booted(root)
	r.start(root, entry)

	err := m.sup.WaitAll(ctx)
	cancel()
	r.wg.Wait()

	if err != nil {
		return fmt.Errorf("thread run: %w", err)
	}
	return nil
}

// run is the state of one Run call.
type run struct {
	*Machine
	ctx context.Context
	wg  sync.WaitGroup
}

func (r *run) start(name string, entry kernel.Entry) {
	t := &task{name: name, run: r}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if t.terminated {
				return
			}
			err := kernel.AsFault(name, recover())
			if err == nil {
				err = &kernel.Fault{Task: name, Op: "return", Err: kernel.ErrNoTerminate}
			}
			r.sup.Aborted(name, err)
		}()

		entry(t)
	}()
}

// task is the kernel.Kernel handed to one goroutine.
type task struct {
	name       string
	run        *run
	terminated bool
}

func (t *task) Spawn(name string, entry kernel.Entry) error {
	if entry == nil {
		return fmt.Errorf("spawn %s: %w", name, errNilEntry)
	}
	if err := t.run.ctx.Err(); err != nil {
		return fmt.Errorf("spawn %s: %w", name, err)
	}
	t.run.sup.Spawned(name)
	t.run.start(name, entry)
	return nil
}

func (t *task) Sleep(units int) error {
	if units < 0 {
		return fmt.Errorf("sleep %d: %w", units, errNegativeSleep)
	}
	if units == 0 {
		runtime.Gosched()
		return nil
	}

	timer := time.NewTimer(time.Duration(units) * t.run.tick)
	defer timer.Stop()

	select {
	case <-timer.C:
		t.run.sup.Running(t.name)
		return nil
	case <-t.run.ctx.Done():
		return t.run.ctx.Err()
	}
}

func (t *task) Write(p []byte, stream kernel.Stream) error {
	if stream != kernel.ConsoleOutput {
		return fmt.Errorf("write to %s: %w", stream, kernel.ErrBadStream)
	}
	return t.run.console.WriteLine(t.name, p)
}

func (t *task) Terminate(status int) {
	t.run.sup.Exited(t.name, status)
	t.terminated = true
	runtime.Goexit()
}
