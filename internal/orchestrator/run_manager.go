package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/logging"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// ManagerCallbacks contains optional callbacks for task events of any run.
type ManagerCallbacks struct {
	// OnTaskStateChange is called when any task changes state.
	OnTaskStateChange func(runID, task string, oldState, newState supervisor.State)

	// OnTaskSpawn is called when a task is created, including the root.
	OnTaskSpawn func(runID, task string)

	// OnTaskExit is called when a task terminates with a status code.
	OnTaskExit func(runID, task string, code int, lifetime time.Duration)

	// OnTaskAbort is called when a task ends abnormally.
	OnTaskAbort func(runID, task string, err error)

	// OnTaskSleep is called for every sleep a task reports.
	OnTaskSleep func(runID, task string, units int)

	// OnLoopStart is called once per task with the time since boot.
	OnLoopStart func(runID, task string, at time.Duration)

	// OnConsoleLine is called for every console line.
	OnConsoleLine func(runID string, line console.Line)
}

// ManagerConfig holds configuration for the RunManager.
type ManagerConfig struct {
	Program   workload.Program
	Scale     int
	Timeout   time.Duration // per run, 0 for none
	Factory   MachineFactory
	Output    io.Writer // console output, nil discards
	Logger    *slog.Logger
	Callbacks ManagerCallbacks
}

// RunRecord is everything observed during one run.
type RunRecord struct {
	ID      string
	Outcome supervisor.Outcome
	Lines   []console.Line
	Err     error // backend error, including a timeout
}

// Live is a snapshot of the run in progress.
type Live struct {
	RunID        string
	Tasks        []supervisor.TaskRecord
	ConsoleLines int
	Elapsed      time.Duration
}

// RunManager executes runs one at a time, each with a fresh supervisor
// and console.
type RunManager struct {
	program   workload.Program
	scale     int
	timeout   time.Duration
	factory   MachineFactory
	output    io.Writer
	logger    *slog.Logger
	callbacks ManagerCallbacks

	// Current run
	mu      sync.RWMutex
	runID   string
	sup     *supervisor.Supervisor
	console *console.Console

	runCount atomic.Int64
}

// NewRunManager creates a new RunManager.
func NewRunManager(cfg ManagerConfig) (*RunManager, error) {
	if cfg.Factory == nil {
		return nil, errors.New("run manager: machine factory is required")
	}
	if err := cfg.Program.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RunManager{
		program:   cfg.Program,
		scale:     cfg.Scale,
		timeout:   cfg.Timeout,
		factory:   cfg.Factory,
		output:    cfg.Output,
		logger:    logger,
		callbacks: cfg.Callbacks,
	}, nil
}

// Execute performs one run under id. The returned error covers setup
// failures only; what happened during the run is in the record.
func (m *RunManager) Execute(ctx context.Context, id string) (RunRecord, error) {
	logger := logging.ForRun(m.logger, id)

	sup := supervisor.New(supervisor.Config{
		Expected:  m.program.TaskCount(),
		Logger:    logger,
		Callbacks: m.supervisorCallbacks(id),
	})
	con := console.New(m.output)
	if m.callbacks.OnConsoleLine != nil {
		con.OnLine(func(l console.Line) { m.callbacks.OnConsoleLine(id, l) })
	}

	driver, err := workload.NewDriver(workload.DriverConfig{
		Program:  m.program,
		Observer: sup,
		Scale:    m.scale,
	})
	if err != nil {
		return RunRecord{ID: id}, err
	}
	machine, err := m.factory(sup, con, logger)
	if err != nil {
		return RunRecord{ID: id}, fmt.Errorf("create machine: %w", err)
	}

	m.mu.Lock()
	m.runID, m.sup, m.console = id, sup, con
	m.mu.Unlock()
	m.runCount.Add(1)

	runCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	logger.Debug("run_executing", "program", m.program.Name, "tasks", m.program.TaskCount())
	runErr := machine.Run(runCtx, m.program.Parent.Name, driver.Main)

	return RunRecord{
		ID:      id,
		Outcome: sup.Outcome(),
		Lines:   con.Lines(),
		Err:     runErr,
	}, nil
}

// supervisorCallbacks binds the manager callbacks to one run.
func (m *RunManager) supervisorCallbacks(id string) supervisor.Callbacks {
	return supervisor.Callbacks{
		OnStateChange: func(task string, oldState, newState supervisor.State) {
			if m.callbacks.OnTaskStateChange != nil {
				m.callbacks.OnTaskStateChange(id, task, oldState, newState)
			}
		},
		OnSpawn: func(task string) {
			if m.callbacks.OnTaskSpawn != nil {
				m.callbacks.OnTaskSpawn(id, task)
			}
		},
		OnExit: func(task string, code int, lifetime time.Duration) {
			if m.callbacks.OnTaskExit != nil {
				m.callbacks.OnTaskExit(id, task, code, lifetime)
			}
		},
		OnAbort: func(task string, err error) {
			if m.callbacks.OnTaskAbort != nil {
				m.callbacks.OnTaskAbort(id, task, err)
			}
		},
		OnSleep: func(task string, units int) {
			if m.callbacks.OnTaskSleep != nil {
				m.callbacks.OnTaskSleep(id, task, units)
			}
		},
		OnLoopStart: func(task string, at time.Duration) {
			if m.callbacks.OnLoopStart != nil {
				m.callbacks.OnLoopStart(id, task, at)
			}
		},
	}
}

// ActiveCount returns the number of live tasks in the current run.
func (m *RunManager) ActiveCount() int {
	m.mu.RLock()
	sup := m.sup
	m.mu.RUnlock()

	if sup == nil {
		return 0
	}
	return sup.ActiveCount()
}

// RunCount returns the number of runs started.
func (m *RunManager) RunCount() int {
	return int(m.runCount.Load())
}

// Program returns the program every run executes.
func (m *RunManager) Program() workload.Program {
	return m.program
}

// Live returns a snapshot of the current run, or false before the first.
func (m *RunManager) Live() (Live, bool) {
	m.mu.RLock()
	id, sup, con := m.runID, m.sup, m.console
	m.mu.RUnlock()

	if sup == nil {
		return Live{}, false
	}
	return Live{
		RunID:        id,
		Tasks:        sup.Snapshot(),
		ConsoleLines: con.Len(),
		Elapsed:      sup.Elapsed(),
	}, true
}
