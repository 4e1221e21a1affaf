//go:build linux

package proc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/logging"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// Machine is a kernel.Machine that runs every task as its own process.
type Machine struct {
	path    string
	args    []string
	env     []string
	program workload.Program
	sup     *supervisor.Supervisor
	console *console.Console
	stderr  *logging.StderrHandler
	logger  *slog.Logger
}

var _ kernel.Machine = (*Machine)(nil)

// New creates a process Machine.
func New(cfg Config) (*Machine, error) {
	if cfg.Supervisor == nil {
		return nil, errors.New("proc: supervisor is required")
	}
	path := cfg.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("proc: locate executable: %w", err)
		}
		path = exe
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	con := cfg.Console
	if con == nil {
		con = console.New(nil)
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = logging.NewStderrHandler(cfg.Program.Name, logger, false)
	}
	return &Machine{
		path:    path,
		args:    cfg.Args,
		env:     cfg.Env,
		program: cfg.Program,
		sup:     cfg.Supervisor,
		console: con,
		stderr:  stderr,
		logger:  logger,
	}, nil
}

// EnableSubreaper marks the calling process as a child subreaper so that
// orphaned task processes are re-parented to it.
func EnableSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_CHILD_SUBREAPER): %w", err)
	}
	return nil
}

// pipes are the three streams shared by every task process of a run.
type pipes struct {
	consoleR, consoleW *os.File
	eventsR, eventsW   *os.File
	stderrR, stderrW   *os.File
}

func openPipes() (*pipes, error) {
	p := &pipes{}
	var err error
	if p.consoleR, p.consoleW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("console pipe: %w", err)
	}
	if p.eventsR, p.eventsW, err = os.Pipe(); err != nil {
		p.close()
		return nil, fmt.Errorf("event pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return p, nil
}

func (p *pipes) closeWriters() {
	for _, f := range []*os.File{p.consoleW, p.eventsW, p.stderrW} {
		if f != nil {
			f.Close()
		}
	}
}

func (p *pipes) close() {
	p.closeWriters()
	for _, f := range []*os.File{p.consoleR, p.eventsR, p.stderrR} {
		if f != nil {
			f.Close()
		}
	}
}

// Run starts root as a task process and blocks until every process of the
// run has been reaped. When ctx ends the process group is killed and
// reaping continues until it is empty. entry is ignored; task processes
// resolve their bodies by name.
func (m *Machine) Run(ctx context.Context, root string, _ kernel.Entry) error {
	if err := EnableSubreaper(); err != nil {
		return err
	}

	p, err := openPipes()
	if err != nil {
		return err
	}
	defer p.close()

	cmd := exec.Command(m.path, TaskCommand(m.args, root)...)
	cmd.Env = m.env
	cmd.Stdout = p.consoleW
	cmd.Stderr = p.stderrW
	cmd.ExtraFiles = []*os.File{p.eventsW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	m.sup.Booted(root)
	if err := cmd.Start(); err != nil {
		m.sup.Aborted(root, err)
		return fmt.Errorf("start %s: %w", root, err)
	}
	p.closeWriters()

	r := &run{
		Machine: m,
		pgid:    cmd.Process.Pid,
		pids:    map[int]string{cmd.Process.Pid: root},
	}
	_ = cmd.Process.Release()

	m.logger.Debug("proc_run_started", "root", root, "pgid", r.pgid)

	var g errgroup.Group
	g.Go(func() error {
		_, err := m.console.ReadFrom(p.consoleR)
		return err
	})
	g.Go(func() error {
		return ReadEvents(p.eventsR, r.handleEvent, func(line string, err error) {
			m.logger.Warn("task_event_invalid", "line", line, "error", err)
		})
	})
	g.Go(func() error {
		m.stderr.HandleReader(p.stderrR)
		return nil
	})

	reaped := make(chan error, 1)
	go func() { reaped <- r.reap() }()

	var runErr error
	select {
	case runErr = <-reaped:
	case <-ctx.Done():
		r.kill()
		runErr = ctx.Err()
		if err := <-reaped; err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if err := g.Wait(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("relay: %w", err))
	}
	if runErr != nil {
		return fmt.Errorf("process run: %w", runErr)
	}
	return nil
}

// run is the state of one Run call.
type run struct {
	*Machine
	pgid int

	mu   sync.Mutex
	pids map[int]string
}

func (r *run) handleEvent(ev Event) {
	switch ev.Kind {
	case EventSpawn:
		r.mu.Lock()
		r.pids[ev.PID] = ev.Child
		r.mu.Unlock()
		r.sup.Spawned(ev.Child)
	case EventSleep:
		r.sup.Sleeping(ev.Task, ev.Units)
	case EventWake:
		r.sup.Running(ev.Task)
	case EventLoopStart:
		r.sup.LoopStarted(ev.Task)
	default:
		r.logger.Warn("task_event_unknown", "kind", ev.Kind, "task", ev.Task)
	}
}

// reap waits for every process in the run's group until none remain.
func (r *run) reap() error {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-r.pgid, &ws, 0, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return nil
		case err != nil:
			return fmt.Errorf("wait4: %w", err)
		}
		r.exited(pid, ws)
	}
}

// exited attributes a reaped status to a task: by pid when the spawn event
// has been seen, otherwise by its unique exit code.
func (r *run) exited(pid int, ws unix.WaitStatus) {
	code := WaitCode(ws)

	r.mu.Lock()
	name, ok := r.pids[pid]
	r.mu.Unlock()
	if !ok {
		if spec, found := r.program.TaskByCode(code); found && code != kernel.AbortStatus {
			name = spec.Name
		} else {
			name = fmt.Sprintf("pid-%d", pid)
		}
	}

	r.logger.Debug("task_reaped", "task", name, "pid", pid, "code", code)

	if ws.Exited() && code != kernel.AbortStatus {
		r.sup.Exited(name, code)
		return
	}
	if ws.Signaled() {
		r.sup.Aborted(name, fmt.Errorf("%w: pid %d killed by %s", ErrAbnormalExit, pid, ws.Signal()))
		return
	}
	r.sup.Aborted(name, fmt.Errorf("%w: pid %d exit status %d", ErrAbnormalExit, pid, code))
}

func (r *run) kill() {
	if err := unix.Kill(-r.pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		r.logger.Warn("task_group_kill_failed", "pgid", r.pgid, "error", err)
		return
	}
	r.logger.Info("task_group_killed", "pgid", r.pgid)
}

// WaitCode converts a wait status to a shell-style exit code: the exit
// status, or 128 plus the signal number.
func WaitCode(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}
