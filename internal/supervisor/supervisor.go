package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Callbacks contains optional callback functions for supervisor events.
// They are invoked outside the supervisor's lock.
type Callbacks struct {
	// OnStateChange is called when a task's state changes.
	OnStateChange func(task string, oldState, newState State)

	// OnSpawn is called when a task is created, including the root.
	OnSpawn func(task string)

	// OnExit is called when a task terminates with a status code.
	OnExit func(task string, code int, lifetime time.Duration)

	// OnAbort is called when a task ends abnormally.
	OnAbort func(task string, err error)

	// OnSleep is called for every sleep a task reports.
	OnSleep func(task string, units int)

	// OnLoopStart is called once per task with the time since boot.
	OnLoopStart func(task string, at time.Duration)
}

// TaskRecord is what the supervisor knows about one task.
type TaskRecord struct {
	Name     string
	State    State
	Root     bool
	SpawnSeq int // 1-based spawn order among children, 0 for the root

	Code int   // valid when State is StateExited
	Err  error // valid when State is StateAborted

	SpawnedAt   time.Duration
	LoopStartAt time.Duration
	EndedAt     time.Duration
	LoopStarted bool

	Sleeps     int
	SleptUnits int

	spawned bool
}

// Lifetime is the time from spawn to termination, or 0 while active.
func (r TaskRecord) Lifetime() time.Duration {
	if !r.State.IsTerminal() {
		return 0
	}
	return r.EndedAt - r.SpawnedAt
}

// Outcome is the result of a supervised run.
type Outcome struct {
	Tasks      []TaskRecord // root first, then registration order
	SpawnOrder []string
	Elapsed    time.Duration
	Complete   bool // every expected task terminated
}

// Task finds a record by name.
func (o Outcome) Task(name string) (TaskRecord, bool) {
	for _, r := range o.Tasks {
		if r.Name == name {
			return r, true
		}
	}
	return TaskRecord{}, false
}

// Codes returns the exit codes of every exited task, sorted.
func (o Outcome) Codes() []int {
	codes := make([]int, 0, len(o.Tasks))
	for _, r := range o.Tasks {
		if r.State == StateExited {
			codes = append(codes, r.Code)
		}
	}
	sort.Ints(codes)
	return codes
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Expected  int // terminations to wait for
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Supervisor tracks the tasks of one workload run. It is the external
// observer that collects every status code; the workload itself never
// waits on its children.
type Supervisor struct {
	expected  int
	logger    *slog.Logger
	callbacks Callbacks
	start     time.Time

	mu         sync.Mutex
	tasks      map[string]*TaskRecord
	order      []string
	spawnOrder []string
	terminated int
	done       chan struct{}
	closed     bool
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		expected:  cfg.Expected,
		logger:    logger,
		callbacks: cfg.Callbacks,
		start:     time.Now(),
		tasks:     make(map[string]*TaskRecord),
		done:      make(chan struct{}),
	}
	if s.expected <= 0 {
		s.closeDoneLocked()
	}
	return s
}

// Booted registers the root task.
func (s *Supervisor) Booted(task string) {
	s.register(task, true)
}

// Spawned registers a child task in spawn order.
func (s *Supervisor) Spawned(task string) {
	s.register(task, false)
}

func (s *Supervisor) register(task string, root bool) {
	s.mu.Lock()
	r := s.recordLocked(task)
	if r.spawned {
		s.mu.Unlock()
		s.logger.Warn("task_spawned_twice", "task", task)
		return
	}
	r.spawned = true
	r.Root = root
	if !r.State.IsTerminal() {
		r.SpawnedAt = s.Elapsed()
	}
	if !root {
		s.spawnOrder = append(s.spawnOrder, task)
		r.SpawnSeq = len(s.spawnOrder)
	}
	s.mu.Unlock()

	s.logger.Debug("task_spawned", "task", task, "root", root)
	if s.callbacks.OnSpawn != nil {
		s.callbacks.OnSpawn(task)
	}
}

// Sleeping records that task is about to block for units.
func (s *Supervisor) Sleeping(task string, units int) {
	s.transition(task, StateSleeping, func(r *TaskRecord) {
		r.Sleeps++
		r.SleptUnits += units
	})
	if s.callbacks.OnSleep != nil {
		s.callbacks.OnSleep(task, units)
	}
}

// LoopStarted records the start of task's busy loop.
func (s *Supervisor) LoopStarted(task string) {
	at := s.Elapsed()
	first := false
	s.transition(task, StateRunning, func(r *TaskRecord) {
		if !r.LoopStarted {
			r.LoopStarted = true
			r.LoopStartAt = at
			first = true
		}
	})
	if first && s.callbacks.OnLoopStart != nil {
		s.callbacks.OnLoopStart(task, at)
	}
}

// Running records that task resumed its loop after a sleep.
func (s *Supervisor) Running(task string) {
	s.transition(task, StateRunning, nil)
}

// Exited records a normal termination with code.
func (s *Supervisor) Exited(task string, code int) {
	lifetime, ok := s.terminate(task, StateExited, func(r *TaskRecord) {
		r.Code = code
	})
	if !ok {
		return
	}

	s.logger.Info("task_exited", "task", task, "code", code, "lifetime", lifetime.String())
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(task, code, lifetime)
	}
}

// Aborted records an abnormal termination.
func (s *Supervisor) Aborted(task string, err error) {
	if _, ok := s.terminate(task, StateAborted, func(r *TaskRecord) {
		r.Err = err
	}); !ok {
		return
	}

	s.logger.Error("task_aborted", "task", task, "error", err)
	if s.callbacks.OnAbort != nil {
		s.callbacks.OnAbort(task, err)
	}
}

func (s *Supervisor) terminate(task string, state State, apply func(r *TaskRecord)) (time.Duration, bool) {
	s.mu.Lock()
	r := s.recordLocked(task)
	if r.State.IsTerminal() {
		s.mu.Unlock()
		s.logger.Warn("task_terminated_twice", "task", task, "state", r.State.String())
		return 0, false
	}
	old := r.State
	r.State = state
	r.EndedAt = s.Elapsed()
	apply(r)
	lifetime := r.Lifetime()

	s.terminated++
	if s.terminated >= s.expected {
		s.closeDoneLocked()
	}
	s.mu.Unlock()

	s.notifyState(task, old, state)
	return lifetime, true
}

func (s *Supervisor) transition(task string, state State, apply func(r *TaskRecord)) {
	s.mu.Lock()
	r := s.recordLocked(task)
	if apply != nil {
		apply(r)
	}
	// Events can arrive late from another process; never revive a task.
	if r.State.IsTerminal() || r.State == state {
		s.mu.Unlock()
		return
	}
	old := r.State
	r.State = state
	s.mu.Unlock()

	s.notifyState(task, old, state)
}

func (s *Supervisor) notifyState(task string, old, state State) {
	if s.callbacks.OnStateChange != nil && old != state {
		s.callbacks.OnStateChange(task, old, state)
	}
}

func (s *Supervisor) recordLocked(task string) *TaskRecord {
	r, ok := s.tasks[task]
	if !ok {
		r = &TaskRecord{Name: task, State: StateCreated}
		s.tasks[task] = r
		s.order = append(s.order, task)
	}
	return r
}

func (s *Supervisor) closeDoneLocked() {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// Done is closed once the expected number of tasks have terminated.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// WaitAll blocks until every expected task has terminated or ctx ends.
func (s *Supervisor) WaitAll(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Expected returns the number of terminations the supervisor waits for.
func (s *Supervisor) Expected() int {
	return s.expected
}

// Terminated returns the number of tasks that have terminated.
func (s *Supervisor) Terminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// ActiveCount returns the number of registered tasks still running.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.tasks {
		if r.State.IsActive() {
			n++
		}
	}
	return n
}

// Elapsed returns the time since the supervisor was created.
func (s *Supervisor) Elapsed() time.Duration {
	return time.Since(s.start)
}

// Snapshot returns a copy of every task record, root first.
func (s *Supervisor) Snapshot() []TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() []TaskRecord {
	out := make([]TaskRecord, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.tasks[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Root && !out[j].Root
	})
	return out
}

// Outcome returns everything recorded so far.
func (s *Supervisor) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	spawnOrder := make([]string, len(s.spawnOrder))
	copy(spawnOrder, s.spawnOrder)

	return Outcome{
		Tasks:      s.snapshotLocked(),
		SpawnOrder: spawnOrder,
		Elapsed:    s.Elapsed(),
		Complete:   s.terminated >= s.expected,
	}
}
