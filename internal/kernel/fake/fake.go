// Package fake provides a recording Kernel for deterministic tests.
//
// Tasks run synchronously, one after another, on the caller's goroutine.
// Spawn only queues the child; RunAll drains the queue in spawn order.
// Sleep returns immediately. Every primitive call is recorded.
package fake

import (
	"fmt"
	"sync"

	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
)

// Op names recorded in Call.Op.
const (
	OpSpawn     = "spawn"
	OpSleep     = "sleep"
	OpWrite     = "write"
	OpTerminate = "terminate"
)

// Call is one recorded primitive invocation.
type Call struct {
	Task   string
	Op     string
	Child  string // spawn
	Units  int    // sleep
	Data   string // write
	Stream kernel.Stream
	Status int // terminate
}

// Result is how a task ended.
type Result struct {
	Status int
	Err    error // non-nil when the task aborted
}

// Kernel records every primitive call made by the tasks it runs.
type Kernel struct {
	mu      sync.Mutex
	calls   []Call
	pending []pending
	failOn  map[string]error
}

type pending struct {
	name  string
	entry kernel.Entry
}

// terminated unwinds a task after Terminate.
type terminated struct {
	status int
}

// New creates an empty recording kernel.
func New() *Kernel {
	return &Kernel{failOn: make(map[string]error)}
}

// FailOn makes every call to op return err.
func (k *Kernel) FailOn(op string, err error) {
	k.mu.Lock()
	k.failOn[op] = err
	k.mu.Unlock()
}

// Run executes one task to completion and reports how it ended.
func (k *Kernel) Run(name string, entry kernel.Entry) (res Result) {
	defer func() {
		r := recover()
		if t, ok := r.(terminated); ok {
			res = Result{Status: t.status}
			return
		}
		if r != nil {
			res = Result{Status: kernel.AbortStatus, Err: kernel.AsFault(name, r)}
			return
		}
		res = Result{Status: kernel.AbortStatus, Err: kernel.ErrNoTerminate}
	}()

	entry(&task{k: k, name: name})
	return res
}

// RunAll runs root, then every spawned task in spawn order until none are
// left. It returns results keyed by task name.
func (k *Kernel) RunAll(root string, entry kernel.Entry) map[string]Result {
	results := map[string]Result{root: k.Run(root, entry)}
	for {
		k.mu.Lock()
		if len(k.pending) == 0 {
			k.mu.Unlock()
			return results
		}
		next := k.pending[0]
		k.pending = k.pending[1:]
		k.mu.Unlock()

		results[next.name] = k.Run(next.name, next.entry)
	}
}

// Calls returns a copy of every recorded call.
func (k *Kernel) Calls() []Call {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]Call, len(k.calls))
	copy(out, k.calls)
	return out
}

// CallsFor returns the calls made by one task.
func (k *Kernel) CallsFor(name string) []Call {
	var out []Call
	for _, c := range k.Calls() {
		if c.Task == name {
			out = append(out, c)
		}
	}
	return out
}

func (k *Kernel) record(c Call) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, c)
	return k.failOn[c.Op]
}

type task struct {
	k    *Kernel
	name string
}

func (t *task) Spawn(name string, entry kernel.Entry) error {
	if err := t.k.record(Call{Task: t.name, Op: OpSpawn, Child: name}); err != nil {
		return err
	}
	t.k.mu.Lock()
	t.k.pending = append(t.k.pending, pending{name: name, entry: entry})
	t.k.mu.Unlock()
	return nil
}

func (t *task) Sleep(units int) error {
	return t.k.record(Call{Task: t.name, Op: OpSleep, Units: units})
}

func (t *task) Write(p []byte, stream kernel.Stream) error {
	if err := t.k.record(Call{Task: t.name, Op: OpWrite, Data: string(p), Stream: stream}); err != nil {
		return err
	}
	if stream != kernel.ConsoleOutput {
		return fmt.Errorf("%w: %s", kernel.ErrBadStream, stream)
	}
	return nil
}

func (t *task) Terminate(status int) {
	_ = t.k.record(Call{Task: t.name, Op: OpTerminate, Status: status})
	panic(terminated{status: status})
}
