// Package supervisor records the lifecycle of every task in a workload run
// and waits until all of them have terminated.
package supervisor

// State represents the current state of a supervised task.
type State int

const (
	// StateCreated is the initial state after spawn, before the task runs.
	StateCreated State = iota

	// StateSleeping indicates the task is blocked in Sleep.
	StateSleeping

	// StateRunning indicates the task is in its busy loop.
	StateRunning

	// StateExited indicates the task terminated with a status code.
	StateExited

	// StateAborted indicates the task ended through a failed primitive or
	// without calling terminate.
	StateAborted
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSleeping:
		return "sleeping"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsActive returns true if the task has not terminated yet.
func (s State) IsActive() bool {
	return s == StateCreated || s == StateSleeping || s == StateRunning
}

// IsTerminal returns true if the task has terminated, normally or not.
func (s State) IsTerminal() bool {
	return s == StateExited || s == StateAborted
}
