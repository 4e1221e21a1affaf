package proc

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Event kinds sent from task processes to the harness.
const (
	EventSpawn     = "spawn"
	EventSleep     = "sleep"
	EventWake      = "wake"
	EventLoopStart = "loop_start"
)

// Event is one progress report from a task process.
type Event struct {
	Kind  string `json:"ev"`
	Task  string `json:"task"`
	Child string `json:"child,omitempty"`
	PID   int    `json:"pid,omitempty"`
	Units int    `json:"units,omitempty"`
}

// EventWriter sends events as JSON lines. Each event is a single write of
// well under PIPE_BUF bytes, so events from many processes sharing the pipe
// never interleave. Delivery is best effort: a task never fails because the
// harness stopped listening. It implements workload.Observer.
type EventWriter struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

// NewEventWriter creates an EventWriter on w.
func NewEventWriter(w io.Writer) *EventWriter {
	ew := &EventWriter{w: w}
	if f, ok := w.(*os.File); ok {
		ew.f = f
	}
	return ew
}

// OpenEvents returns an EventWriter on the inherited event descriptor.
// Without one, events are discarded.
func OpenEvents() *EventWriter {
	f := os.NewFile(eventFD, "events")
	if f == nil {
		return NewEventWriter(nil)
	}
	if _, err := f.Stat(); err != nil {
		return NewEventWriter(nil)
	}
	return NewEventWriter(f)
}

func (e *EventWriter) send(ev Event) {
	if e == nil || e.w == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.w.Write(data)
}

// file returns the descriptor to pass to spawned children, or nil.
func (e *EventWriter) file() *os.File {
	if e == nil {
		return nil
	}
	return e.f
}

// Spawned reports that task started child as pid.
func (e *EventWriter) Spawned(task, child string, pid int) {
	e.send(Event{Kind: EventSpawn, Task: task, Child: child, PID: pid})
}

// Sleeping reports that task is about to sleep.
func (e *EventWriter) Sleeping(task string, units int) {
	e.send(Event{Kind: EventSleep, Task: task, Units: units})
}

// Woke reports that task returned from a sleep.
func (e *EventWriter) Woke(task string) {
	e.send(Event{Kind: EventWake, Task: task})
}

// LoopStarted reports the start of task's busy loop.
func (e *EventWriter) LoopStarted(task string) {
	e.send(Event{Kind: EventLoopStart, Task: task})
}

// ReadEvents decodes JSON lines from r until EOF, calling fn for each
// event and bad for each line that does not decode.
func ReadEvents(r io.Reader, fn func(Event), bad func(line string, err error)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			if bad != nil {
				bad(string(line), err)
			}
			continue
		}
		fn(ev)
	}
	return scanner.Err()
}
