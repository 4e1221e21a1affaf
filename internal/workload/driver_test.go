package workload

import (
	"errors"
	"sync"
	"testing"

	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel/fake"
)

// recordingObserver captures observer callbacks in order.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingObserver) Sleeping(task string, units int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, task+":sleep")
}

func (p *recordingObserver) LoopStarted(task string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, task+":loop")
}

func newTestDriver(t *testing.T, p Program, observer Observer) *Driver {
	t.Helper()
	d, err := NewDriver(DriverConfig{Program: p, Observer: observer})
	if err != nil {
		t.Fatalf("NewDriver error: %v", err)
	}
	return d
}

func TestNewDriver_InvalidProgram(t *testing.T) {
	p := Chatty()
	p.Children[0].ExitCode = p.Parent.ExitCode
	if _, err := NewDriver(DriverConfig{Program: p}); err == nil {
		t.Error("NewDriver should reject duplicate exit codes")
	}
}

func TestDriver_SpawnOrder(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, _ := Lookup(name)
			k := fake.New()
			k.RunAll(p.Parent.Name, newTestDriver(t, p, nil).Main)

			calls := k.CallsFor(TaskParent)
			if len(calls) < 2 {
				t.Fatalf("parent made %d calls, want at least 2", len(calls))
			}
			if calls[0].Op != fake.OpSpawn || calls[0].Child != TaskChildA {
				t.Errorf("first call = %+v, want spawn %s", calls[0], TaskChildA)
			}
			if calls[1].Op != fake.OpSpawn || calls[1].Child != TaskChildB {
				t.Errorf("second call = %+v, want spawn %s", calls[1], TaskChildB)
			}
		})
	}
}

func TestDriver_ExitCodes(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, _ := Lookup(name)
			k := fake.New()
			results := k.RunAll(p.Parent.Name, newTestDriver(t, p, nil).Main)

			if len(results) != p.TaskCount() {
				t.Fatalf("got %d results, want %d", len(results), p.TaskCount())
			}
			for _, task := range p.Tasks() {
				res := results[task.Name]
				if res.Err != nil {
					t.Errorf("%s aborted: %v", task.Name, res.Err)
				}
				if res.Status != task.ExitCode {
					t.Errorf("%s status = %d, want %d", task.Name, res.Status, task.ExitCode)
				}
			}
		})
	}
}

func TestDriver_Plain_PerIterationSleeps(t *testing.T) {
	p := Plain()
	k := fake.New()
	k.RunAll(p.Parent.Name, newTestDriver(t, p, nil).Main)

	testCases := []struct {
		task  string
		count int
		units int
	}{
		{TaskParent, 0, 0},
		{TaskChildA, 3, 300},
		{TaskChildB, 5, 200},
	}

	for _, tc := range testCases {
		var sleeps int
		for _, c := range k.CallsFor(tc.task) {
			switch c.Op {
			case fake.OpSleep:
				sleeps++
				if c.Units != tc.units {
					t.Errorf("%s slept %d units, want %d", tc.task, c.Units, tc.units)
				}
			case fake.OpWrite:
				t.Errorf("%s wrote %q, plain variant must be silent", tc.task, c.Data)
			}
		}
		if sleeps != tc.count {
			t.Errorf("%s slept %d times, want %d", tc.task, sleeps, tc.count)
		}
	}
}

func TestDriver_Chatty_Lines(t *testing.T) {
	p := Chatty()
	k := fake.New()
	k.RunAll(p.Parent.Name, newTestDriver(t, p, nil).Main)

	counts := make(map[string]int)
	for _, c := range k.Calls() {
		if c.Op == fake.OpWrite {
			if c.Stream != kernel.ConsoleOutput {
				t.Errorf("write to %s, want console output", c.Stream)
			}
			counts[c.Task+"|"+c.Data]++
		}
	}

	want := map[string]int{
		TaskParent + "|Timesharing 7\r\n": 5,
		TaskChildA + "|Timesharing 9\r\n": 5,
		TaskChildB + "|Timesharing 8\r\n": 10,
	}
	if len(counts) != len(want) {
		t.Fatalf("writes = %v, want %v", counts, want)
	}
	for key, n := range want {
		if counts[key] != n {
			t.Errorf("writes[%q] = %d, want %d", key, counts[key], n)
		}
	}
}

func TestDriver_DelayedStart_SleepsOnceBeforeLoop(t *testing.T) {
	p := DelayedStart()
	observer := &recordingObserver{}
	k := fake.New()
	k.RunAll(p.Parent.Name, newTestDriver(t, p, observer).Main)

	for _, tc := range []struct {
		task  string
		units int
	}{
		{TaskChildA, 3000},
		{TaskChildB, 2000},
	} {
		calls := k.CallsFor(tc.task)
		if len(calls) != 2 {
			t.Fatalf("%s made %d calls, want sleep+terminate: %+v", tc.task, len(calls), calls)
		}
		if calls[0].Op != fake.OpSleep || calls[0].Units != tc.units {
			t.Errorf("%s first call = %+v, want sleep %d", tc.task, calls[0], tc.units)
		}
		if calls[1].Op != fake.OpTerminate {
			t.Errorf("%s last call = %+v, want terminate", tc.task, calls[1])
		}
	}

	// The observer sees each child's sleep before its loop starts.
	want := []string{
		"parent:loop",
		"child-a:sleep", "child-a:loop",
		"child-b:sleep", "child-b:loop",
	}
	if len(observer.events) != len(want) {
		t.Fatalf("observer events = %v, want %v", observer.events, want)
	}
	for i := range want {
		if observer.events[i] != want[i] {
			t.Errorf("observer event %d = %q, want %q", i, observer.events[i], want[i])
		}
	}
}

func TestDriver_TerminateIsLast(t *testing.T) {
	p := Chatty()
	k := fake.New()
	k.RunAll(p.Parent.Name, newTestDriver(t, p, nil).Main)

	for _, task := range p.Tasks() {
		calls := k.CallsFor(task.Name)
		last := calls[len(calls)-1]
		if last.Op != fake.OpTerminate || last.Status != task.ExitCode {
			t.Errorf("%s last call = %+v, want terminate(%d)", task.Name, last, task.ExitCode)
		}
	}
}

func TestDriver_PrimitiveFailureAborts(t *testing.T) {
	p := Chatty()
	k := fake.New()
	boom := errors.New("console gone")
	k.FailOn(fake.OpWrite, boom)

	results := k.RunAll(p.Parent.Name, newTestDriver(t, p, nil).Main)
	for _, task := range p.Tasks() {
		res := results[task.Name]
		if !errors.Is(res.Err, boom) {
			t.Errorf("%s err = %v, want %v", task.Name, res.Err, boom)
		}
		if res.Status != kernel.AbortStatus {
			t.Errorf("%s status = %d, want %d", task.Name, res.Status, kernel.AbortStatus)
		}
		var fault *kernel.Fault
		if errors.As(res.Err, &fault) && fault.Op != "write" {
			t.Errorf("%s fault op = %q, want write", task.Name, fault.Op)
		}
	}

	// No retry: each task tried exactly one write.
	for _, task := range p.Tasks() {
		var writes int
		for _, c := range k.CallsFor(task.Name) {
			if c.Op == fake.OpWrite {
				writes++
			}
		}
		if writes != 1 {
			t.Errorf("%s attempted %d writes, want 1", task.Name, writes)
		}
	}
}

func TestDriver_SpawnFailureAbortsParent(t *testing.T) {
	p := Plain()
	k := fake.New()
	k.FailOn(fake.OpSpawn, errors.New("no slots"))

	results := k.RunAll(p.Parent.Name, newTestDriver(t, p, nil).Main)
	if len(results) != 1 {
		t.Errorf("got %d results, want only the parent", len(results))
	}
	if results[TaskParent].Err == nil {
		t.Error("parent should abort when spawn fails")
	}
}

func TestDriver_Entry(t *testing.T) {
	d := newTestDriver(t, Chatty(), nil)

	for _, name := range []string{TaskParent, TaskChildA, TaskChildB} {
		if _, ok := d.Entry(name); !ok {
			t.Errorf("Entry(%q) not found", name)
		}
	}
	if _, ok := d.Entry("ghost"); ok {
		t.Error("Entry(ghost) should not be found")
	}

	entry, _ := d.Entry(TaskChildB)
	k := fake.New()
	res := k.Run(TaskChildB, entry)
	if res.Status != 2 {
		t.Errorf("child-b status = %d, want 2", res.Status)
	}
	if n := len(k.CallsFor(TaskChildB)); n != 11 {
		t.Errorf("child-b made %d calls, want 10 writes + terminate", n)
	}
}

func TestDriver_Scale(t *testing.T) {
	d, err := NewDriver(DriverConfig{Program: Plain(), Scale: 0})
	if err != nil {
		t.Fatal(err)
	}
	if d.scale != 1 {
		t.Errorf("scale = %d, want 1 for zero config", d.scale)
	}
	if d.Program().Name != VariantPlain {
		t.Errorf("Program().Name = %q", d.Program().Name)
	}
}
