package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

const testTick = 50 * time.Microsecond

// machineFunc adapts a function to kernel.Machine.
type machineFunc func(ctx context.Context, root string, entry kernel.Entry) error

func (f machineFunc) Run(ctx context.Context, root string, entry kernel.Entry) error {
	return f(ctx, root, entry)
}

// staticFactory returns m for every run.
func staticFactory(m kernel.Machine) MachineFactory {
	return func(*supervisor.Supervisor, *console.Console, *slog.Logger) (kernel.Machine, error) {
		return m, nil
	}
}

func TestNewRunManager_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ManagerConfig
	}{
		{"no factory", ManagerConfig{Program: workload.Chatty()}},
		{"invalid program", ManagerConfig{Program: workload.Program{Name: "empty"}, Factory: ThreadFactory(testTick)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRunManager(tt.cfg); err == nil {
				t.Error("NewRunManager() error = nil, want error")
			}
		})
	}
}

func TestRunManager_Execute(t *testing.T) {
	var out bytes.Buffer
	m, err := NewRunManager(ManagerConfig{
		Program: workload.Chatty(),
		Timeout: 30 * time.Second,
		Factory: ThreadFactory(testTick),
		Output:  &out,
	})
	if err != nil {
		t.Fatalf("NewRunManager() error = %v", err)
	}

	if _, ok := m.Live(); ok {
		t.Error("Live() before the first run should report false")
	}

	rec, err := m.Execute(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rec.Err != nil {
		t.Fatalf("record error = %v", rec.Err)
	}

	if rec.ID != "run-1" {
		t.Errorf("ID = %q, want run-1", rec.ID)
	}
	if got := rec.Outcome.Codes(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("Codes() = %v, want [1 2 3]", got)
	}
	if want := []string{workload.TaskChildA, workload.TaskChildB}; !slices.Equal(rec.Outcome.SpawnOrder, want) {
		t.Errorf("SpawnOrder = %v, want %v", rec.Outcome.SpawnOrder, want)
	}
	if len(rec.Lines) != 20 {
		t.Errorf("len(Lines) = %d, want 20", len(rec.Lines))
	}
	if got := strings.Count(out.String(), "Timesharing 8\r\n"); got != 10 {
		t.Errorf("output has %d child-b lines, want 10", got)
	}

	if m.RunCount() != 1 {
		t.Errorf("RunCount() = %d, want 1", m.RunCount())
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after run = %d, want 0", m.ActiveCount())
	}
	live, ok := m.Live()
	if !ok {
		t.Fatal("Live() after a run should report true")
	}
	if live.RunID != "run-1" || live.ConsoleLines != 20 || len(live.Tasks) != 3 {
		t.Errorf("Live() = %+v, want run-1 with 20 lines and 3 tasks", live)
	}
}

func TestRunManager_Callbacks(t *testing.T) {
	var (
		mu      sync.Mutex
		spawns  []string
		exits   = make(map[string]int)
		lines   int
		loops   int
		runIDs  = make(map[string]bool)
		changes int
	)

	m, err := NewRunManager(ManagerConfig{
		Program: workload.Chatty(),
		Factory: ThreadFactory(testTick),
		Callbacks: ManagerCallbacks{
			OnTaskStateChange: func(runID, task string, _, _ supervisor.State) {
				mu.Lock()
				changes++
				runIDs[runID] = true
				mu.Unlock()
			},
			OnTaskSpawn: func(runID, task string) {
				mu.Lock()
				spawns = append(spawns, task)
				mu.Unlock()
			},
			OnTaskExit: func(runID, task string, code int, _ time.Duration) {
				mu.Lock()
				exits[task] = code
				mu.Unlock()
			},
			OnLoopStart: func(runID, task string, _ time.Duration) {
				mu.Lock()
				loops++
				mu.Unlock()
			},
			OnConsoleLine: func(runID string, _ console.Line) {
				mu.Lock()
				lines++
				mu.Unlock()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewRunManager() error = %v", err)
	}

	if _, err := m.Execute(context.Background(), "cb"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(spawns) != 3 {
		t.Errorf("spawns = %v, want 3 tasks", spawns)
	}
	want := map[string]int{workload.TaskParent: 1, workload.TaskChildA: 3, workload.TaskChildB: 2}
	for task, code := range want {
		if exits[task] != code {
			t.Errorf("exit code of %s = %d, want %d", task, exits[task], code)
		}
	}
	if lines != 20 {
		t.Errorf("console lines = %d, want 20", lines)
	}
	if loops != 3 {
		t.Errorf("loop starts = %d, want 3", loops)
	}
	if changes == 0 {
		t.Error("no state changes reported")
	}
	if len(runIDs) != 1 || !runIDs["cb"] {
		t.Errorf("run IDs = %v, want only cb", runIDs)
	}
}

func TestRunManager_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	m, err := NewRunManager(ManagerConfig{
		Program: workload.Plain(),
		Factory: func(*supervisor.Supervisor, *console.Console, *slog.Logger) (kernel.Machine, error) {
			return nil, boom
		},
	})
	if err != nil {
		t.Fatalf("NewRunManager() error = %v", err)
	}

	_, err = m.Execute(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Errorf("Execute() error = %v, want %v", err, boom)
	}
	if m.RunCount() != 0 {
		t.Errorf("RunCount() = %d, want 0", m.RunCount())
	}
}

func TestRunManager_Timeout(t *testing.T) {
	blocking := machineFunc(func(ctx context.Context, _ string, _ kernel.Entry) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m, err := NewRunManager(ManagerConfig{
		Program: workload.Plain(),
		Timeout: 20 * time.Millisecond,
		Factory: staticFactory(blocking),
	})
	if err != nil {
		t.Fatalf("NewRunManager() error = %v", err)
	}

	rec, err := m.Execute(context.Background(), "slow")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !errors.Is(rec.Err, context.DeadlineExceeded) {
		t.Errorf("record error = %v, want deadline exceeded", rec.Err)
	}
	if rec.Outcome.Complete {
		t.Error("Outcome.Complete = true for a run that never booted")
	}
}
