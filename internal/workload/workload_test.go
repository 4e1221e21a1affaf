package workload

import (
	"errors"
	"strings"
	"testing"
)

func TestVariants_Valid(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := Lookup(name)
			if err != nil {
				t.Fatalf("Lookup(%q) error: %v", name, err)
			}
			if err := p.Validate(); err != nil {
				t.Errorf("Validate() error: %v", err)
			}
			if p.TaskCount() != 3 {
				t.Errorf("TaskCount() = %d, want 3", p.TaskCount())
			}
			if p.Children[0].Name != TaskChildA || p.Children[1].Name != TaskChildB {
				t.Errorf("spawn order = [%s %s], want [%s %s]",
					p.Children[0].Name, p.Children[1].Name, TaskChildA, TaskChildB)
			}
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("bogus")
	if !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("Lookup(bogus) error = %v, want ErrUnknownVariant", err)
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	a, _ := Lookup(VariantChatty)
	a.Children[0].Outer = 99

	b, _ := Lookup(VariantChatty)
	if b.Children[0].Outer == 99 {
		t.Error("Lookup should return an independent copy")
	}
}

func TestNames(t *testing.T) {
	got := strings.Join(Names(), ",")
	want := "chatty,delayed-start,plain"
	if got != want {
		t.Errorf("Names() = %q, want %q", got, want)
	}
}

func TestVariants_FirstSpawnedChild(t *testing.T) {
	testCases := []struct {
		prog     Program
		wantA    TaskSpec // fields checked on Children[0]
		wantBExt int      // Children[1].ExitCode
	}{
		{Plain(), TaskSpec{Name: TaskChildA, ExitCode: 3, IterSleep: 300}, 2},
		{Chatty(), TaskSpec{Name: TaskChildA, ExitCode: 3, Message: "Timesharing 9\r\n"}, 2},
		{DelayedStart(), TaskSpec{Name: TaskChildA, ExitCode: 3, StartSleep: 3000}, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.prog.Name, func(t *testing.T) {
			a := tc.prog.Children[0]
			if a.Name != tc.wantA.Name || a.ExitCode != tc.wantA.ExitCode {
				t.Errorf("first spawned = %s/%d, want %s/%d", a.Name, a.ExitCode, tc.wantA.Name, tc.wantA.ExitCode)
			}
			if a.IterSleep != tc.wantA.IterSleep || a.StartSleep != tc.wantA.StartSleep || a.Message != tc.wantA.Message {
				t.Errorf("first spawned sleeps/message = %d/%d/%q, want %d/%d/%q",
					a.IterSleep, a.StartSleep, a.Message, tc.wantA.IterSleep, tc.wantA.StartSleep, tc.wantA.Message)
			}
			if got := tc.prog.Children[1].ExitCode; got != tc.wantBExt {
				t.Errorf("second spawned exit code = %d, want %d", got, tc.wantBExt)
			}
		})
	}
}

func TestProgram_ExitCodes(t *testing.T) {
	codes := Chatty().ExitCodes()
	want := map[int]string{1: TaskParent, 3: TaskChildA, 2: TaskChildB}
	if len(codes) != len(want) {
		t.Fatalf("ExitCodes() = %v, want %v", codes, want)
	}
	for code, name := range want {
		if codes[code] != name {
			t.Errorf("code %d -> %q, want %q", code, codes[code], name)
		}
	}
}

func TestProgram_ExpectedLines(t *testing.T) {
	testCases := []struct {
		name     string
		program  Program
		expected map[string]int
	}{
		{"plain", Plain(), map[string]int{}},
		{"delayed-start", DelayedStart(), map[string]int{}},
		{"chatty", Chatty(), map[string]int{
			"Timesharing 7\r\n": 5,
			"Timesharing 9\r\n": 5,
			"Timesharing 8\r\n": 10,
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.program.ExpectedLines()
			if len(got) != len(tc.expected) {
				t.Fatalf("ExpectedLines() = %v, want %v", got, tc.expected)
			}
			for msg, n := range tc.expected {
				if got[msg] != n {
					t.Errorf("ExpectedLines()[%q] = %d, want %d", msg, got[msg], n)
				}
			}
		})
	}
}

func TestProgram_TaskLookups(t *testing.T) {
	p := DelayedStart()

	task, ok := p.Task(TaskChildB)
	if !ok || task.StartSleep != 2000 {
		t.Errorf("Task(child-b) = %+v, %v", task, ok)
	}
	if _, ok := p.Task("nobody"); ok {
		t.Error("Task(nobody) should not be found")
	}

	task, ok = p.TaskByCode(3)
	if !ok || task.Name != TaskChildA {
		t.Errorf("TaskByCode(3) = %+v, %v", task, ok)
	}
	if _, ok := p.TaskByCode(42); ok {
		t.Error("TaskByCode(42) should not be found")
	}
}

func TestProgram_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(p *Program)
		wantErr string
	}{
		{"valid", func(p *Program) {}, ""},
		{"no children", func(p *Program) { p.Children = nil }, "at least one child"},
		{"duplicate code", func(p *Program) { p.Children[1].ExitCode = 1 }, "exit code 1 already used"},
		{"duplicate name", func(p *Program) { p.Children[1].Name = TaskChildA }, "duplicate name"},
		{"empty name", func(p *Program) { p.Parent.Name = "" }, "name is required"},
		{"reserved code", func(p *Program) { p.Parent.ExitCode = 255 }, "out of range"},
		{"negative code", func(p *Program) { p.Parent.ExitCode = -1 }, "out of range"},
		{"negative outer", func(p *Program) { p.Children[0].Outer = -1 }, "loop bounds"},
		{"negative sleep", func(p *Program) { p.Children[0].IterSleep = -5 }, "sleep durations"},
		{"no newline", func(p *Program) { p.Parent.Message = "hello" }, "end with a newline"},
		{"two lines", func(p *Program) { p.Parent.Message = "a\nb\n" }, "single line"},
		{"too long", func(p *Program) { p.Parent.Message = strings.Repeat("x", MaxMessageLen) + "\n" }, "limit"},
		{"duplicate message", func(p *Program) { p.Children[0].Message = p.Parent.Message }, "already used by \"parent\""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := Chatty()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestSpin(t *testing.T) {
	if spin(0) != 0 {
		t.Error("spin(0) should do no work")
	}
	if spin(1000) == spin(10) {
		t.Error("spin results should depend on the bound")
	}
}
