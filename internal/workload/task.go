// Package workload implements the concurrency test workload: a parent task
// that spawns a fixed set of children, after which every task runs a
// bounded busy loop (optionally interleaved with a sleep or a console line)
// and terminates with its own exit code.
//
// Programs are immutable values. The scheduler is reached only through
// kernel.Kernel, so the same workload runs on goroutines, on OS processes,
// or on a recording fake.
package workload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
)

// MaxMessageLen keeps a console line within the POSIX PIPE_BUF minimum so a
// single write stays atomic on a pipe.
const MaxMessageLen = 512

// TaskSpec configures one task. Sleep durations are in scheduler units.
type TaskSpec struct {
	Name       string `yaml:"name" json:"name"`
	ExitCode   int    `yaml:"exit_code" json:"exit_code"`
	StartSleep int    `yaml:"start_sleep,omitempty" json:"start_sleep,omitempty"`
	IterSleep  int    `yaml:"iter_sleep,omitempty" json:"iter_sleep,omitempty"`
	Outer      int    `yaml:"outer" json:"outer"`
	Inner      int    `yaml:"inner" json:"inner"`
	Message    string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Program is one configuration of the workload pattern.
type Program struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Parent      TaskSpec   `yaml:"parent" json:"parent"`
	Children    []TaskSpec `yaml:"children" json:"children"` // spawn order
}

// Tasks returns the parent followed by the children in spawn order.
func (p Program) Tasks() []TaskSpec {
	out := make([]TaskSpec, 0, len(p.Children)+1)
	out = append(out, p.Parent)
	out = append(out, p.Children...)
	return out
}

// Task finds a task by name.
func (p Program) Task(name string) (TaskSpec, bool) {
	for _, t := range p.Tasks() {
		if t.Name == name {
			return t, true
		}
	}
	return TaskSpec{}, false
}

// TaskByCode finds the task that publishes code.
func (p Program) TaskByCode(code int) (TaskSpec, bool) {
	for _, t := range p.Tasks() {
		if t.ExitCode == code {
			return t, true
		}
	}
	return TaskSpec{}, false
}

// ExitCodes maps every configured exit code to its task name.
func (p Program) ExitCodes() map[int]string {
	out := make(map[int]string, len(p.Children)+1)
	for _, t := range p.Tasks() {
		out[t.ExitCode] = t.Name
	}
	return out
}

// ExpectedLines maps every console message to the number of times it is written.
func (p Program) ExpectedLines() map[string]int {
	out := make(map[string]int)
	for _, t := range p.Tasks() {
		if t.Message != "" && t.Outer > 0 {
			out[t.Message] += t.Outer
		}
	}
	return out
}

// TaskCount is the number of tasks a run terminates.
func (p Program) TaskCount() int {
	return len(p.Children) + 1
}

// Validate checks the invariants observers rely on: unique names, exit
// codes and messages, non-negative bounds, and single-line messages.
// Unique messages let an observer that cannot tell writers apart still
// count each task's lines.
func (p Program) Validate() error {
	var errs []error

	if len(p.Children) == 0 {
		errs = append(errs, errors.New("program needs at least one child"))
	}

	names := make(map[string]bool)
	codes := make(map[int]string)
	messages := make(map[string]string)
	for _, t := range p.Tasks() {
		if err := t.validate(); err != nil {
			errs = append(errs, err)
		}
		if t.Name != "" {
			if names[t.Name] {
				errs = append(errs, fmt.Errorf("task %q: duplicate name", t.Name))
			}
			names[t.Name] = true
		}
		if other, ok := codes[t.ExitCode]; ok {
			errs = append(errs, fmt.Errorf("task %q: exit code %d already used by %q", t.Name, t.ExitCode, other))
		}
		codes[t.ExitCode] = t.Name
		if t.Message != "" {
			if other, ok := messages[t.Message]; ok {
				errs = append(errs, fmt.Errorf("task %q: message %q already used by %q", t.Name, t.Message, other))
			}
			messages[t.Message] = t.Name
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("program %q: %w", p.Name, errors.Join(errs...))
	}
	return nil
}

func (t TaskSpec) validate() error {
	var errs []error
	if t.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if t.ExitCode < 0 || t.ExitCode >= kernel.AbortStatus {
		errs = append(errs, fmt.Errorf("exit code %d out of range [0, %d]", t.ExitCode, kernel.AbortStatus-1))
	}
	if t.Outer < 0 || t.Inner < 0 {
		errs = append(errs, fmt.Errorf("loop bounds must be non-negative (outer=%d inner=%d)", t.Outer, t.Inner))
	}
	if t.StartSleep < 0 || t.IterSleep < 0 {
		errs = append(errs, fmt.Errorf("sleep durations must be non-negative (start=%d iter=%d)", t.StartSleep, t.IterSleep))
	}
	if t.Message != "" {
		switch {
		case !strings.HasSuffix(t.Message, "\n"):
			errs = append(errs, errors.New("message must end with a newline"))
		case strings.Count(t.Message, "\n") != 1:
			errs = append(errs, errors.New("message must be a single line"))
		}
		if len(t.Message) > MaxMessageLen {
			errs = append(errs, fmt.Errorf("message is %d bytes, limit %d", len(t.Message), MaxMessageLen))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("task %q: %w", t.Name, errors.Join(errs...))
	}
	return nil
}
