// Package verify checks the observable behaviour of a finished workload run:
// exit codes, spawn order, console output, start delays and repeatability.
package verify

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// Check names.
const (
	CheckExitCodes   = "exit_codes"
	CheckSpawnOrder  = "spawn_order"
	CheckConsole     = "console"
	CheckStartDelays = "start_delays"
	CheckNoAborts    = "no_aborts"
	CheckRepeatable  = "repeatable"
)

// Check is the result of one property check.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

func pass(name, format string, args ...any) Check {
	return Check{Name: name, Passed: true, Detail: fmt.Sprintf(format, args...)}
}

func fail(name string, problems []string) Check {
	return Check{Name: name, Detail: strings.Join(problems, "; ")}
}

// Report collects the checks of one run.
type Report struct {
	Checks []Check
	Passed bool
}

// Add appends c and updates Passed.
func (r *Report) Add(c Check) {
	if len(r.Checks) == 0 {
		r.Passed = true
	}
	r.Checks = append(r.Checks, c)
	r.Passed = r.Passed && c.Passed
}

// Failed returns the checks that did not pass.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Params describes how a run was configured.
type Params struct {
	Program     workload.Program
	Tick        time.Duration // wall time of one sleep unit
	Granularity int           // scheduler timing resolution in units
}

// Run applies every single-run check.
func Run(params Params, out supervisor.Outcome, lines []console.Line) Report {
	var r Report
	r.Add(ExitCodes(params.Program, out))
	r.Add(SpawnOrder(params.Program, out))
	r.Add(Console(params.Program, lines))
	r.Add(StartDelays(params, out))
	r.Add(NoAborts(out))
	return r
}

// ExitCodes checks that every configured code was observed exactly once,
// from the task configured with it, and that no other code appeared.
func ExitCodes(p workload.Program, out supervisor.Outcome) Check {
	var problems []string

	for _, spec := range p.Tasks() {
		rec, ok := out.Task(spec.Name)
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s never ran", spec.Name))
		case rec.State != supervisor.StateExited:
			problems = append(problems, fmt.Sprintf("%s %s", spec.Name, rec.State))
		case rec.Code != spec.ExitCode:
			problems = append(problems, fmt.Sprintf("%s exited %d, want %d", spec.Name, rec.Code, spec.ExitCode))
		}
	}

	seen := make(map[int]int)
	for _, code := range out.Codes() {
		seen[code]++
	}
	expected := p.ExitCodes()
	for _, code := range slices.Sorted(maps.Keys(seen)) {
		if _, ok := expected[code]; !ok {
			problems = append(problems, fmt.Sprintf("unexpected code %d", code))
		} else if seen[code] > 1 {
			problems = append(problems, fmt.Sprintf("code %d seen %d times", code, seen[code]))
		}
	}

	if len(problems) > 0 {
		return fail(CheckExitCodes, problems)
	}
	return pass(CheckExitCodes, "codes %v", out.Codes())
}

// SpawnOrder checks that children were created in program order.
func SpawnOrder(p workload.Program, out supervisor.Outcome) Check {
	want := make([]string, len(p.Children))
	for i, child := range p.Children {
		want[i] = child.Name
	}
	if !slices.Equal(out.SpawnOrder, want) {
		return fail(CheckSpawnOrder, []string{fmt.Sprintf("spawned %v, want %v", out.SpawnOrder, want)})
	}
	return pass(CheckSpawnOrder, "%v", want)
}

// Console checks the line multiset against the program: each message
// appears once per outer iteration of every task writing it, byte for
// byte, and nothing else appears. Lines attributed to a task must carry
// that task's message. When the backend attributes lines, every task
// must also have written exactly Outer lines of its own; without
// attribution only the per-message counts can be checked.
func Console(p workload.Program, lines []console.Line) Check {
	var problems []string

	want := p.ExpectedLines()
	got := make(map[string]int)
	byTask := make(map[string]int)
	attributed := false
	for _, l := range lines {
		got[l.Text]++
		if l.Task == "" {
			continue
		}
		attributed = true
		byTask[l.Task]++
		if spec, ok := p.Task(l.Task); ok && spec.Message != l.Text {
			problems = append(problems, fmt.Sprintf("%s wrote %q, want %q", l.Task, l.Text, spec.Message))
		}
	}

	if attributed {
		for _, spec := range p.Tasks() {
			wantN := 0
			if spec.Message != "" {
				wantN = spec.Outer
			}
			if byTask[spec.Name] != wantN {
				problems = append(problems, fmt.Sprintf("%s wrote %d lines, want %d", spec.Name, byTask[spec.Name], wantN))
			}
		}
	}

	for _, text := range slices.Sorted(maps.Keys(want)) {
		if got[text] != want[text] {
			problems = append(problems, fmt.Sprintf("%q x%d, want x%d", text, got[text], want[text]))
		}
	}
	for _, text := range slices.Sorted(maps.Keys(got)) {
		if _, ok := want[text]; !ok {
			problems = append(problems, fmt.Sprintf("unexpected line %q x%d", text, got[text]))
		}
	}

	if len(problems) > 0 {
		return fail(CheckConsole, problems)
	}
	return pass(CheckConsole, "%d lines", len(lines))
}

// StartDelays checks tasks with a start sleep: none starts its loop before
// its sleep has elapsed since boot, and a shorter sleep never starts its
// loop more than one granularity step after a longer one.
func StartDelays(params Params, out supervisor.Outcome) Check {
	var delayed []workload.TaskSpec
	for _, spec := range params.Program.Tasks() {
		if spec.StartSleep > 0 {
			delayed = append(delayed, spec)
		}
	}
	if len(delayed) == 0 {
		return pass(CheckStartDelays, "no start sleeps")
	}

	sort.SliceStable(delayed, func(i, j int) bool {
		return delayed[i].StartSleep < delayed[j].StartSleep
	})

	var problems []string
	starts := make(map[string]time.Duration, len(delayed))
	for _, spec := range delayed {
		rec, ok := out.Task(spec.Name)
		if !ok || !rec.LoopStarted {
			problems = append(problems, fmt.Sprintf("%s never started its loop", spec.Name))
			continue
		}
		starts[spec.Name] = rec.LoopStartAt

		earliest := time.Duration(spec.StartSleep) * params.Tick
		if rec.LoopStartAt < earliest {
			problems = append(problems, fmt.Sprintf("%s started at %v, before %v", spec.Name, rec.LoopStartAt, earliest))
		}
	}

	slack := time.Duration(params.Granularity) * params.Tick
	for i, early := range delayed {
		for _, late := range delayed[i+1:] {
			if early.StartSleep == late.StartSleep {
				continue
			}
			a, okA := starts[early.Name]
			b, okB := starts[late.Name]
			if okA && okB && a > b+slack {
				problems = append(problems, fmt.Sprintf("%s (sleep %d) started at %v, after %s (sleep %d) at %v",
					early.Name, early.StartSleep, a, late.Name, late.StartSleep, b))
			}
		}
	}

	if len(problems) > 0 {
		return fail(CheckStartDelays, problems)
	}
	return pass(CheckStartDelays, "%d delayed tasks in order", len(delayed))
}

// NoAborts checks that no task ended abnormally.
func NoAborts(out supervisor.Outcome) Check {
	var problems []string
	for _, rec := range out.Tasks {
		if rec.State == supervisor.StateAborted {
			problems = append(problems, fmt.Sprintf("%s: %v", rec.Name, rec.Err))
		}
	}
	if !out.Complete {
		problems = append(problems, "run did not complete")
	}
	if len(problems) > 0 {
		return fail(CheckNoAborts, problems)
	}
	return pass(CheckNoAborts, "%d tasks", len(out.Tasks))
}

// Signature is the part of a run that must not vary between repetitions:
// the exit-code set and the console line multiset.
type Signature struct {
	Codes []int
	Lines map[string]int
}

// Fingerprint extracts the repeatable signature of a run.
func Fingerprint(out supervisor.Outcome, lines []console.Line) Signature {
	counts := make(map[string]int)
	for _, l := range lines {
		counts[l.Text]++
	}
	return Signature{Codes: out.Codes(), Lines: counts}
}

// Repeatable checks that two runs produced the same signature.
func Repeatable(a, b Signature) Check {
	var problems []string
	if !slices.Equal(a.Codes, b.Codes) {
		problems = append(problems, fmt.Sprintf("codes %v vs %v", a.Codes, b.Codes))
	}
	if !maps.Equal(a.Lines, b.Lines) {
		problems = append(problems, fmt.Sprintf("lines %v vs %v", a.Lines, b.Lines))
	}
	if len(problems) > 0 {
		return fail(CheckRepeatable, problems)
	}
	return pass(CheckRepeatable, "codes %v", a.Codes)
}
