// Package preflight provides startup validation checks.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel/proc"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// Note: RLIMIT_NPROC is read from /proc/self/limits so the check degrades
// to a warning where procfs is unavailable.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Params describes the run being checked.
type Params struct {
	Program     workload.Program
	Backend     string // "thread" or "process"
	Tick        time.Duration
	Granularity int
}

func (p Params) processBackend() bool {
	return p.Backend == "process"
}

// RunAll executes all preflight checks.
func RunAll(p Params) *Result {
	result := &Result{
		Checks: make([]Check, 0, 7),
		Passed: true,
	}

	result.add(checkProgram(p.Program))
	result.add(checkCPUs())
	result.add(checkTimerResolution(p.Tick, p.Granularity))

	// Task processes need pipes, process slots and a reaper
	if p.processBackend() {
		tasks := p.Program.TaskCount()
		result.add(checkFileDescriptors(tasks))
		result.add(checkProcessLimit(tasks))
		result.add(checkExecutable())
		result.add(checkSubreaper())
	}

	return result
}

// checkProgram verifies the program is runnable.
func checkProgram(p workload.Program) Check {
	if err := p.Validate(); err != nil {
		return Check{
			Name:    "program",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    "program",
		Passed:  true,
		Message: fmt.Sprintf("%s (%d tasks)", p.Name, p.TaskCount()),
	}
}

// checkCPUs reports the processors available to the scheduler.
func checkCPUs() Check {
	cpus := runtime.NumCPU()
	procs := runtime.GOMAXPROCS(0)

	return Check{
		Name:    "cpus",
		Passed:  true,
		Warning: procs == 1,
		Message: fmt.Sprintf("%d CPUs, GOMAXPROCS=%d", cpus, procs),
	}
}

// checkTimerResolution measures how far a one-tick sleep overshoots. A
// timer coarser than the ordering granularity makes the start-delay check
// meaningless.
func checkTimerResolution(tick time.Duration, granularity int) Check {
	if tick <= 0 {
		return Check{
			Name:    "timer_resolution",
			Passed:  false,
			Message: "tick must be positive",
		}
	}

	const samples = 5
	var worst time.Duration
	for i := 0; i < samples; i++ {
		start := time.Now()
		time.Sleep(tick)
		if over := time.Since(start) - tick; over > worst {
			worst = over
		}
	}

	slack := time.Duration(granularity) * tick
	return Check{
		Name:    "timer_resolution",
		Passed:  true,
		Warning: granularity > 0 && worst > slack,
		Message: fmt.Sprintf("worst overshoot %v for a %v tick (slack %v)", worst.Round(time.Microsecond), tick, slack),
	}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(tasks int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Three pipes per run, shared by every task, plus inherited copies
	// and harness overhead (metrics server, logging)
	required := tasks*6 + 64
	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<31-1) {
		actual = 1<<31 - 1
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d tasks)", actual, required, tasks),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(tasks int) Check {
	required := tasks + 16

	// Read soft limit from /proc/self/limits
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseProcessLimit(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseProcessLimit extracts the "Max processes" soft limit.
func parseProcessLimit(limits string) int {
	actual := 0
	for _, line := range strings.Split(limits, "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}
	return actual
}

// checkExecutable verifies the harness can re-execute itself for tasks.
func checkExecutable() Check {
	path, err := os.Executable()
	if err != nil {
		return Check{
			Name:    "executable",
			Passed:  false,
			Message: fmt.Sprintf("cannot locate own binary: %v", err),
		}
	}
	return Check{
		Name:    "executable",
		Passed:  true,
		Message: path,
	}
}

// checkSubreaper marks the harness as a child subreaper so detached tasks
// are reparented to it.
func checkSubreaper() Check {
	if err := proc.EnableSubreaper(); err != nil {
		msg := err.Error()
		if errors.Is(err, proc.ErrUnsupported) {
			msg = fmt.Sprintf("process backend unsupported on %s", runtime.GOOS)
		}
		return Check{
			Name:    "subreaper",
			Passed:  false,
			Message: msg,
		}
	}
	return Check{
		Name:    "subreaper",
		Passed:  true,
		Message: "enabled",
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "program":
		return "fix the program file (see -print-program for a valid example)"
	case "timer_resolution":
		return "use a positive -tick"
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "executable":
		return "run the binary from a readable path"
	case "subreaper":
		return "use -backend thread on this platform"
	default:
		return "see documentation"
	}
}
