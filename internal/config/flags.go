package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// envList is a custom flag type for repeatable -child-env flags.
type envList []string

func (e *envList) String() string {
	return strings.Join(*e, ", ")
}

func (e *envList) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("want KEY=VALUE, got %q", value)
	}
	*e = append(*e, value)
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses args and returns a Config. Usage and flag errors are
// written to output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	var env envList

	fs := flag.NewFlagSet("timeshare-workload", flag.ContinueOnError)
	fs.SetOutput(output)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `timeshare-workload - time-sharing scheduler workload and verifier

Usage:
  timeshare-workload [flags]

Workload Flags:
`)
		// Print flags by category
		printFlagCategory(fs, output, []string{"variant", "program", "scale"})

		fmt.Fprintf(output, "\nScheduling:\n")
		printFlagCategory(fs, output, []string{"backend", "tick", "granularity", "child-env"})

		fmt.Fprintf(output, "\nRuns:\n")
		printFlagCategory(fs, output, []string{"runs", "timeout", "run-gap", "run-jitter"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "metrics-dump", "metrics-per-task", "v", "log-format"})

		fmt.Fprintf(output, "\nDashboard:\n")
		printFlagCategory(fs, output, []string{"tui"})

		fmt.Fprintf(output, "\nDiagnostics:\n")
		printFlagCategory(fs, output, []string{"list", "print-program", "skip-preflight"})

		fmt.Fprintf(output, `
Variants: %s

Examples:
  # One chatty run on goroutines
  timeshare-workload

  # Ten delayed-start runs as real processes, checking repeatability
  timeshare-workload -variant delayed-start -backend process -runs 10

  # Custom program, metrics written to a file
  timeshare-workload -program three-way.yaml -metrics "" -metrics-dump metrics.prom

`, strings.Join(workload.Names(), ", "))
	}

	// Workload
	fs.StringVar(&cfg.Variant, "variant", cfg.Variant, "Built-in program: "+strings.Join(workload.Names(), ", "))
	fs.StringVar(&cfg.ProgramFile, "program", cfg.ProgramFile, "YAML program file (overrides -variant)")
	fs.IntVar(&cfg.Scale, "scale", cfg.Scale, "Inner-loop multiplier")

	// Scheduling
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, `Task backend: "thread" or "process"`)
	fs.DurationVar(&cfg.Tick, "tick", cfg.Tick, "Wall time of one sleep unit")
	fs.IntVar(&cfg.Granularity, "granularity", cfg.Granularity, "Scheduler timing granularity in units, used by ordering checks")
	fs.Var(&env, "child-env", "Extra KEY=VALUE for task processes (can repeat)")

	// Runs
	fs.IntVar(&cfg.Runs, "runs", cfg.Runs, "Repetitions (compared for repeatability when > 1)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-run timeout")
	fs.DurationVar(&cfg.RunGap, "run-gap", cfg.RunGap, "Pause between runs")
	fs.DurationVar(&cfg.RunJitter, "run-jitter", cfg.RunJitter, "Random extra pause between runs, up to this much")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty disables)")
	fs.StringVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write final metrics in text format to this file")
	fs.BoolVar(&cfg.PerTaskMetrics, "metrics-per-task", cfg.PerTaskMetrics, "Enable per-task Prometheus gauges")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	// TUI (Terminal User Interface)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Diagnostics
	fs.BoolVar(&cfg.List, "list", cfg.List, "List built-in variants and exit")
	fs.BoolVar(&cfg.PrintProgram, "print-program", cfg.PrintProgram, "Print the resolved program as YAML and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Hidden: set by the process backend on task processes
	fs.StringVar(&cfg.Task, "task", cfg.Task, "")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.ChildEnv = env
	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
