package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════════════════════════\n"
	ruleLight = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Program is the workload program name
	Program string

	// Backend is the scheduling backend the runs used
	Backend string

	// TargetRuns is the number of runs that were requested
	TargetRuns int

	// Duration is the total wall time
	Duration time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// Repeatable reports whether every run matched the first one
	Repeatable bool

	// StderrErrors counts failure patterns seen on task stderr
	StderrErrors map[string]int
}

// FormatExitSummary formats aggregated stats for display at program exit.
//
// The summary includes:
// - Run information
// - Per-task results
// - Exit-code distribution
// - Failed checks and stderr errors, when present
func FormatExitSummary(stats *AggregatedStats, cfg SummaryConfig) string {
	if stats == nil || stats.Runs == 0 {
		return formatBasicSummary(cfg)
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	b.WriteString("                        timeshare-workload Exit Summary\n")
	b.WriteString(ruleHeavy + "\n")

	// Run info
	fmt.Fprintf(&b, "Program:                %s\n", cfg.Program)
	fmt.Fprintf(&b, "Backend:                %s\n", cfg.Backend)
	fmt.Fprintf(&b, "Total Duration:         %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Runs:                   %d of %d\n", stats.Runs, cfg.TargetRuns)
	fmt.Fprintf(&b, "Verified:               %d passed, %d failed\n", stats.PassedRuns, stats.FailedRuns)
	if stats.Runs > 1 {
		fmt.Fprintf(&b, "Repeatable:             %s\n", yesNo(cfg.Repeatable))
	}
	fmt.Fprintf(&b, "Run Time:               p50 %s  p99 %s  max %s\n\n",
		FormatMs(stats.RunDurationP50),
		FormatMs(stats.RunDurationP99),
		FormatMs(stats.RunDurationMax),
	)

	// Tasks
	b.WriteString(ruleLight)
	b.WriteString("                                   Tasks\n")
	b.WriteString(ruleLight + "\n")

	fmt.Fprintf(&b, "  %-12s %6s %6s %6s %8s %12s %12s\n", "Task", "Code", "Exits", "Aborts", "Lines", "Lifetime p50", "Loop start")
	b.WriteString("  " + strings.Repeat("─", 72) + "\n")
	for _, t := range stats.Tasks {
		code := "-"
		if t.LastCode >= 0 {
			code = fmt.Sprintf("%d", t.LastCode)
		}
		loop := "-"
		if t.LoopStartP50 > 0 {
			loop = FormatMs(t.LoopStartP50)
		}
		fmt.Fprintf(&b, "  %-12s %6s %6d %6d %8s %12s %12s\n",
			t.Name,
			code,
			t.Exits,
			t.Aborts,
			FormatNumber(t.Lines),
			FormatMs(t.LifetimeP50),
			loop,
		)
	}
	fmt.Fprintf(&b, "\n  Console Lines:        %s\n", FormatNumber(stats.TotalLines))
	fmt.Fprintf(&b, "  Spawns:               %s\n\n", FormatNumber(stats.TotalSpawns))

	// Exit codes
	if len(stats.ExitCodes) > 0 {
		b.WriteString(ruleLight)
		b.WriteString("                                Exit Codes\n")
		b.WriteString(ruleLight + "\n")

		for _, code := range stats.ExitCodeList() {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), stats.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	// Failures
	if len(stats.FailedChecks) > 0 || stats.TotalAborts > 0 || len(cfg.StderrErrors) > 0 {
		b.WriteString(ruleLight)
		b.WriteString("                                 Failures\n")
		b.WriteString(ruleLight + "\n")

		if stats.TotalAborts > 0 {
			fmt.Fprintf(&b, "  Aborted Tasks:        %d\n", stats.TotalAborts)
		}
		for _, name := range sortedKeys(stats.FailedChecks) {
			fmt.Fprintf(&b, "  Check %-15s %d runs\n", name+":", stats.FailedChecks[name])
		}
		for _, pattern := range sortedKeys(cfg.StderrErrors) {
			fmt.Fprintf(&b, "  stderr %-14s %d\n", pattern+":", cfg.StderrErrors[pattern])
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(ruleHeavy)

	return b.String()
}

// formatBasicSummary formats a basic summary when no run finished.
func formatBasicSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	b.WriteString("                        timeshare-workload Exit Summary\n")
	b.WriteString(ruleHeavy + "\n")

	fmt.Fprintf(&b, "Program:                %s\n", cfg.Program)
	fmt.Fprintf(&b, "Total Duration:         %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Target Runs:            %d\n\n", cfg.TargetRuns)

	b.WriteString("(No run completed)\n\n")

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(ruleHeavy)

	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	case 255:
		return "(abort)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
