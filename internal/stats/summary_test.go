package stats

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
)

// =============================================================================
// Table-Driven Tests: Formatting Functions
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "00:00:00"},
		{"one second", time.Second, "00:00:01"},
		{"one minute", time.Minute, "00:01:00"},
		{"one hour", time.Hour, "01:00:00"},
		{"mixed", 2*time.Hour + 30*time.Minute + 45*time.Second, "02:30:45"},
		{"24 hours", 24 * time.Hour, "24:00:00"},
		{"sub-second", 500 * time.Millisecond, "00:00:00"},
		{"59 seconds", 59 * time.Second, "00:00:59"},
		{"59 minutes", 59 * time.Minute, "00:59:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.duration); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero", 0, "0"},
		{"small", 123, "123"},
		{"999", 999, "999"},
		{"1K", 1000, "1.0K"},
		{"1.5K", 1500, "1.5K"},
		{"10K", 10000, "10.0K"},
		{"999K", 999000, "999.0K"},
		{"1M", 1000000, "1.0M"},
		{"1.5M", 1500000, "1.5M"},
		{"10M", 10000000, "10.0M"},
		{"negative", -100, "-100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatNumber(tt.n); got != tt.want {
				t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "0 ms"},
		{"1 ms", time.Millisecond, "1 ms"},
		{"100 ms", 100 * time.Millisecond, "100 ms"},
		{"1 second", time.Second, "1000 ms"},
		{"sub-ms", 500 * time.Microsecond, "500 µs"},
		{"1 us", time.Microsecond, "1 µs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMs(tt.duration); got != tt.want {
				t.Errorf("FormatMs(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"zero", 0, "0.00/s"},
		{"small", 0.5, "0.50/s"},
		{"one", 1.0, "1.0/s"},
		{"ten", 10.0, "10.0/s"},
		{"hundred", 100.0, "100.0/s"},
		{"thousand", 1000.0, "1.0K/s"},
		{"1.5K", 1500.0, "1.5K/s"},
		{"10K", 10000.0, "10.0K/s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRate(tt.rate); got != tt.want {
				t.Errorf("FormatRate(%v) = %q, want %q", tt.rate, got, tt.want)
			}
		})
	}
}

func TestExitCodeLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "(clean)"},
		{137, "(SIGKILL)"},
		{143, "(SIGTERM)"},
		{255, "(abort)"},
		{1, ""},
		{2, ""},
		{-1, ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			if got := exitCodeLabel(tt.code); got != tt.want {
				t.Errorf("exitCodeLabel(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: FormatExitSummary
// =============================================================================

func TestFormatExitSummary_NoRuns(t *testing.T) {
	cfg := SummaryConfig{
		Program:     "chatty",
		TargetRuns:  3,
		Duration:    5 * time.Second,
		MetricsAddr: "127.0.0.1:17092",
	}

	for _, stats := range []*AggregatedStats{nil, {}} {
		out := FormatExitSummary(stats, cfg)
		for _, want := range []string{"Exit Summary", "Target Runs:            3", "No run completed", "http://127.0.0.1:17092/metrics"} {
			if !strings.Contains(out, want) {
				t.Errorf("summary missing %q:\n%s", want, out)
			}
		}
	}
}

func TestFormatExitSummary_Runs(t *testing.T) {
	agg := NewStatsAggregator()
	agg.RecordRun(chattyRun("run-1", true))
	agg.RecordRun(chattyRun("run-2", true))

	out := FormatExitSummary(agg.Aggregate(), SummaryConfig{
		Program:    "chatty",
		Backend:    "thread",
		TargetRuns: 2,
		Duration:   time.Second,
		Repeatable: true,
	})

	for _, want := range []string{
		"Program:                chatty",
		"Backend:                thread",
		"Runs:                   2 of 2",
		"Verified:               2 passed, 0 failed",
		"Repeatable:             yes",
		"parent",
		"child-a",
		"child-b",
		"Console Lines:        40",
		"Spawns:               4",
		"Exit Codes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Failures") {
		t.Errorf("passing runs should not list failures:\n%s", out)
	}
}

func TestFormatExitSummary_Failures(t *testing.T) {
	agg := NewStatsAggregator()
	run := chattyRun("run-1", false)
	run.Failed = []string{"console"}
	run.Outcome.Tasks[2].State = supervisor.StateAborted
	agg.RecordRun(run)

	out := FormatExitSummary(agg.Aggregate(), SummaryConfig{
		Program:      "chatty",
		TargetRuns:   1,
		StderrErrors: map[string]int{"task_fault": 1},
	})

	for _, want := range []string{"Failures", "Aborted Tasks:        1", "console:", "task_fault:", "0 passed, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Repeatable") {
		t.Error("a single run should not report repeatability")
	}
}

func BenchmarkFormatExitSummary(b *testing.B) {
	agg := NewStatsAggregator()
	for i := 0; i < 10; i++ {
		agg.RecordRun(chattyRun(fmt.Sprintf("run-%d", i), true))
	}
	stats := agg.Aggregate()
	cfg := SummaryConfig{Program: "chatty", Backend: "thread", TargetRuns: 10}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FormatExitSummary(stats, cfg)
	}
}
