package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-timeshare-workload/internal/stats"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
)

// =============================================================================
// Mock sources
// =============================================================================

type mockStatsSource struct {
	stats *stats.AggregatedStats
}

func (m *mockStatsSource) GetAggregatedStats() *stats.AggregatedStats {
	return m.stats
}

type mockLiveSource struct {
	view RunView
	ok   bool
}

func (m *mockLiveSource) LiveRun() (RunView, bool) {
	return m.view, m.ok
}

func sampleLive() RunView {
	return RunView{
		RunID: "0f8e7d6c-5b4a-3928-1706-f5e4d3c2b1a0",
		Index: 2,
		Tasks: []supervisor.TaskRecord{
			{Name: "parent", State: supervisor.StateExited, Root: true, Code: 1, EndedAt: 5 * time.Millisecond},
			{Name: "child-a", State: supervisor.StateSleeping, SpawnSeq: 1, Sleeps: 3},
			{Name: "child-b", State: supervisor.StateRunning, SpawnSeq: 2, LoopStarted: true, LoopStartAt: 2 * time.Millisecond},
		},
		ConsoleLines: 12,
		Elapsed:      7 * time.Millisecond,
	}
}

func sampleStats() *stats.AggregatedStats {
	return &stats.AggregatedStats{
		Runs:         3,
		PassedRuns:   2,
		FailedRuns:   1,
		TotalSpawns:  9,
		TotalLines:   30,
		ExitCodes:    map[int]int{1: 3, 2: 3, 3: 3},
		FailedChecks: map[string]int{"console": 1},
		Tasks: []stats.Summary{
			{Name: "parent", Runs: 3, Exits: 3, LastCode: 1, Lines: 10, LifetimeP50: time.Millisecond},
			{Name: "child-a", Runs: 3, Exits: 3, LastCode: 3, Lines: 10, LifetimeP50: 3 * time.Millisecond, LoopStartP50: 2 * time.Millisecond},
		},
	}
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{
		Program:     "chatty",
		Backend:     "thread",
		TargetRuns:  5,
		MetricsAddr: "localhost:17092",
	})

	if model.program != "chatty" {
		t.Errorf("program = %s, want chatty", model.program)
	}
	if model.backend != "thread" {
		t.Errorf("backend = %s, want thread", model.backend)
	}
	if model.targetRuns != 5 {
		t.Errorf("targetRuns = %d, want 5", model.targetRuns)
	}
	if model.metricsAddr != "localhost:17092" {
		t.Errorf("metricsAddr = %s, want localhost:17092", model.metricsAddr)
	}
	if model.width != 80 {
		t.Errorf("width = %d, want 80", model.width)
	}
	if model.height != 24 {
		t.Errorf("height = %d, want 24", model.height)
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{TargetRuns: 1}).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"d", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			model := New(Config{TargetRuns: 1})
			msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)}
			if tt.key == "ctrl+c" {
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			} else if tt.key == "esc" {
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			}

			newModel, cmd := model.Update(msg)
			m := newModel.(Model)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_ToggleDetailedView(t *testing.T) {
	model := New(Config{TargetRuns: 1})
	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}

	newModel, _ := model.Update(msg)
	m := newModel.(Model)
	if !m.detailedView {
		t.Error("detailedView should be true after pressing 'd'")
	}

	newModel, _ = m.Update(msg)
	m = newModel.(Model)
	if m.detailedView {
		t.Error("detailedView should be false after pressing 'd' again")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	newModel, _ := New(Config{}).Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := newModel.(Model)

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

// =============================================================================
// Tests: Update - Tick and Stats
// =============================================================================

func TestModel_Update_Tick(t *testing.T) {
	model := New(Config{
		TargetRuns:  3,
		StatsSource: &mockStatsSource{stats: sampleStats()},
		LiveSource:  &mockLiveSource{view: sampleLive(), ok: true},
	})

	newModel, cmd := model.Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if m.stats == nil {
		t.Fatal("stats should be set after tick")
	}
	if m.stats.Runs != 3 {
		t.Errorf("Runs = %d, want 3", m.stats.Runs)
	}
	if m.live == nil || m.live.Index != 2 {
		t.Errorf("live = %+v, want run 2", m.live)
	}
	if cmd == nil {
		t.Error("expected tick cmd to be returned")
	}
}

func TestModel_Update_TickWithoutLiveRun(t *testing.T) {
	model := New(Config{LiveSource: &mockLiveSource{ok: false}})

	newModel, _ := model.Update(TickMsg(time.Now()))
	if m := newModel.(Model); m.live != nil {
		t.Errorf("live = %+v, want nil before the first run", m.live)
	}
}

func TestModel_Update_StatsMsg(t *testing.T) {
	live := sampleLive()
	newModel, _ := New(Config{TargetRuns: 3}).Update(StatsMsg{Stats: sampleStats(), Live: &live})
	m := newModel.(Model)

	if m.stats == nil || m.stats.PassedRuns != 2 {
		t.Errorf("stats = %+v, want 2 passed runs", m.stats)
	}
	if m.live == nil || m.live.ConsoleLines != 12 {
		t.Errorf("live = %+v, want 12 console lines", m.live)
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	newModel, cmd := New(Config{}).Update(QuitMsg{})
	m := newModel.(Model)

	if !m.quitting {
		t.Error("quitting should be true")
	}
	if cmd == nil {
		t.Error("expected tea.Quit cmd")
	}
}

func TestSendHelpers_NilProgram(t *testing.T) {
	// Must not panic
	SendStats(nil, sampleStats())
	SendQuit(nil)
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Quitting(t *testing.T) {
	model := New(Config{})
	model.quitting = true

	if view := model.View(); view != "" {
		t.Errorf("View() when quitting should be empty, got %q", view)
	}
}

func TestModel_View_Summary(t *testing.T) {
	model := New(Config{Program: "chatty", Backend: "process", TargetRuns: 3, MetricsAddr: "127.0.0.1:17092"})
	model.width = 120
	model.stats = sampleStats()
	live := sampleLive()
	model.live = &live

	view := model.View()

	for _, want := range []string{
		"timeshare-workload",
		"chatty/process",
		"Runs: 3/3",
		"Run 2 (0f8e7d6c)",
		"child-a",
		"sleeping",
		"Results",
		"1×3 2×3 3×3",
		"Failures",
		"console",
		"http://127.0.0.1:17092/metrics",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_NoStats(t *testing.T) {
	view := New(Config{Program: "plain", TargetRuns: 2}).View()

	if !strings.Contains(view, "Running... 0/2") {
		t.Errorf("View() = %q, want pending progress", view)
	}
	if strings.Contains(view, "Results") {
		t.Error("View() should not render results before the first run")
	}
}

func TestModel_View_Detailed(t *testing.T) {
	model := New(Config{TargetRuns: 3})
	model.width = 120
	model.stats = sampleStats()
	model.detailedView = true

	view := model.View()
	if !strings.Contains(view, "Tasks (3 runs)") {
		t.Errorf("detailed View() missing task table header")
	}
	if !strings.Contains(view, "child-a") {
		t.Errorf("detailed View() missing child-a row")
	}
}

// =============================================================================
// Tests: Accessors
// =============================================================================

func TestModel_Elapsed(t *testing.T) {
	model := New(Config{})
	time.Sleep(10 * time.Millisecond)

	if elapsed := model.Elapsed(); elapsed < 10*time.Millisecond {
		t.Errorf("Elapsed() = %v, want >= 10ms", elapsed)
	}
}

func TestModel_RunProgress(t *testing.T) {
	tests := []struct {
		name   string
		target int
		runs   int
		want   float64
	}{
		{"zero target", 0, 0, 0},
		{"none done", 4, 0, 0},
		{"half", 4, 2, 0.5},
		{"full", 4, 4, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := New(Config{TargetRuns: tt.target})
			model.stats = &stats.AggregatedStats{Runs: tt.runs}
			if got := model.RunProgress(); got != tt.want {
				t.Errorf("RunProgress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModel_ActiveTasks(t *testing.T) {
	model := New(Config{})
	if got := model.ActiveTasks(); got != 0 {
		t.Errorf("ActiveTasks() without live run = %d, want 0", got)
	}

	live := sampleLive()
	model.live = &live
	if got := model.ActiveTasks(); got != 2 {
		t.Errorf("ActiveTasks() = %d, want 2", got)
	}
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 ms"},
		{500 * time.Microsecond, "500 µs"},
		{42 * time.Millisecond, "42 ms"},
	}
	for _, tt := range tests {
		if got := formatMs(tt.d); got != tt.want {
			t.Errorf("formatMs(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatExitCodes(t *testing.T) {
	if got := formatExitCodes(&stats.AggregatedStats{}); got != "-" {
		t.Errorf("formatExitCodes(empty) = %q, want -", got)
	}
	if got := formatExitCodes(sampleStats()); got != "1×3 2×3 3×3" {
		t.Errorf("formatExitCodes() = %q, want 1×3 2×3 3×3", got)
	}
}
