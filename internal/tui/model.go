package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-timeshare-workload/internal/stats"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatsMsg carries updated statistics.
type StatsMsg struct {
	Stats *stats.AggregatedStats
	Live  *RunView
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// RunView is a snapshot of the run in progress.
type RunView struct {
	RunID        string
	Index        int // 1-based
	Tasks        []supervisor.TaskRecord
	ConsoleLines int
	Elapsed      time.Duration
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	program     string
	backend     string
	targetRuns  int
	metricsAddr string

	// Current state
	stats        *stats.AggregatedStats
	live         *RunView
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	statsSource StatsSource
	liveSource  LiveSource

	quitting bool
}

// StatsSource provides aggregated statistics.
type StatsSource interface {
	GetAggregatedStats() *stats.AggregatedStats
}

// LiveSource provides the run in progress. It is optional.
type LiveSource interface {
	LiveRun() (RunView, bool)
}

// Config holds TUI configuration.
type Config struct {
	Program     string
	Backend     string
	TargetRuns  int
	MetricsAddr string
	StatsSource StatsSource
	LiveSource  LiveSource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		program:     cfg.Program,
		backend:     cfg.Backend,
		targetRuns:  cfg.TargetRuns,
		metricsAddr: cfg.MetricsAddr,
		statsSource: cfg.StatsSource,
		liveSource:  cfg.LiveSource,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case StatsMsg:
		m.stats = msg.Stats
		if msg.Live != nil {
			m.live = msg.Live
		}
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.statsSource != nil {
		m.stats = m.statsSource.GetAggregatedStats()
	}
	if m.liveSource != nil {
		if v, ok := m.liveSource.LiveRun(); ok {
			m.live = &v
		}
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView && m.stats != nil && len(m.stats.Tasks) > 0 {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 250ms.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// CompletedRuns returns the number of verified runs.
func (m Model) CompletedRuns() int {
	if m.stats == nil {
		return 0
	}
	return m.stats.Runs
}

// TargetRuns returns the requested run count.
func (m Model) TargetRuns() int {
	return m.targetRuns
}

// RunProgress returns the run progress (0.0 to 1.0).
func (m Model) RunProgress() float64 {
	if m.targetRuns == 0 {
		return 0
	}
	return float64(m.CompletedRuns()) / float64(m.targetRuns)
}

// ActiveTasks counts the live tasks of the run in progress.
func (m Model) ActiveTasks() int {
	if m.live == nil {
		return 0
	}
	n := 0
	for _, t := range m.live.Tasks {
		if t.State.IsActive() {
			n++
		}
	}
	return n
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStats sends a stats update to the TUI.
func SendStats(p *tea.Program, stats *stats.AggregatedStats) {
	if p != nil {
		p.Send(StatsMsg{Stats: stats})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
