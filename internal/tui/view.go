package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-timeshare-workload/internal/stats"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderProgress())

	if m.live != nil {
		sections = append(sections, m.renderLiveRun())
	}

	if m.stats != nil && m.stats.Runs > 0 {
		sections = append(sections, m.renderResults())

		if m.hasFailures() {
			sections = append(sections, m.renderFailures())
		}
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders per-task statistics across runs.
func (m Model) renderDetailedView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderTaskTable())
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	var passed, failed int
	if m.stats != nil {
		passed, failed = m.stats.PassedRuns, m.stats.FailedRuns
	}

	header := fmt.Sprintf(
		" timeshare-workload │ %s │ %s/%s │ Runs: %d/%d │ Elapsed: %s ",
		GetRunLabel(passed, failed),
		m.program,
		m.backend,
		m.CompletedRuns(),
		m.targetRuns,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	progress := m.RunProgress()

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(progress, barWidth)

	var status string
	if progress >= 1.0 {
		status = statusOK.Render("✓ All runs complete")
	} else {
		status = statusInfo.Render(fmt.Sprintf("Running... %d/%d", m.CompletedRuns(), m.targetRuns))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Run Progress"),
		progressBar,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Current Run
// =============================================================================

func (m Model) renderLiveRun() string {
	v := m.live

	title := fmt.Sprintf("Run %d", v.Index)
	if id := shortID(v.RunID); id != "" {
		title += " (" + id + ")"
	}

	rows := []string{
		tableHeaderStyle.Render(fmt.Sprintf("%-12s %-9s %6s %7s %12s %12s", "Task", "State", "Code", "Sleeps", "Loop start", "Lifetime")),
	}
	for i, t := range v.Tasks {
		rows = append(rows, renderTaskRow(i, t))
	}
	rows = append(rows, "",
		RenderKeyValue("Active Tasks", fmt.Sprintf("%d", m.ActiveTasks())),
		RenderKeyValue("Console Lines", fmt.Sprintf("%d", v.ConsoleLines)),
		RenderKeyValue("Run Elapsed", formatMs(v.Elapsed)),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render(title)}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderTaskRow(i int, t supervisor.TaskRecord) string {
	code := "-"
	if t.State == supervisor.StateExited {
		code = fmt.Sprintf("%d", t.Code)
	}
	loop := "-"
	if t.LoopStarted {
		loop = formatMs(t.LoopStartAt)
	}
	life := "-"
	if t.State.IsTerminal() {
		life = formatMs(t.Lifetime())
	}

	rowStyle := tableRowEvenStyle
	if i%2 == 1 {
		rowStyle = tableRowOddStyle
	}

	return lipgloss.JoinHorizontal(lipgloss.Left,
		rowStyle.Render(fmt.Sprintf("%-12s ", t.Name)),
		GetStateStyle(t.State).Render(fmt.Sprintf("%-9s", t.State)),
		rowStyle.Render(fmt.Sprintf(" %6s %7d %12s %12s", code, t.Sleeps, loop, life)),
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// Results
// =============================================================================

func (m Model) renderResults() string {
	s := m.stats

	passRate := float64(s.PassedRuns) / float64(s.Runs)
	rateStyle := valueGoodStyle
	if s.FailedRuns > 0 {
		rateStyle = valueBadStyle
	}

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Verified:"),
			rateStyle.Render(fmt.Sprintf("%d passed, %d failed", s.PassedRuns, s.FailedRuns)),
			mutedStyle.Render(" ("+formatPercent(passRate)+")"),
		),
		RenderKeyValue("Run Time p50", formatMs(s.RunDurationP50)),
		RenderKeyValue("Run Time p99", formatMs(s.RunDurationP99)),
		RenderKeyValue("Console Lines", formatNumber(s.TotalLines)),
		RenderKeyValue("Spawns", formatNumber(s.TotalSpawns)),
		RenderKeyValue("Exit Codes", formatExitCodes(s)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Results")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// formatExitCodes renders the distribution as "1×3 2×3 3×3".
func formatExitCodes(s *stats.AggregatedStats) string {
	codes := s.ExitCodeList()
	if len(codes) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%d×%d", code, s.ExitCodes[code]))
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// Failures
// =============================================================================

func (m Model) hasFailures() bool {
	if m.stats == nil {
		return false
	}
	return m.stats.FailedRuns > 0 || m.stats.TotalAborts > 0
}

func (m Model) renderFailures() string {
	s := m.stats
	var rows []string

	if s.TotalAborts > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Aborted Tasks:"),
			valueBadStyle.Render(fmt.Sprintf("%d", s.TotalAborts)),
		))
	}
	for _, name := range slices.Sorted(maps.Keys(s.FailedChecks)) {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(name+":"),
			valueBadStyle.Render(fmt.Sprintf("%d runs", s.FailedChecks[name])),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Failures")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Detailed View
// =============================================================================

func (m Model) renderTaskTable() string {
	header := tableHeaderStyle.Render(fmt.Sprintf("%-12s %6s %6s %6s %8s %12s %12s",
		"Task", "Code", "Exits", "Aborts", "Lines", "Lifetime p50", "Loop p50"))

	rows := []string{header}
	for i, t := range m.stats.Tasks {
		code := "-"
		if t.LastCode >= 0 {
			code = fmt.Sprintf("%d", t.LastCode)
		}
		loop := "-"
		if t.LoopStartP50 > 0 {
			loop = formatMs(t.LoopStartP50)
		}

		style := tableRowEvenStyle
		if i%2 == 1 {
			style = tableRowOddStyle
		}
		rows = append(rows, style.Render(fmt.Sprintf("%-12s %6s %6d %6d %8s %12s %12s",
			t.Name, code, t.Exits, t.Aborts, formatNumber(t.Lines), formatMs(t.LifetimeP50), loop)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render(fmt.Sprintf("Tasks (%d runs)", m.stats.Runs))}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	keys := []string{
		boldStyle.Render("q") + mutedStyle.Render(" quit"),
		boldStyle.Render("d") + mutedStyle.Render(" details"),
		boldStyle.Render("r") + mutedStyle.Render(" refresh"),
	}
	line := strings.Join(keys, dimStyle.Render(" • "))

	if m.metricsAddr != "" {
		line += dimStyle.Render(" │ ") + mutedStyle.Render("metrics: http://"+m.metricsAddr+"/metrics")
	}

	return footerStyle.Render(line)
}
