package status

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/steerworks/steer/internal/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusWaiting   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// FormatOptions controls output formatting.
type FormatOptions struct {
	NoColor  bool
	AllSteps bool
	Quiet    bool
}

// FormatRun renders a single run with full details.
func FormatRun(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString(formatHeader(summary, opts))
	b.WriteString("\n\n")
	b.WriteString(formatProgress(summary, opts))
	b.WriteString("\n")

	if opts.AllSteps || summary.Status != types.RunStatusCompleted {
		b.WriteString("\n")
		b.WriteString(formatSteps(summary, opts))
	}

	if len(summary.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(formatErrors(summary, opts))
	}

	if summary.WaitingStep != "" && !opts.Quiet {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Waiting for review on %q.\n", summary.WaitingStep))
		b.WriteString(fmt.Sprintf("Run: steer resume %s --accept | --reject | --edit <file>\n", summary.RunID))
	}

	return b.String()
}

// FormatRunList renders a list of runs, newest first.
func FormatRunList(summaries []*RunSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Found %d run(s):\n\n", len(summaries)))

	sorted := make([]*RunSummary, len(summaries))
	copy(sorted, summaries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})

	for _, summary := range sorted {
		icon := style(summary.Status, opts).Render(statusIcon(summary.Status))
		done := summary.StepStats.Completed + summary.StepStats.Failed + summary.StepStats.Skipped
		b.WriteString(fmt.Sprintf("%s %-14s %-20s %-18s %d/%d steps\n",
			icon, summary.RunID, summary.Workflow, summary.Status,
			done, summary.StepStats.Total))
	}

	return b.String()
}

func formatHeader(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	title := fmt.Sprintf("Run: %s", summary.RunID)
	if !opts.NoColor {
		title = headerStyle.Render(title)
	}
	b.WriteString(title + "\n")
	b.WriteString(fmt.Sprintf("Workflow: %s\n", summary.Workflow))
	b.WriteString(fmt.Sprintf("Status:   %s %s\n",
		style(summary.Status, opts).Render(statusIcon(summary.Status)), summary.Status))
	b.WriteString(fmt.Sprintf("Started:  %s (%s ago)",
		summary.StartedAt.Format("2006-01-02 15:04:05"),
		formatDuration(time.Since(summary.StartedAt))))

	return b.String()
}

func formatProgress(summary *RunSummary, opts FormatOptions) string {
	stats := summary.StepStats
	done := stats.Completed + stats.Failed + stats.Skipped

	var percentage int
	if stats.Total > 0 {
		percentage = (done * 100) / stats.Total
	}

	barWidth := 25
	filled := (percentage * barWidth) / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	if !opts.NoColor {
		bar = statusCompleted.Render(strings.Repeat("█", filled)) +
			dimStyle.Render(strings.Repeat("░", barWidth-filled))
	}

	return fmt.Sprintf("Progress: %s %d%% (%d/%d steps)", bar, percentage, done, stats.Total)
}

func formatSteps(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString("Steps:\n")
	for _, step := range summary.Steps {
		// Nested parallel children render indented under their group.
		indent := "  "
		name := step.Name
		if i := strings.IndexByte(step.Name, '.'); i >= 0 {
			indent = "    "
			name = step.Name[i+1:]
		}
		icon := stepStyle(step.Status, opts).Render(stepIcon(step.Status))
		b.WriteString(fmt.Sprintf("%s%s %-24s %s\n", indent, icon, name, step.Status))
	}

	return b.String()
}

func formatErrors(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	label := "Errors:"
	if !opts.NoColor {
		label = statusFailed.Render(label)
	}
	b.WriteString(label + "\n")
	for _, err := range summary.Errors {
		b.WriteString(fmt.Sprintf("  ✗ %s\n", err))
	}

	return b.String()
}

func statusIcon(status types.RunStatus) string {
	switch status {
	case types.RunStatusRunning:
		return "●"
	case types.RunStatusWaiting:
		return "◌"
	case types.RunStatusCompleted:
		return "✓"
	case types.RunStatusFailed:
		return "✗"
	default:
		return "?"
	}
}

func stepIcon(status types.StepStatus) string {
	switch status {
	case types.StepStatusInProgress:
		return "●"
	case types.StepStatusWaiting:
		return "◌"
	case types.StepStatusCompleted:
		return "✓"
	case types.StepStatusFailed:
		return "✗"
	case types.StepStatusSkipped:
		return "⊘"
	default:
		return "○"
	}
}

func style(status types.RunStatus, opts FormatOptions) lipgloss.Style {
	if opts.NoColor {
		return lipgloss.NewStyle()
	}
	switch status {
	case types.RunStatusRunning:
		return statusRunning
	case types.RunStatusWaiting:
		return statusWaiting
	case types.RunStatusCompleted:
		return statusCompleted
	case types.RunStatusFailed:
		return statusFailed
	default:
		return statusPending
	}
}

func stepStyle(status types.StepStatus, opts FormatOptions) lipgloss.Style {
	if opts.NoColor {
		return lipgloss.NewStyle()
	}
	switch status {
	case types.StepStatusInProgress:
		return statusRunning
	case types.StepStatusWaiting:
		return statusWaiting
	case types.StepStatusCompleted:
		return statusCompleted
	case types.StepStatusFailed:
		return statusFailed
	default:
		return statusPending
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
