package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/instasplit/instasplit-agent/internal/segment"
)

// Color palette
var (
	Pink     = lipgloss.Color("#D33061")
	Cyan     = lipgloss.Color("#3097C6")
	Amber    = lipgloss.Color("#CC8B3F")
	Red      = lipgloss.Color("#AC3835")
	Green    = lipgloss.Color("#A6A75D")
	Lavender = lipgloss.Color("#AEA47A")
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(Pink).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(Lavender)
	okStyle     = lipgloss.NewStyle().Foreground(Green).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(Red).Bold(true)
)

// Score bands used to colour the score column.
const (
	highScore = 80
	midScore  = 50
)

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= highScore:
		return okStyle
	case score >= midScore:
		return warnStyle
	default:
		return failStyle
	}
}

// formatClock renders seconds as M:SS, or H:MM:SS past the hour.
func formatClock(seconds float64) string {
	total := max(int(seconds), 0)
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func timeRange(start, end float64) string {
	return formatClock(start) + "-" + formatClock(end)
}

// renderSegments prints segs as a ranked table in the order given.
func renderSegments(segs []segment.Segment) string {
	if len(segs) == 0 {
		return mutedStyle.Render("No segments passed the score threshold.")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-4s %-15s %5s  %s", "#", "TIME", "SCORE", "TITLE")))
	b.WriteString("\n")
	for i, s := range segs {
		score := scoreStyle(s.Score).Render(fmt.Sprintf("%5d", s.Score))
		fmt.Fprintf(&b, "%-4d %-15s %s  %s", i+1, timeRange(s.Start, s.End), score, s.Title)
		if s.Degraded {
			b.WriteString(mutedStyle.Render(" (fallback)"))
		}
		b.WriteString("\n")
		if len(s.Tags) > 0 {
			b.WriteString("     " + mutedStyle.Render(strings.Join(s.Tags, " · ")))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderWindows prints a plan as a table.
func renderWindows(windows []segment.Window) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-4s %-9s %-9s %s", "#", "START", "END", "LENGTH")))
	b.WriteString("\n")
	for _, w := range windows {
		fmt.Fprintf(&b, "%-4d %-9s %-9s %.1fs\n", w.Index+1, formatClock(w.Start), formatClock(w.End), w.Duration())
	}
	return strings.TrimRight(b.String(), "\n")
}
