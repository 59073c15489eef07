// Package report renders pipeline cycle reports for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/pagewatch/pkg/module"
	"github.com/entrhq/pagewatch/pkg/orchestrator"
)

// Render draws r as a bordered box: a title line, one line per module and a
// summary. Width 0 lets the box size to its content.
func Render(r *orchestrator.CycleReport, width int) string {
	if r == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", r.Kind, r.Location)))
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render(r.StartedAt.Format(time.TimeOnly) + " " + r.Duration.Round(time.Millisecond).String()))
	b.WriteString("\n\n")

	nameWidth := 0
	for _, res := range r.Results {
		nameWidth = max(nameWidth, lipgloss.Width(res.Module))
	}

	for _, res := range r.Results {
		name := res.Module + strings.Repeat(" ", nameWidth-lipgloss.Width(res.Module))
		b.WriteString(fmt.Sprintf("%s %s  %s", marker(res.Outcome), name, outcomeStyle(res.Outcome).Render(res.Outcome.String())))
		if msg := res.Error(); msg != "" {
			b.WriteString(" " + subtleStyle.Render(msg))
		}
		b.WriteString("\n")
	}

	if r.Interrupted {
		b.WriteString(failedStyle.Render("interrupted") + "\n")
	}
	b.WriteString("\n")
	b.WriteString(Summary(r))

	box := boxStyle
	if r.Failed() {
		box = failedBoxStyle
	}
	if width > 0 {
		box = box.Width(width)
	}
	return box.Render(b.String())
}

// Summary is the one-line tally of r.
func Summary(r *orchestrator.CycleReport) string {
	return fmt.Sprintf("%s  %s  %s",
		appliedStyle.Render(fmt.Sprintf("%d applied", r.Count(module.Applied))),
		skippedStyle.Render(fmt.Sprintf("%d not applicable", r.Count(module.NotApplicable))),
		failedStyle.Render(fmt.Sprintf("%d failed", r.Count(module.Failed))))
}

func marker(o module.Outcome) string {
	switch o {
	case module.Applied:
		return appliedStyle.Render("✓")
	case module.Failed:
		return failedStyle.Render("✗")
	default:
		return skippedStyle.Render("·")
	}
}

func outcomeStyle(o module.Outcome) lipgloss.Style {
	switch o {
	case module.Applied:
		return appliedStyle
	case module.Failed:
		return failedStyle
	default:
		return skippedStyle
	}
}
