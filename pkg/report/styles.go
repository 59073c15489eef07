package report

import "github.com/charmbracelet/lipgloss"

// Palette shared by every rendered report.
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // failures
	mintGreen   = lipgloss.Color("#A8E6CF") // applied
	mutedGray   = lipgloss.Color("#6B7280") // secondary text
	brightWhite = lipgloss.Color("#F9FAFB")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(brightWhite).
			Bold(true)

	subtleStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	appliedStyle = lipgloss.NewStyle().
			Foreground(mintGreen)

	skippedStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	failedStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedGray).
			Padding(0, 1)

	failedBoxStyle = boxStyle.
			BorderForeground(salmonPink)
)
