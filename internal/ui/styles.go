package ui

import "github.com/charmbracelet/lipgloss"

// Amber-on-dark instrument palette.
var (
	colorAmber     = lipgloss.Color("#FFB000")
	colorAmberDim  = lipgloss.Color("#805800")
	colorCyan      = lipgloss.Color("#33CCFF")
	colorGreen     = lipgloss.Color("#44DD66")
	colorRed       = lipgloss.Color("#FF4444")
	colorGrey      = lipgloss.Color("#888888")
	colorBarBg     = lipgloss.Color("#1A1200")
	colorBorderDim = lipgloss.Color("#665020")
)

var (
	styleTitleBar = lipgloss.NewStyle().
			Background(colorBarBg).
			Foreground(colorAmber).
			Bold(true).
			Padding(0, 1)

	styleStatusBar = lipgloss.NewStyle().
			Background(colorBarBg).
			Foreground(colorAmberDim).
			Padding(0, 1)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorderDim).
			Padding(0, 1)

	stylePanelTitle = lipgloss.NewStyle().
			Foreground(colorAmber).
			Bold(true)

	styleDistance = lipgloss.NewStyle().
			Foreground(colorAmber).
			Bold(true)

	styleSmoothed = lipgloss.NewStyle().
			Foreground(colorAmberDim)

	styleVelocityAway = lipgloss.NewStyle().
				Foreground(colorRed)

	styleVelocityToward = lipgloss.NewStyle().
				Foreground(colorGreen)

	styleRssi = lipgloss.NewStyle().
			Foreground(colorCyan)

	styleTimeout = lipgloss.NewStyle().
			Foreground(colorGrey)

	styleRowDim = lipgloss.NewStyle().
			Foreground(colorGrey)
)
