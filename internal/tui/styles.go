package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorBorder = lipgloss.Color("#2e7de9")
	colorText   = lipgloss.Color("#a9b1d6")
	colorActive = lipgloss.Color("#7aa2f7")
	colorAccent = lipgloss.Color("#bd93f9")
	colorProfit = lipgloss.Color("#9ece6a")
	colorLoss   = lipgloss.Color("#f7768e")
	colorDim    = lipgloss.Color("#565f89")

	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorActive)
	styleTabOn  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Underline(true)
	styleTabOff = lipgloss.NewStyle().Foreground(colorDim)
	styleColumn = lipgloss.NewStyle().Bold(true).Foreground(colorActive)
	styleProfit = lipgloss.NewStyle().Foreground(colorProfit)
	styleLoss   = lipgloss.NewStyle().Foreground(colorLoss)
	styleFooter = lipgloss.NewStyle().Foreground(colorText)
	styleError  = lipgloss.NewStyle().Foreground(colorLoss).Bold(true)
	styleFrame  = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

func renderHotKey(k, d string) string {
	return lipgloss.NewStyle().Foreground(colorAccent).Bold(true).Render("["+k+"]") + d
}
