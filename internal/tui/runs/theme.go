// Package runs implements the `githubdeploy runs watch` TUI: a live table of
// recent deploy runs with the commands of the selected run underneath.
package runs

import "github.com/charmbracelet/lipgloss"

// Theme keeps every color of the TUI in one place.
type Theme struct {
	Succeeded lipgloss.Style
	Aborted   lipgloss.Style
	NonZero   lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Aborted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		NonZero:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}
