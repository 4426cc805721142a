package commands

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	urlStyle   = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("39"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	paneStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	// detailStyle indents multi-line compiler messages under their pane.
	detailStyle = lipgloss.NewStyle().PaddingLeft(2)
)

// field renders one "label value" line of the serve banner.
func field(label, value string) string {
	return labelStyle.Width(10).Render(label) + value
}
