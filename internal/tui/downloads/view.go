package downloads

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles with adaptive colors for light/dark backgrounds
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "205"}).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "250"})

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "9"}).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "34", Dark: "10"}).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "205"})

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "205"}).
			Bold(true)
)

// View renders the current view
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var content string
	switch m.currentView {
	case viewHelp:
		content = m.viewHelp()
	default:
		content = m.viewList()
	}

	// Add status/error messages
	if m.errorMessage != "" {
		content += "\n" + errorStyle.Render("Error: "+m.errorMessage)
	} else if m.statusMessage != "" {
		content += "\n" + successStyle.Render(m.statusMessage)
	}

	if m.loading {
		content += "\n" + m.spinner.View() + " Loading..."
	}

	return content
}

// viewList renders the download queue
func (m Model) viewList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Offline Downloads") + "\n\n")

	if m.usage != nil {
		b.WriteString(fmt.Sprintf("  Storage: %s / %s\n\n",
			formatBytes(m.usage.UsedBytes), formatBytes(m.usage.QuotaBytes)))
	}

	if len(m.records) == 0 {
		b.WriteString("  No downloads in progress.\n")
	}

	for i, rec := range m.records {
		cursor := "  "
		name := fmt.Sprintf("%-28s", truncate(rec.Asset.DisplayName(), 28))
		if i == m.cursor {
			cursor = "▸ "
			name = selectedStyle.Render(name)
		}

		b.WriteString(fmt.Sprintf("  %s%s %s %s %3d%% %-11s\n",
			cursor,
			statusIcon(rec.Status),
			name,
			m.bar.ViewAs(float64(rec.ProgressPercent)/100),
			rec.ProgressPercent,
			rec.Status,
		))

		if rec.ErrorMessage != "" && i == m.cursor {
			b.WriteString(fmt.Sprintf("     %s\n", helpStyle.Render(rec.ErrorMessage)))
		}
	}

	help := "\n" + helpStyle.Render("  ↑/k up • ↓/j down • p pause • r resume • c cancel • ? help • q quit")

	return b.String() + help
}

// viewHelp renders the help screen
func (m Model) viewHelp() string {
	title := titleStyle.Render("Help")

	help := `
  Navigation:
    ↑/k        Move up
    ↓/j        Move down
    q          Quit

  Actions:
    p          Pause selected download
    r          Resume paused or failed download
    c          Cancel and discard progress
    ?          Show this help

  Only one download runs at a time; the rest wait as pending.
`

	return title + "\n" + help + "\n" + helpStyle.Render("  Press any key to return")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
