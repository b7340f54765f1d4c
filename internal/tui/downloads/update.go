package downloads

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/elsanchez/smart-cache/internal/domain"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Clear previous messages on keypress
		m.errorMessage = ""
		m.statusMessage = ""

		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if w := msg.Width - 50; w > 10 {
			m.bar.Width = w
		}
		return m, nil

	case snapshotMsg:
		m.loading = false
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
		} else {
			m.records = msg.records
			m.usage = msg.usage
			if m.cursor >= len(m.records) {
				m.cursor = max(len(m.records)-1, 0)
			}
		}
		return m, scheduleRefresh(m.refresh)

	case tickMsg:
		return m, loadSnapshot(m.backend)

	case actionCompleteMsg:
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, nil
		}
		m.statusMessage = "✓ " + msg.id + " " + msg.action
		return m, loadSnapshot(m.backend)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.currentView == viewHelp {
		// Any key returns to list
		m.currentView = viewList
		return m, nil
	}

	switch {
	case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
		if m.cursor < len(m.records)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("p"))):
		rec, ok := m.selected()
		if !ok {
			return m, nil
		}
		if rec.Status != domain.StatusDownloading {
			m.errorMessage = "Only active downloads can be paused"
			return m, nil
		}
		return m, pauseDownload(m.backend, rec.Asset.ID)

	case key.Matches(msg, key.NewBinding(key.WithKeys("r"))):
		rec, ok := m.selected()
		if !ok {
			return m, nil
		}
		if !rec.Status.IsResumable() {
			m.errorMessage = "Only paused or failed items can be resumed"
			return m, nil
		}
		return m, resumeDownload(m.backend, rec.Asset.ID)

	case key.Matches(msg, key.NewBinding(key.WithKeys("c"))):
		if rec, ok := m.selected(); ok {
			return m, cancelDownload(m.backend, rec.Asset.ID)
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("?"))):
		m.currentView = viewHelp
		return m, nil
	}

	return m, nil
}

// statusIcon returns the marker shown next to each record
func statusIcon(s domain.DownloadStatus) string {
	switch s {
	case domain.StatusDownloading:
		return "↓"
	case domain.StatusPaused:
		return "⏸"
	case domain.StatusError:
		return "✗"
	case domain.StatusCompleted:
		return "✓"
	default:
		return "…"
	}
}
