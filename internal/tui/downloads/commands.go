package downloads

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Async commands that return tea.Msg

func loadSnapshot(b Backend) tea.Cmd {
	return func() tea.Msg {
		records, err := b.List()
		if err != nil {
			return snapshotMsg{err: err}
		}

		usage, err := b.Usage()
		if err != nil {
			return snapshotMsg{err: err}
		}

		return snapshotMsg{records: records, usage: usage}
	}
}

func scheduleRefresh(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func pauseDownload(b Backend, id string) tea.Cmd {
	return func() tea.Msg {
		_, err := b.Pause(id)
		return actionCompleteMsg{action: "paused", id: id, err: err}
	}
}

func resumeDownload(b Backend, id string) tea.Cmd {
	return func() tea.Msg {
		_, err := b.Resume(id)
		return actionCompleteMsg{action: "resumed", id: id, err: err}
	}
}

func cancelDownload(b Backend, id string) tea.Cmd {
	return func() tea.Msg {
		err := b.Cancel(id)
		return actionCompleteMsg{action: "canceled", id: id, err: err}
	}
}
