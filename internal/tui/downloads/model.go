package downloads

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/pkg/client"
)

// DefaultRefresh is how often the model polls the daemon
const DefaultRefresh = time.Second

// Backend is the subset of the daemon client the TUI needs
type Backend interface {
	List() ([]domain.DownloadRecord, error)
	Usage() (*domain.StorageUsage, error)
	Pause(id string) (*client.StatusResult, error)
	Resume(id string) (*client.StatusResult, error)
	Cancel(id string) error
}

var _ Backend = (*client.Client)(nil)

// view represents different screens in the TUI
type view int

const (
	viewList view = iota
	viewHelp
)

// Model is the Bubbletea model for the downloads monitor
type Model struct {
	// Navigation
	currentView view
	width       int
	height      int
	quitting    bool

	// Dependencies
	backend Backend
	refresh time.Duration

	// State
	records []domain.DownloadRecord
	usage   *domain.StorageUsage
	cursor  int

	// Components
	bar     progress.Model
	spinner spinner.Model

	// UI state
	loading       bool
	statusMessage string
	errorMessage  string
}

// NewModel creates a new downloads monitor model
func NewModel(backend Backend, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 30

	return Model{
		currentView: viewList,
		backend:     backend,
		refresh:     refresh,
		bar:         bar,
		spinner:     s,
		loading:     true,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		loadSnapshot(m.backend),
		m.spinner.Tick,
	)
}

// selected returns the record under the cursor
func (m Model) selected() (domain.DownloadRecord, bool) {
	if m.cursor < 0 || m.cursor >= len(m.records) {
		return domain.DownloadRecord{}, false
	}
	return m.records[m.cursor], true
}
