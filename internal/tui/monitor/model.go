// Package monitor is the reception screen: queue badges, sync state, the
// pulled agenda and entries that need a decision, refreshed live.
package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/salonsync/salonsync/internal/conflicts"
	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
	engine "github.com/salonsync/salonsync/internal/sync"
)

// Panel represents which panel is active
type Panel int

const (
	PanelAgenda Panel = iota
	PanelAttention
)

// Source is the local store the monitor reads.
type Source interface {
	CountByStatus() (models.QueueCounts, error)
	ListEntries(statuses ...models.QueueStatus) ([]models.QueueEntry, error)
	ListSnapshots(from, to time.Time) ([]models.AppointmentSnapshot, error)
	GetSyncState() (db.SyncState, error)
}

// Syncer is the running engine. May be nil when sync is not configured.
type Syncer interface {
	RequestSync()
	Phase() engine.Phase
	Online() bool
}

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	Source Source
	Syncer Syncer
	Loc    *time.Location

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Badges    conflicts.Badges
	Agenda    []models.AppointmentSnapshot
	Attention []models.QueueEntry
	State     db.SyncState
	Phase     engine.Phase
	Online    bool

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	Spinner      spinner.Model
	LastRefresh  time.Time
	Err          error

	RefreshInterval time.Duration
	now             func() time.Time
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 12

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Badges    conflicts.Badges
	Agenda    []models.AppointmentSnapshot
	Attention []models.QueueEntry
	State     db.SyncState
	Phase     engine.Phase
	Online    bool
	Timestamp time.Time
	Err       error
}

// NewModel creates a new monitor model. syncer may be nil.
func NewModel(src Source, syncer Syncer, loc *time.Location, interval time.Duration) Model {
	if loc == nil {
		loc = time.Local
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		Source:          src,
		Syncer:          syncer,
		Loc:             loc,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelAgenda,
		Spinner:         sp,
		now:             time.Now,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case RefreshDataMsg:
		m.Err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		m.Badges = msg.Badges
		m.Agenda = msg.Agenda
		m.Attention = msg.Attention
		m.State = msg.State
		m.Phase = msg.Phase
		m.Online = msg.Online
		m.LastRefresh = msg.Timestamp
		return m, nil
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab", "shift+tab":
		m.ActivePanel = (m.ActivePanel + 1) % 2
		return m, nil

	case "1":
		m.ActivePanel = PanelAgenda
		return m, nil

	case "2":
		m.ActivePanel = PanelAttention
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "s":
		if m.Syncer != nil {
			m.Syncer.RequestSync()
		}
		return m, m.fetchData()

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.Source, m.Syncer, m.Loc, m.now())
	}
}
