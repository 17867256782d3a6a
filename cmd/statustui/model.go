// Package statustui is a read-only status dashboard for a single team-mode
// job: task DAG, phase, and metrics, polling the job record on an interval.
//
// Grounded on the teacher's cmd/status_tui/model.go (the Model struct
// holding cursor/selection/viewport state, a KeyMap, a bubbletea Program
// reference) and view.go's layout math, stripped of everything that
// depended on grove-core/tui (theme, help, logviewer) or on mutating a
// job (archive, rename, edit-deps, status-picker) — this dashboard is
// read-only, polling jobstore instead of holding a live *Orchestrator.
package statustui

import (
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/grovepm/grove-team/pkg/jobstore"
	"github.com/grovepm/grove-team/pkg/team"
)

const refreshInterval = time.Second

// Model is the dashboard's bubbletea state.
type Model struct {
	store *jobstore.Store
	jobID string

	record *jobstore.Record
	run    team.Run
	events []jobstore.Event
	err    error

	width, height int
	cursor        int
	logs          viewport.Model
}

// New builds a dashboard model polling jobID from store.
func New(store *jobstore.Store, jobID string) Model {
	return Model{
		store: store,
		jobID: jobID,
		logs:  viewport.New(80, 10),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(refreshCmd(m.store, m.jobID), tickCmd())
}

type refreshMsg struct {
	record *jobstore.Record
	events []jobstore.Event
	err    error
}

type tickMsg time.Time

func refreshCmd(store *jobstore.Store, jobID string) tea.Cmd {
	return func() tea.Msg {
		rec, err := store.Read(jobID)
		if err != nil {
			return refreshMsg{err: err}
		}
		events, _ := store.ListRecentEvents(jobID, 50)
		return refreshMsg{record: rec, events: events}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}
