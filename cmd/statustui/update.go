package statustui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/grovepm/grove-team/pkg/team"
)

// Update handles refresh ticks and read-only navigation; grounded on the
// teacher's update.go switch-on-message-type shape, stripped of every
// branch that mutated a job (archive/rename/dep-edit/status-picker).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logs.Width = msg.Width - 4
		m.logs.Height = max(5, msg.Height/3)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.record != nil && m.cursor < len(m.record.Options.Team.Tasks)-1 {
				m.cursor++
			}
			return m, nil
		}

	case refreshMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tickCmd()
		}
		m.err = nil
		m.record = msg.record
		m.run = msg.record.Options.Team
		m.run.Phase = team.Phase(m.run.Tasks)
		m.events = msg.events
		m.logs.SetContent(renderEvents(m.events))
		return m, nil

	case tickMsg:
		return m, tea.Batch(refreshCmd(m.store, m.jobID), tickCmd())
	}

	var cmd tea.Cmd
	m.logs, cmd = m.logs.Update(msg)
	return m, cmd
}
