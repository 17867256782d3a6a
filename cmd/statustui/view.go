package statustui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/grovepm/grove-team/pkg/jobstore"
	"github.com/grovepm/grove-team/pkg/team"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusColors  = map[team.TaskStatus]lipgloss.Color{
		team.TaskQueued:    lipgloss.Color("244"),
		team.TaskRunning:   lipgloss.Color("39"),
		team.TaskSucceeded: lipgloss.Color("70"),
		team.TaskFailed:    lipgloss.Color("196"),
		team.TaskBlocked:   lipgloss.Color("178"),
		team.TaskCanceled:  lipgloss.Color("240"),
	}
)

// View renders the dashboard; grounded on the teacher's view.go's
// header/body/footer layout composition with lipgloss, minus the
// multi-pane jobs/logs split that depended on grove-core/tui/theme.
func (m Model) View() string {
	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("error reading job %s: %v", m.jobID, m.err)) + "\n"
	}
	if m.record == nil {
		return dimStyle.Render("loading...") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("job %s", m.record.ID)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("status=%s approval=%s phase=%s fixAttempts=%d/%d",
		m.record.Status, m.record.ApprovalState, m.run.Phase, m.run.FixAttempts, m.run.MaxFixAttempts)))
	b.WriteString("\n\n")

	for i, t := range m.run.Tasks {
		line := fmt.Sprintf("%-14s %-10s %-9s attempt=%d", t.ID, t.Role, t.Status, t.Attempt)
		color, ok := statusColors[t.Status]
		if !ok {
			color = lipgloss.Color("255")
		}
		styled := lipgloss.NewStyle().Foreground(color).Render(line)
		if i == m.cursor {
			styled = cursorStyle.Render("> ") + styled
		} else {
			styled = "  " + styled
		}
		b.WriteString(styled)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("metrics"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%+v", m.run.Metrics)))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("recent events"))
	b.WriteString("\n")
	b.WriteString(m.logs.View())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q: quit  up/down: select task"))
	return b.String()
}

func renderEvents(events []jobstore.Event) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString(fmt.Sprintf("%s  %-28s %s\n", e.CreatedAt.Format("15:04:05"), e.Type, e.Message))
	}
	return b.String()
}
