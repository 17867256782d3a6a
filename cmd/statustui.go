package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/grovepm/grove-team/cmd/statustui"
)

func newStatusTUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status-tui <job-id>",
		Short: "Launch a read-only live dashboard for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := statustui.New(store(), args[0])
			_, err := tea.NewProgram(m).Run()
			return err
		},
	}
}
