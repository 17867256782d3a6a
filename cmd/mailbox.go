package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovepm/grove-team/internal/errs"
	"github.com/grovepm/grove-team/pkg/jobstore"
	"github.com/grovepm/grove-team/pkg/mailbox"
	"github.com/grovepm/grove-team/pkg/team"
)

// newMailboxCommand implements the mailbox send interface (spec.md §6):
// posts a message with delivered=false, rejected when mode != team or
// the message is malformed.
func newMailboxCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mailbox",
		Short: "Post a message into a job's mailbox",
	}

	var kind, to, taskID, text string
	send := &cobra.Command{
		Use:   "send <job-id>",
		Short: "Post a mailbox message (question, instruction, notice, reassign)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			rec, err := store().Read(jobID)
			if err != nil {
				return err
			}
			if rec.Mode != "team" {
				return errs.Wrap(errs.InvalidState, fmt.Sprintf("job %s is not in team mode", jobID))
			}

			msg := &team.Message{
				Kind:   team.MailboxKind(kind),
				TaskID: taskID,
				Text:   text,
			}
			if to != "" {
				msg.To = []string{to}
			}

			normalized := mailbox.Normalize([]*team.Message{msg})
			if len(normalized) == 0 {
				return errs.Wrap(errs.InvalidState, "mailbox message is malformed")
			}

			opts := rec.Options
			opts.Team.Mailbox = append(opts.Team.Mailbox, normalized[0])
			if _, err := store().Update(jobID, jobstore.Patch{Options: &opts}); err != nil {
				return err
			}
			fmt.Println(normalized[0].ID)
			return nil
		},
	}
	send.Flags().StringVar(&kind, "kind", "notice", "question, instruction, notice, or reassign")
	send.Flags().StringVar(&to, "to", "", "addressee: a role name or \"leader\"")
	send.Flags().StringVar(&taskID, "task-id", "", "target task id (required for reassign)")
	send.Flags().StringVar(&text, "message", "", "message text")

	root.AddCommand(send)
	return root
}
