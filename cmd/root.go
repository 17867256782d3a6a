// Package cmd is the CLI surface (spec.md §6's external job submission/
// action/mailbox interfaces), built with cobra the way the teacher
// structures its cmd package: one newXCommand constructor per subcommand,
// returning a *cobra.Command with an inline RunE, grouped under a parent
// command.
//
// Grounded on the teacher's cmd/jobs.go (jobsCmd with nested subcommands,
// Args validators, RunE wiring) and cmd/root_commands.go's command
// registration, rebuilt here around jobstore/workqueue instead of the
// teacher's markdown-plan directories.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grovepm/grove-team/internal/clog"
	"github.com/grovepm/grove-team/internal/config"
	"github.com/grovepm/grove-team/pkg/jobstore"
	"github.com/grovepm/grove-team/pkg/workqueue"
)

var log = clog.For("cmd")

var cfg config.Config

// NewRootCommand builds the top-level `team` command.
func NewRootCommand() *cobra.Command {
	cfg = config.Load()

	root := &cobra.Command{
		Use:   "team",
		Short: "Team-mode job orchestrator",
		Long:  "Drives a user task to completion by decomposing it into a DAG of role-typed sub-tasks executed by an external Agent CLI.",
	}

	root.AddCommand(
		newSubmitCommand(),
		newStatusCommand(),
		newApproveCommand(),
		newRejectCommand(),
		newCancelCommand(),
		newResumeCommand(),
		newMailboxCommand(),
		newWorkerCommand(),
		newStatusTUICommand(),
	)
	return root
}

func store() *jobstore.Store {
	return jobstore.New(cfg.StateRoot)
}

func queue() *workqueue.Queue {
	return workqueue.New(cfg.StateRoot)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
