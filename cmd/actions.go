package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovepm/grove-team/internal/errs"
	"github.com/grovepm/grove-team/pkg/jobstore"
)

// newApproveCommand implements the approve action (spec.md §3 lifecycle:
// waiting_approval --approve--> queued).
func newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Approve a job paused at an approval gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			rec, err := store().Read(jobID)
			if err != nil {
				return err
			}
			if rec.Status != jobstore.JobWaitingApproval {
				return errs.Wrap(errs.InvalidState, fmt.Sprintf("job %s is not waiting for approval", jobID))
			}

			queuedStatus := jobstore.JobQueued
			approved := jobstore.ApprovalApproved
			if _, err := store().Update(jobID, jobstore.Patch{Status: &queuedStatus, ApprovalState: &approved, ClearError: true}); err != nil {
				return err
			}
			store().AppendEvent(jobID, "approval", "Job approved, re-queued", nil)
			return queue().Enqueue(jobID)
		},
	}
}

// newRejectCommand implements reject (waiting_approval --reject--> failed).
func newRejectCommand() *cobra.Command {
	var reason string
	c := &cobra.Command{
		Use:   "reject <job-id>",
		Short: "Reject a job paused at an approval gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			rec, err := store().Read(jobID)
			if err != nil {
				return err
			}
			if rec.Status != jobstore.JobWaitingApproval {
				return errs.Wrap(errs.InvalidState, fmt.Sprintf("job %s is not waiting for approval", jobID))
			}

			failed := jobstore.JobFailed
			rejected := jobstore.ApprovalRejected
			errMsg := reason
			if errMsg == "" {
				errMsg = "Rejected by approver"
			}
			if _, err := store().Update(jobID, jobstore.Patch{Status: &failed, ApprovalState: &rejected, Error: &errMsg}); err != nil {
				return err
			}
			store().AppendEvent(jobID, "failed", errMsg, nil)
			return nil
		},
	}
	c.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return c
}

// newCancelCommand implements cancel (any non-terminal status --cancel--> canceled).
func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			rec, err := store().Read(jobID)
			if err != nil {
				return err
			}
			if rec.Status == jobstore.JobSucceeded || rec.Status == jobstore.JobFailed || rec.Status == jobstore.JobCanceled {
				return errs.Wrap(errs.InvalidState, fmt.Sprintf("job %s is already terminal", jobID))
			}

			canceled := jobstore.JobCanceled
			if _, err := store().Update(jobID, jobstore.Patch{Status: &canceled}); err != nil {
				return err
			}
			store().AppendEvent(jobID, "canceled", "Job canceled by operator", nil)
			return nil
		},
	}
}

// newResumeCommand implements resume (terminal-with-options-preserved --resume--> queued).
func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Re-queue a terminal job, preserving its options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			rec, err := store().Read(jobID)
			if err != nil {
				return err
			}
			if rec.Status != jobstore.JobFailed && rec.Status != jobstore.JobCanceled {
				return errs.Wrap(errs.InvalidState, fmt.Sprintf("job %s is not resumable from status %s", jobID, rec.Status))
			}

			queuedStatus := jobstore.JobQueued
			noneApproval := jobstore.ApprovalNone
			if _, err := store().Update(jobID, jobstore.Patch{Status: &queuedStatus, ApprovalState: &noneApproval, ClearError: true}); err != nil {
				return err
			}
			store().AppendEvent(jobID, "queued", "Job resumed", nil)
			return queue().Enqueue(jobID)
		},
	}
}
