// Package dispatcher is the Job Dispatcher from spec.md §4.8: pulls a
// job id from the work queue, transitions job status, routes to the
// Team Engine, writes the terminal result, and releases the queue claim.
//
// Grounded on the teacher's pkg/orchestration/orchestrator.go's
// executeJob/ExecuteJobWithWriter (status-transition-then-execute-then-
// finalize shape, deferred cleanup) and cmd/jobs_run.go's job resolution
// flow, generalized from resolving a job from an in-memory Plan to
// claiming one from the on-disk work queue.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/grovepm/grove-team/internal/clog"
	"github.com/grovepm/grove-team/pkg/engine"
	"github.com/grovepm/grove-team/pkg/execshim"
	"github.com/grovepm/grove-team/pkg/jobstore"
	"github.com/grovepm/grove-team/pkg/team"
	"github.com/grovepm/grove-team/pkg/workqueue"
)

var log = clog.For("dispatcher")

// Dispatcher pulls work from the queue and drives it through the engine.
type Dispatcher struct {
	Store    *jobstore.Store
	Queue    *workqueue.Queue
	Executor execshim.CommandExecutor
	WorkerID string
	WorkDir  func(jobID string) string
	BuildDeps func(rec *jobstore.Record) engine.Deps
}

// PollInterval is the work-queue poll interval when nothing is pending
// (spec.md §5's 400ms suspension point).
const PollInterval = 400 * time.Millisecond

// RunOnce pulls and fully processes at most one job; returns false if
// the queue had nothing pending.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	jobID, err := d.Queue.Claim()
	if err != nil {
		return false, err
	}
	if jobID == "" {
		return false, nil
	}

	if err := d.process(ctx, jobID); err != nil {
		log.WithField("job", jobID).WithError(err).Error("job processing failed")
	}
	return true, nil
}

func (d *Dispatcher) process(ctx context.Context, jobID string) error {
	defer func() {
		if err := d.Queue.ClearClaim(jobID); err != nil {
			log.WithField("job", jobID).WithError(err).Warn("failed to release queue claim")
		}
	}()

	rec, err := d.Store.Read(jobID)
	if err != nil {
		return err
	}

	if rec.Status == jobstore.JobSucceeded || rec.Status == jobstore.JobFailed ||
		rec.Status == jobstore.JobCanceled || rec.Status == jobstore.JobWaitingApproval {
		return nil
	}

	running := jobstore.JobRunning
	startedAt := rec.StartedAt
	if startedAt == nil {
		now := time.Now()
		startedAt = &now
	}
	rec, err = d.Store.Update(jobID, jobstore.Patch{
		Status:     &running,
		StartedAt:  startedAt,
		ClearError: true,
	})
	if err != nil {
		return err
	}
	d.Store.AppendEvent(jobID, "phase_changed", "Worker started processing", nil)

	if rec.ApprovalState == jobstore.ApprovalRequired {
		waiting := jobstore.JobWaitingApproval
		if _, err := d.Store.Update(jobID, jobstore.Patch{Status: &waiting}); err != nil {
			return err
		}
		d.Store.AppendEvent(jobID, "approval_required", "Job requires approval before continuing", nil)
		return nil
	}

	run := &rec.Options.Team
	if run.ParallelTasks <= 0 {
		run.ParallelTasks = 1
	}

	deps := d.BuildDeps(rec)
	deps.LoadJob = func() (engine.JobView, error) {
		current, err := d.Store.Read(jobID)
		if err != nil {
			return engine.JobView{}, err
		}
		return engine.JobView{
			ID: jobID, Provider: current.Provider, Mode: current.Mode,
			Repo: current.Repo, Ref: current.Ref, Task: current.Task,
			Status: string(current.Status),
		}, nil
	}
	deps.Persist = func(r *team.Run) error {
		opts := rec.Options
		opts.Team = *r
		_, err := d.Store.Update(jobID, jobstore.Patch{Options: &opts})
		return err
	}
	deps.EmitEvent = func(typ, message string, payload map[string]any) {
		d.Store.AppendEvent(jobID, typ, message, payload)
	}

	outcome, engineErr := engine.Run(ctx, run, deps)

	switch outcome {
	case engine.OutcomeCanceled:
		d.Store.AppendEvent(jobID, "canceled", "Job canceled", nil)
		return nil
	case engine.OutcomeWaitingApproval:
		waiting := jobstore.JobWaitingApproval
		required := jobstore.ApprovalRequired
		errMsg := fmt.Sprintf("awaiting approval for task %s", run.ApprovalTaskID)
		if _, err := d.Store.Update(jobID, jobstore.Patch{Status: &waiting, ApprovalState: &required, Error: &errMsg}); err != nil {
			return err
		}
		d.Store.AppendEvent(jobID, "waiting_approval", errMsg, map[string]any{"taskId": run.ApprovalTaskID})
		return nil
	case engine.OutcomeFailed:
		failed := jobstore.JobFailed
		now := time.Now()
		errMsg := "team run failed"
		if engineErr != nil {
			errMsg = engineErr.Error()
		}
		if _, err := d.Store.Update(jobID, jobstore.Patch{Status: &failed, FinishedAt: &now, Error: &errMsg}); err != nil {
			return err
		}
		d.Store.AppendEvent(jobID, "failed", errMsg, nil)
		return nil
	case engine.OutcomeSucceeded:
		succeeded := jobstore.JobSucceeded
		now := time.Now()
		output := map[string]any{"tasks": len(run.Tasks)}
		if _, err := d.Store.Update(jobID, jobstore.Patch{Status: &succeeded, FinishedAt: &now, Output: output}); err != nil {
			return err
		}
		d.Store.AppendEvent(jobID, "completed", "team run completed", nil)
		return nil
	default:
		if engineErr != nil {
			failed := jobstore.JobFailed
			now := time.Now()
			errMsg := engineErr.Error()
			if rec.Status != jobstore.JobCanceled {
				d.Store.Update(jobID, jobstore.Patch{Status: &failed, FinishedAt: &now, Error: &errMsg})
				d.Store.AppendEvent(jobID, "failed", errMsg, nil)
			}
		}
		return engineErr
	}
}
