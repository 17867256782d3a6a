// Package engine drives the Team Engine loop from spec.md §4.7: per
// iteration it reclaims stale claims, refreshes this worker's own
// claims, delivers mailbox, selects a runnable batch, executes it in
// parallel, applies patches, and persists, until the run reaches a
// terminal state or hits the idle-iteration cap.
//
// Grounded on the teacher's pkg/orchestration/orchestrator.go's RunAll
// loop shape (reload state from disk each pass, select runnable, execute
// via runJobsConcurrently's sync.WaitGroup + semaphore) generalized from
// whole markdown jobs to team tasks guarded by claim leases, which the
// teacher's single-process loop never needed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/grovepm/grove-team/internal/clog"
	"github.com/grovepm/grove-team/internal/config"
	groveerrs "github.com/grovepm/grove-team/internal/errs"
	"github.com/grovepm/grove-team/pkg/execshim"
	"github.com/grovepm/grove-team/pkg/mailbox"
	"github.com/grovepm/grove-team/pkg/roleexec"
	"github.com/grovepm/grove-team/pkg/team"
)

var log = clog.For("engine")

// maxIdleIterations is the hard idle-loop cap from spec.md §4.7 — an
// upper bound, not a tuned contract (spec.md §9 Open Question ii).
const maxIdleIterations = 600

// Outcome is the terminal result the engine loop returns to the
// dispatcher.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailed          Outcome = "failed"
	OutcomeCanceled        Outcome = "canceled"
	OutcomeWaitingApproval Outcome = "waiting_approval"
)

// JobView is the minimal job-record surface the engine needs without
// importing jobstore, keeping engine testable against a fake record
// source.
type JobView struct {
	ID       string
	Provider string
	Mode     string
	Repo     string
	Ref      string
	Task     string
	Status   string // re-read each iteration to detect external cancellation
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Executor    execshim.CommandExecutor
	Config      config.Config
	WorkerID    string
	WorkDir     func(jobID string) string
	LogDir      func(jobID string) string // per-attempt Agent CLI transcript directory; nil disables logging
	LoadJob     func() (JobView, error)   // re-reads the job record's status/mode each iteration
	EmitEvent   func(typ, message string, payload map[string]any)
	Persist     func(run *team.Run) error
	JobOverride func(provider string, role team.Role) string
	EnvOverride func(provider, role string) string
}

// Run drives one job's team run to a terminal state or the idle cap.
func Run(ctx context.Context, run *team.Run, deps Deps) (Outcome, error) {
	policy := team.ClaimPolicy{
		ClaimTTL:          deps.Config.ClaimTTL,
		LeaseSlack:        deps.Config.ClaimLeaseSlack,
		HeartbeatInterval: deps.Config.HeartbeatInterval,
		NonReportingGrace: deps.Config.NonReportingGrace,
	}

	idleIterations := 0
	backoff := deps.Config.IdleBackoffBase

	for {
		job, err := deps.LoadJob()
		if err != nil {
			return OutcomeFailed, err
		}
		if job.Status == "canceled" {
			return OutcomeCanceled, nil
		}
		if job.Status == "waiting_approval" {
			run.Status = team.RunWaitingApproval
			_ = deps.Persist(run)
			return OutcomeWaitingApproval, nil
		}

		now := time.Now()
		reclaimExpiredAndNonReporting(run, now, policy, deps.EmitEvent)
		refreshOwnClaims(run, deps.WorkerID, now, policy)
		mailbox.Deliver(run, now, func(typ, msg string, payload map[string]any) { deps.EmitEvent(typ, msg, payload) })
		team.RecomputeMetrics(run, now)

		runnable := team.SelectRunnable(run, run.ParallelTasks)

		if len(runnable) == 0 {
			outcome, terminal, err := evaluateTermination(run, deps)
			if terminal {
				return outcome, err
			}
			idleIterations++
			if idleIterations > maxIdleIterations {
				run.Status = team.RunFailed
				_ = deps.Persist(run)
				return OutcomeFailed, groveerrs.Wrap(groveerrs.TimeoutIdle, "team run")
			}
			sleepBackoff(ctx, backoff)
			backoff = nextBackoff(backoff, deps.Config.IdleBackoffMax)
			continue
		}

		idleIterations = 0
		backoff = deps.Config.IdleBackoffBase

		team.StartBatch(run, runnable, deps.WorkerID, now, policy)
		run.Phase = team.Phase(run.Tasks)
		team.RecomputeMetrics(run, now)
		if err := deps.Persist(run); err != nil {
			return OutcomeFailed, err
		}

		results := executeBatch(ctx, runnable, run, job, deps)

		approvalRequested := false
		for _, res := range results {
			for _, m := range res.result.Mailbox {
				run.Mailbox = append(run.Mailbox, m)
			}
			team.ApplyTaskPatch(run, res.taskID, res.result.Patch)
			if res.result.ApprovalRequested {
				approvalRequested = true
				run.ApprovalTaskID = res.taskID
			}
		}

		run.Phase = team.Phase(run.Tasks)
		team.RecomputeMetrics(run, time.Now())

		if approvalRequested {
			run.Status = team.RunWaitingApproval
			if err := deps.Persist(run); err != nil {
				return OutcomeFailed, err
			}
			deps.EmitEvent("team.waiting_approval", fmt.Sprintf("task %s requested approval", run.ApprovalTaskID), map[string]any{"taskId": run.ApprovalTaskID})
			return OutcomeWaitingApproval, nil
		}

		if err := deps.Persist(run); err != nil {
			return OutcomeFailed, err
		}
	}
}

type batchResult struct {
	taskID string
	result roleexec.Result
}

// executeBatch runs every task in the batch concurrently, bounded by
// parallelTasks — the fan-out/join the teacher implements as
// runJobsConcurrently's sync.WaitGroup + semaphore channel.
func executeBatch(ctx context.Context, batch []*team.Task, run *team.Run, job JobView, deps Deps) []batchResult {
	var wg sync.WaitGroup
	results := make([]batchResult, len(batch))
	sem := make(chan struct{}, max(1, run.ParallelTasks))

	for i, t := range batch {
		wg.Add(1)
		go func(i int, t *team.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			workdir := ""
			if deps.WorkDir != nil {
				workdir = deps.WorkDir(job.ID)
			}
			logDir := ""
			if deps.LogDir != nil {
				logDir = deps.LogDir(job.ID)
			}

			in := roleexec.Input{
				JobID:       job.ID,
				Provider:    job.Provider,
				Mode:        job.Mode,
				Repo:        job.Repo,
				Ref:         job.Ref,
				JobTask:     job.Task,
				Phase:       run.Phase,
				Workdir:     workdir,
				LogDir:      logDir,
				Task:        t,
				Tasks:       run.Tasks,
				JobOverride: deps.JobOverride,
				EnvOverride: deps.EnvOverride,
			}
			res := roleexec.Execute(ctx, deps.Executor, deps.Config, in, deps.EmitEvent)
			results[i] = batchResult{taskID: t.ID, result: res}
		}(i, t)
	}

	wg.Wait()
	return results
}

// reclaimExpiredAndNonReporting normalizes expired claims (spec.md §4.7
// step 2): every running task whose claim is expired or non-reporting is
// reclaimed, with the matching observability event emitted.
func reclaimExpiredAndNonReporting(run *team.Run, now time.Time, policy team.ClaimPolicy, emit func(string, string, map[string]any)) {
	byID := make(map[string]*team.Task, len(run.Tasks))
	for _, t := range run.Tasks {
		byID[t.ID] = t
	}
	depsReady := func(t *team.Task) bool {
		for _, depID := range t.Dependencies {
			dep, ok := byID[depID]
			if !ok || dep.Status != team.TaskSucceeded {
				return false
			}
		}
		return true
	}

	for _, t := range run.Tasks {
		if team.IsNonReporting(t, now, policy) {
			emit("team.task.non_reporting", fmt.Sprintf("task %s has a non-reporting worker", t.ID), map[string]any{"taskId": t.ID})
		}
		if team.IsClaimExpired(t, now, policy) {
			reason := "claim lease expired"
			if team.IsNonReporting(t, now, policy) {
				reason = "non-reporting worker detected"
			}
			team.ReclaimTask(t, reason, depsReady(t))
			emit("team.claim_recovered", fmt.Sprintf("reclaimed task %s: %s", t.ID, reason), map[string]any{"taskId": t.ID})
		}
	}
}

// refreshOwnClaims heartbeats every running task this worker owns.
func refreshOwnClaims(run *team.Run, workerID string, now time.Time, policy team.ClaimPolicy) {
	for _, t := range run.Tasks {
		if t.Status == team.TaskRunning && t.WorkerID == workerID {
			team.HeartbeatClaim(t, workerID, now, policy)
		}
	}
}

// evaluateTermination implements spec.md §4.7 step 6's termination
// evaluation. Returns (outcome, terminal, err); terminal=false means the
// caller should idle-backoff and continue.
func evaluateTermination(run *team.Run, deps Deps) (Outcome, bool, error) {
	allFinished := team.AllTasksFinished(run)
	hasRunningOrQueued := false
	for _, t := range run.Tasks {
		if t.Status == team.TaskRunning || t.Status == team.TaskQueued {
			hasRunningOrQueued = true
			break
		}
	}

	if allFinished {
		hasFailed := false
		for _, t := range run.Tasks {
			if t.Status == team.TaskFailed {
				hasFailed = true
				break
			}
		}
		if hasFailed {
			if run.FixAttempts >= run.MaxFixAttempts {
				run.Status = team.RunFailed
				_ = deps.Persist(run)
				return OutcomeFailed, true, errors.New("team run fixed attempts exhausted")
			}
			if team.BuildFailureRecovery(run) {
				deps.EmitEvent("team.retry", "retrying after failure cascade", map[string]any{"fixAttempts": run.FixAttempts})
				_ = deps.Persist(run)
				return "", false, nil
			}
		}

		allSucceeded := true
		for _, t := range run.Tasks {
			if t.Status != team.TaskSucceeded {
				allSucceeded = false
				break
			}
		}
		if allSucceeded {
			run.Status = team.RunSucceeded
		} else {
			run.Status = team.RunFailed
		}
		deps.EmitEvent("team.completed", "team run finished", map[string]any{"status": string(run.Status)})
		_ = deps.Persist(run)
		if allSucceeded {
			return OutcomeSucceeded, true, nil
		}
		return OutcomeFailed, true, nil
	}

	if !hasRunningOrQueued {
		hasFailed := false
		for _, t := range run.Tasks {
			if t.Status == team.TaskFailed {
				hasFailed = true
				break
			}
		}
		if hasFailed && run.FixAttempts < run.MaxFixAttempts {
			team.BuildFailureRecovery(run)
			deps.EmitEvent("team.retry", "retrying after failure cascade", map[string]any{"fixAttempts": run.FixAttempts})
			_ = deps.Persist(run)
			return "", false, nil
		}
		if run.FixAttempts >= run.MaxFixAttempts {
			run.Status = team.RunFailed
			_ = deps.Persist(run)
			return OutcomeFailed, true, groveerrs.Wrap(groveerrs.DeadlockExhausted, "team run")
		}
		run.FixAttempts++
		deps.EmitEvent("team.blocked", "no runnable tasks and no progress path yet", nil)
		_ = deps.Persist(run)
		return "", false, nil
	}

	return "", false, nil
}

func sleepBackoff(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	jittered := time.Duration(float64(current*2) * (0.75 + rand.Float64()*0.5))
	if jittered > max {
		return max
	}
	if jittered <= 0 {
		return max
	}
	return jittered
}
