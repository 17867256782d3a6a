package team

import (
	"sort"
	"time"
)

// IsReady implements spec.md §4.4's isReady: the task isn't pending
// approval, its status isn't a dead-end, and every dependency succeeded.
func IsReady(t *Task, tasks []*Task) bool {
	if t.RequiresApproval {
		return false
	}
	switch t.Status {
	case TaskSucceeded, TaskFailed, TaskCanceled, TaskRunning:
		return false
	}
	byID := indexByID(tasks)
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status != TaskSucceeded {
			return false
		}
	}
	return true
}

func indexByID(tasks []*Task) map[string]*Task {
	m := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

// SelectRunnable implements spec.md §4.4's selectRunnable: all {queued,
// blocked} tasks satisfying IsReady, sorted by role order, capped at
// parallelTasks.
func SelectRunnable(run *Run, parallelTasks int) []*Task {
	var candidates []*Task
	for _, t := range run.Tasks {
		if t.Status != TaskQueued && t.Status != TaskBlocked {
			continue
		}
		if IsReady(t, run.Tasks) {
			candidates = append(candidates, t)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return roleOrder[candidates[i].Role] < roleOrder[candidates[j].Role]
	})

	if parallelTasks > 0 && len(candidates) > parallelTasks {
		candidates = candidates[:parallelTasks]
	}
	return candidates
}

// StartBatch implements spec.md §4.4's startBatch: each ready task
// transitions to running (attempt += 1), receives a fresh claim and
// heartbeat, and has its prior error/output cleared.
func StartBatch(run *Run, batch []*Task, workerID string, now time.Time, policy ClaimPolicy) {
	for _, t := range batch {
		t.Status = TaskRunning
		t.Attempt++
		t.Error = ""
		t.Output = nil
		t.RequiresApproval = false
		started := now
		t.StartedAt = &started
		t.FinishedAt = nil
		IssueClaim(t, workerID, now, policy)
	}
}

// TaskPatch is the set of fields an executor result (or mailbox reassign,
// or claim reclaim) may update on a task.
type TaskPatch struct {
	Status           *TaskStatus
	Error            *string
	Output           map[string]any
	FinishedAt       *time.Time
	RequiresApproval *bool
	Attempt          *int
	ClearClaim       bool
}

// ApplyTaskPatch implements spec.md §4.4's applyTaskPatch: merges the
// patch, preserves timestamps unless overridden, re-evaluates blocked
// tasks' readiness, and sets currentTaskId.
func ApplyTaskPatch(run *Run, taskID string, patch TaskPatch) {
	t := run.TaskByID(taskID)
	if t == nil {
		return
	}

	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Error != nil {
		t.Error = *patch.Error
	}
	if patch.Output != nil {
		t.Output = patch.Output
	}
	if patch.FinishedAt != nil {
		t.FinishedAt = patch.FinishedAt
	}
	if patch.RequiresApproval != nil {
		t.RequiresApproval = *patch.RequiresApproval
	}
	if patch.Attempt != nil {
		t.Attempt = *patch.Attempt
	}
	if patch.ClearClaim {
		t.WorkerID = ""
		t.ClaimToken = ""
		t.ClaimExpiresAt = nil
		t.LastHeartbeatAt = nil
	}

	reevaluateBlocked(run)
	run.CurrentTaskID = taskID
}

// reevaluateBlocked moves every blocked task to queued once its
// dependencies are satisfied, keeping blocked/queued in sync with the
// dependency graph as spec.md §3's invariants require.
func reevaluateBlocked(run *Run) {
	for _, t := range run.Tasks {
		if t.Status != TaskBlocked {
			continue
		}
		if IsReady(t, run.Tasks) {
			t.Status = TaskQueued
		}
	}
}

// CollectFailureCascade implements spec.md §4.4's collectFailureCascade: a
// fixed-point closure over tasks whose dependency chain contains a failed
// task (the failed tasks themselves are included).
func CollectFailureCascade(run *Run) map[string]bool {
	cascade := make(map[string]bool)
	byID := indexByID(run.Tasks)

	for _, t := range run.Tasks {
		if t.Status == TaskFailed {
			cascade[t.ID] = true
		}
	}

	changed := true
	for changed {
		changed = false
		for _, t := range run.Tasks {
			if cascade[t.ID] {
				continue
			}
			for _, depID := range t.Dependencies {
				if cascade[depID] {
					cascade[t.ID] = true
					changed = true
					break
				}
			}
			_ = byID
		}
	}
	return cascade
}

// BuildFailureRecovery implements spec.md §4.4's buildFailureRecovery. It
// returns false if no failed task exists; otherwise it resets every task
// in the cascade to blocked/queued, increments fixAttempts, and sets the
// run status back to running.
func BuildFailureRecovery(run *Run) bool {
	cascade := CollectFailureCascade(run)
	if len(cascade) == 0 {
		return false
	}

	for _, t := range run.Tasks {
		if !cascade[t.ID] {
			continue
		}
		t.StartedAt = nil
		t.FinishedAt = nil
		t.Output = nil
		t.Error = ""
		t.Attempt = 0
		t.RequiresApproval = false
		t.WorkerID = ""
		t.ClaimToken = ""
		t.ClaimExpiresAt = nil
		t.LastHeartbeatAt = nil
		if len(t.Dependencies) > 0 {
			t.Status = TaskBlocked
		} else {
			t.Status = TaskQueued
		}
	}

	reevaluateBlocked(run)
	run.FixAttempts++
	run.Status = RunRunning
	return true
}

// AllTasksFinished implements spec.md §4.4's allTasksFinished.
func AllTasksFinished(run *Run) bool {
	for _, t := range run.Tasks {
		switch t.Status {
		case TaskSucceeded, TaskFailed, TaskCanceled:
		default:
			return false
		}
	}
	return true
}

// Phase implements spec.md §4.4's phase derivation.
func Phase(tasks []*Task) string {
	if t := firstWithStatus(tasks, TaskRunning); t != nil {
		return string(t.Role)
	}
	if t := firstWithStatus(tasks, TaskQueued); t != nil {
		return string(t.Role)
	}
	if t := firstWithStatus(tasks, TaskFailed); t != nil {
		return "retry_" + string(t.Role)
	}
	if t := firstWithStatus(tasks, TaskBlocked); t != nil {
		return string(t.Role)
	}
	allSucceeded := true
	for _, t := range tasks {
		if t.Status != TaskSucceeded {
			allSucceeded = false
			break
		}
	}
	if allSucceeded {
		return "completed"
	}
	return "blocked"
}

func firstWithStatus(tasks []*Task, status TaskStatus) *Task {
	for _, t := range tasks {
		if t.Status == status {
			return t
		}
	}
	return nil
}

// RecomputeMetrics implements spec.md §3's derived metrics, recomputed on
// each persist — grounded on the teacher's GetStatus/PlanStatus
// (pkg/orchestration/orchestrator.go), extended with active-worker count
// and average/max task duration as spec.md requires.
func RecomputeMetrics(run *Run, now time.Time) {
	counts := make(map[TaskStatus]int)
	activeWorkers := make(map[string]bool)
	var totalDuration time.Duration
	var maxDuration time.Duration
	var finishedCount int

	for _, t := range run.Tasks {
		counts[t.Status]++
		if t.Status == TaskRunning && t.WorkerID != "" {
			activeWorkers[t.WorkerID] = true
		}
		if t.StartedAt != nil {
			end := now
			if t.FinishedAt != nil {
				end = *t.FinishedAt
			}
			d := end.Sub(*t.StartedAt)
			if t.FinishedAt != nil {
				totalDuration += d
				finishedCount++
			}
			if d > maxDuration {
				maxDuration = d
			}
		}
	}

	var avg time.Duration
	if finishedCount > 0 {
		avg = totalDuration / time.Duration(finishedCount)
	}

	run.Metrics = Metrics{
		StatusCounts:    counts,
		ActiveWorkers:   len(activeWorkers),
		TotalTokens:     run.Metrics.TotalTokens,
		AverageDuration: avg,
		MaxDuration:     maxDuration,
	}
}
