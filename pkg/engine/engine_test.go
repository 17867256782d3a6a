package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovepm/grove-team/internal/config"
	"github.com/grovepm/grove-team/pkg/execshim"
	"github.com/grovepm/grove-team/pkg/team"
)

func testDeps(executor execshim.CommandExecutor, persisted *[]*team.Run) Deps {
	cfg := config.Config{
		ClaimTTL:          time.Minute,
		ClaimLeaseSlack:   time.Second,
		HeartbeatInterval: time.Second,
		NonReportingGrace: 5 * time.Second,
		IdleBackoffBase:   time.Millisecond,
		IdleBackoffMax:    2 * time.Millisecond,
		GeneralRetry:      config.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		RateLimitRetry:    config.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	return Deps{
		Executor: executor,
		Config:   cfg,
		WorkerID: "worker-1",
		WorkDir:  func(jobID string) string { return "/work/" + jobID },
		LoadJob:  func() (JobView, error) { return JobView{ID: "job-1", Provider: "codex", Status: "running"}, nil },
		EmitEvent: func(typ, message string, payload map[string]any) {},
		Persist: func(run *team.Run) error {
			if persisted != nil {
				*persisted = append(*persisted, run)
			}
			return nil
		},
	}
}

func successExecutor() *execshim.MockCommandExecutor {
	return &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return `{"status":"ok"}`, 0, nil
		},
	}
}

func TestRun_AllTasksSucceedReturnsSucceeded(t *testing.T) {
	run := &team.Run{
		Status:        team.RunRunning,
		ParallelTasks: 2,
		Tasks: []*team.Task{
			{ID: "t1", Role: team.RoleDeveloper, Status: team.TaskQueued, MaxAttempts: 1, TimeoutSecs: 30},
		},
	}

	outcome, err := Run(context.Background(), run, testDeps(successExecutor(), nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, team.RunSucceeded, run.Status)
}

func TestRun_DependentTaskRunsAfterUpstreamSucceeds(t *testing.T) {
	run := &team.Run{
		Status:        team.RunRunning,
		ParallelTasks: 2,
		Tasks: []*team.Task{
			{ID: "t1", Role: team.RoleResearcher, Status: team.TaskQueued, MaxAttempts: 1, TimeoutSecs: 30},
			{ID: "t2", Role: team.RoleDeveloper, Status: team.TaskBlocked, Dependencies: []string{"t1"}, MaxAttempts: 1, TimeoutSecs: 30},
		},
	}

	outcome, err := Run(context.Background(), run, testDeps(successExecutor(), nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, team.TaskSucceeded, run.TaskByID("t1").Status)
	assert.Equal(t, team.TaskSucceeded, run.TaskByID("t2").Status)
}

func TestRun_ApprovalRequestedPausesRunWithoutFinishingOtherTasks(t *testing.T) {
	executor := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return `{"status":"ok","requiresApproval":true}`, 0, nil
		},
	}
	run := &team.Run{
		Status:        team.RunRunning,
		ParallelTasks: 1,
		Tasks: []*team.Task{
			{ID: "t1", Role: team.RoleDeveloper, Status: team.TaskQueued, MaxAttempts: 1, TimeoutSecs: 30},
		},
	}

	outcome, err := Run(context.Background(), run, testDeps(executor, nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaitingApproval, outcome)
	assert.Equal(t, team.RunWaitingApproval, run.Status)
	assert.Equal(t, "t1", run.ApprovalTaskID)
}

func TestRun_ExternalCancellationShortCircuits(t *testing.T) {
	run := &team.Run{
		Status:        team.RunRunning,
		ParallelTasks: 1,
		Tasks: []*team.Task{
			{ID: "t1", Role: team.RoleDeveloper, Status: team.TaskQueued, MaxAttempts: 1, TimeoutSecs: 30},
		},
	}
	deps := testDeps(successExecutor(), nil)
	deps.LoadJob = func() (JobView, error) { return JobView{ID: "job-1", Status: "canceled"}, nil }

	outcome, err := Run(context.Background(), run, deps)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, outcome)
}

func TestRun_WaitingApprovalJobStatusPausesImmediately(t *testing.T) {
	run := &team.Run{Status: team.RunRunning, ParallelTasks: 1}
	deps := testDeps(successExecutor(), nil)
	deps.LoadJob = func() (JobView, error) { return JobView{ID: "job-1", Status: "waiting_approval"}, nil }

	outcome, err := Run(context.Background(), run, deps)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaitingApproval, outcome)
	assert.Equal(t, team.RunWaitingApproval, run.Status)
}

func TestRun_FailureCascadeRecoversThenSucceeds(t *testing.T) {
	calls := 0
	executor := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			calls++
			if calls == 1 {
				return "boom, exit 1", 1, nil
			}
			return `{"status":"ok"}`, 0, nil
		},
	}
	run := &team.Run{
		Status:         team.RunRunning,
		ParallelTasks:  1,
		MaxFixAttempts: 2,
		Tasks: []*team.Task{
			{ID: "t1", Role: team.RoleDeveloper, Status: team.TaskQueued, MaxAttempts: 1, TimeoutSecs: 30},
		},
	}

	outcome, err := Run(context.Background(), run, testDeps(executor, nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, team.TaskSucceeded, run.TaskByID("t1").Status)
}

func TestRun_MaxFixAttemptsZeroFailsWithoutWipingTaskState(t *testing.T) {
	executor := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return "boom, exit 1", 1, nil
		},
	}
	run := &team.Run{
		Status:         team.RunRunning,
		ParallelTasks:  1,
		MaxFixAttempts: 0,
		Tasks: []*team.Task{
			{ID: "t1", Role: team.RoleDeveloper, Status: team.TaskQueued, MaxAttempts: 1, TimeoutSecs: 30},
		},
	}

	outcome, err := Run(context.Background(), run, testDeps(executor, nil))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, team.RunFailed, run.Status)

	t1 := run.TaskByID("t1")
	assert.Equal(t, team.TaskFailed, t1.Status, "failed task state must not be reset when fix attempts are exhausted")
	assert.NotEmpty(t, t1.Error, "failure reason must survive to the terminal state")
}

func TestRun_NonReportingClaimIsReclaimedAndRetried(t *testing.T) {
	stale := time.Now().Add(-time.Hour)
	expired := stale.Add(time.Minute)
	run := &team.Run{
		Status:        team.RunRunning,
		ParallelTasks: 1,
		Tasks: []*team.Task{
			{
				ID: "t1", Role: team.RoleDeveloper, Status: team.TaskRunning, MaxAttempts: 1, TimeoutSecs: 30,
				WorkerID: "ghost-worker", ClaimToken: "tok", ClaimExpiresAt: &expired, LastHeartbeatAt: &stale,
			},
		},
	}

	outcome, err := Run(context.Background(), run, testDeps(successExecutor(), nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
}

func TestRun_LoadJobErrorReturnsFailed(t *testing.T) {
	run := &team.Run{Status: team.RunRunning}
	deps := testDeps(successExecutor(), nil)
	deps.LoadJob = func() (JobView, error) { return JobView{}, assert.AnError }

	outcome, err := Run(context.Background(), run, deps)
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	d := nextBackoff(time.Second, 2*time.Second)
	assert.LessOrEqual(t, d, time.Duration(float64(2*time.Second)))
}

func TestNextBackoff_ZeroCurrentFallsBackToMax(t *testing.T) {
	d := nextBackoff(0, 5*time.Second)
	assert.Equal(t, 5*time.Second, d)
}
