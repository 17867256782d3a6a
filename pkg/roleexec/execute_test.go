package roleexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovepm/grove-team/internal/config"
	"github.com/grovepm/grove-team/pkg/execshim"
	"github.com/grovepm/grove-team/pkg/team"
)

func testConfig() config.Config {
	return config.Config{
		ProviderCLIBin: map[string]string{"codex": "codex"},
		GeneralRetry:   config.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		RateLimitRetry: config.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func baseInput(task *team.Task) Input {
	return Input{
		JobID:    "job-1",
		Provider: "codex",
		Mode:     "team",
		JobTask:  "ship the feature",
		Workdir:  "/work",
		Task:     task,
		Tasks:    []*team.Task{task},
	}
}

func TestExecute_SucceedsOnCleanExit(t *testing.T) {
	task := &team.Task{ID: "t1", Role: team.RoleDeveloper, Attempt: 1, MaxAttempts: 1, TimeoutSecs: 30}
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return `{"status":"ok","summary":"implemented"}`, 0, nil
		},
	}

	var events []string
	res := Execute(context.Background(), mock, testConfig(), baseInput(task), func(typ, msg string, payload map[string]any) {
		events = append(events, typ)
	})

	require.NotNil(t, res.Patch.Status)
	assert.Equal(t, team.TaskSucceeded, *res.Patch.Status)
	assert.Equal(t, "implemented", res.Patch.Output["summary"])
	assert.Contains(t, events, "team.task.completed")
}

func TestExecute_ApprovalRequestedPausesWithoutFailing(t *testing.T) {
	task := &team.Task{ID: "t1", Role: team.RoleDeveloper, Attempt: 1, MaxAttempts: 1, TimeoutSecs: 30}
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return `{"status":"ok","requiresApproval":true}`, 0, nil
		},
	}

	res := Execute(context.Background(), mock, testConfig(), baseInput(task), func(string, string, map[string]any) {})

	require.True(t, res.ApprovalRequested)
	require.NotNil(t, res.Patch.Status)
	assert.Equal(t, team.TaskQueued, *res.Patch.Status)
	require.NotNil(t, res.Patch.RequiresApproval)
	assert.True(t, *res.Patch.RequiresApproval)
}

func TestExecute_VerifierFailStatusFailsAfterExhaustingRetries(t *testing.T) {
	task := &team.Task{ID: "t1", Role: team.RoleVerifier, Attempt: 1, MaxAttempts: 1, TimeoutSecs: 30}
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return `{"status":"fail"}`, 0, nil
		},
	}

	res := Execute(context.Background(), mock, testConfig(), baseInput(task), func(string, string, map[string]any) {})

	require.NotNil(t, res.Patch.Status)
	assert.Equal(t, team.TaskFailed, *res.Patch.Status)
	require.NotNil(t, res.Patch.Error)
	assert.Contains(t, *res.Patch.Error, "status=fail")
}

func TestExecute_RetriesInProcessThenSucceeds(t *testing.T) {
	task := &team.Task{ID: "t1", Role: team.RoleDeveloper, Attempt: 1, MaxAttempts: 1, TimeoutSecs: 30}
	calls := 0
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			calls++
			if calls == 1 {
				return "internal error, exit 1", 1, nil
			}
			return `{"status":"ok"}`, 0, nil
		},
	}

	var retried bool
	res := Execute(context.Background(), mock, testConfig(), baseInput(task), func(typ, msg string, payload map[string]any) {
		if typ == "team.task.retry" {
			retried = true
		}
	})

	assert.Equal(t, 2, calls)
	assert.True(t, retried)
	require.NotNil(t, res.Patch.Status)
	assert.Equal(t, team.TaskSucceeded, *res.Patch.Status)
}

func TestExecute_ExhaustsRetriesOnPersistentFailure(t *testing.T) {
	task := &team.Task{ID: "t1", Role: team.RoleDeveloper, Attempt: 1, MaxAttempts: 1, TimeoutSecs: 30}
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return "persistent failure, exit 1", 1, nil
		},
	}

	res := Execute(context.Background(), mock, testConfig(), baseInput(task), func(string, string, map[string]any) {})

	require.NotNil(t, res.Patch.Status)
	assert.Equal(t, team.TaskFailed, *res.Patch.Status)
	assert.Contains(t, *res.Patch.Error, "persistent failure")
}

func TestExecute_WritesPerAttemptTranscriptWhenLogDirSet(t *testing.T) {
	task := &team.Task{ID: "t1", Role: team.RoleDeveloper, Attempt: 1, MaxAttempts: 1, TimeoutSecs: 30}
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return `{"status":"ok"}`, 0, nil
		},
	}

	in := baseInput(task)
	in.LogDir = t.TempDir()

	res := Execute(context.Background(), mock, testConfig(), in, func(string, string, map[string]any) {})
	require.NotNil(t, res.Patch.Status)

	data, err := os.ReadFile(filepath.Join(in.LogDir, "t1-1.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"ok"`)
}

func TestExecute_RateLimitedFailureUsesRateLimitRetryPolicy(t *testing.T) {
	task := &team.Task{ID: "t1", Role: team.RoleDeveloper, Attempt: 1, MaxAttempts: 1, TimeoutSecs: 30}
	calls := 0
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			calls++
			if calls == 1 {
				return "HTTP 429 too many requests, retry after 0ms", 1, nil
			}
			return `{"status":"ok"}`, 0, nil
		},
	}

	var sawKind string
	res := Execute(context.Background(), mock, testConfig(), baseInput(task), func(typ, msg string, payload map[string]any) {
		if typ == "team.task.retry" {
			sawKind, _ = payload["kind"].(string)
		}
	})

	assert.Equal(t, "rate_limit", sawKind)
	require.NotNil(t, res.Patch.Status)
	assert.Equal(t, team.TaskSucceeded, *res.Patch.Status)
}
