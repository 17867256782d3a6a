package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"OMX_STATE_ROOT", "WORK_ROOT", "WORK_QUEUE_STALE_CLAIM_MS",
		"TEAM_TASK_CLAIM_TTL_MS", "TEAM_TASK_CLAIM_LEASE_SLACK_MS",
		"TEAM_TASK_HEARTBEAT_MS", "TEAM_TASK_NON_REPORTING_GRACE_MS",
		"TEAM_IDLE_BACKOFF_BASE_MS", "TEAM_IDLE_BACKOFF_MAX_MS",
		"JOB_LLM_RATE_LIMIT_RETRY_MAX_ATTEMPTS", "JOB_LLM_RETRY_MAX_ATTEMPTS",
		"JOB_CLI_BIN", "JOB_SKIP_GIT_CLONE", "TMUX_KEEP_SESSION_ON_FINISH",
		"TEAM_TMUX_VISUALIZATION", "WORKER_CONCURRENCY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c := Load()

	assert.Equal(t, ".omx/state/jobs", c.StateRoot)
	assert.Equal(t, 60*time.Second, c.ClaimTTL)
	assert.Equal(t, 15*time.Second, c.ClaimLeaseSlack)
	assert.Equal(t, 10*time.Second, c.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, c.NonReportingGrace)
	assert.Equal(t, 800*time.Millisecond, c.IdleBackoffBase)
	assert.Equal(t, 8*time.Second, c.IdleBackoffMax)
	assert.Equal(t, 5, c.RateLimitRetry.MaxAttempts)
	assert.Equal(t, 3, c.GeneralRetry.MaxAttempts)
	assert.Equal(t, 1, c.WorkerConcurrency)
	assert.Equal(t, "codex", c.ProviderCLIBin["codex"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TEAM_TASK_CLAIM_TTL_MS", "5000")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("JOB_CODEX_CLI_BIN", "/opt/codex")
	t.Setenv("JOB_SKIP_GIT_CLONE", "true")

	c := Load()

	assert.Equal(t, 5*time.Second, c.ClaimTTL)
	assert.Equal(t, 4, c.WorkerConcurrency)
	assert.Equal(t, "/opt/codex", c.ProviderCLIBin["codex"])
	assert.True(t, c.SkipGitClone)
}

func TestLoad_EnforcesMinimumEffectiveLease(t *testing.T) {
	t.Setenv("TEAM_TASK_CLAIM_TTL_MS", "1000")
	t.Setenv("TEAM_TASK_CLAIM_LEASE_SLACK_MS", "1000")

	c := Load()

	assert.GreaterOrEqual(t, c.ClaimTTL+c.ClaimLeaseSlack, 15*time.Second)
}

func TestRoleCommandOverride_Precedence(t *testing.T) {
	t.Setenv("JOB_CODEX_PLANNER_CMD", "codex-specific")
	t.Setenv("JOB_PLANNER_CMD", "role-generic")

	assert.Equal(t, "codex-specific", RoleCommandOverride("codex", "planner"))

	os.Unsetenv("JOB_CODEX_PLANNER_CMD")
	assert.Equal(t, "role-generic", RoleCommandOverride("codex", "planner"))

	os.Unsetenv("JOB_PLANNER_CMD")
	assert.Equal(t, "", RoleCommandOverride("codex", "planner"))
}

func TestLoadRoleCommandFile_MissingFileReturnsEmpty(t *testing.T) {
	out, err := LoadRoleCommandFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadRoleCommandFile_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yml")
	require.NoError(t, os.WriteFile(path, []byte("role_commands:\n  planner: \"custom plan\"\n  codex/developer: \"codex dev\"\n"), 0o644))

	out, err := LoadRoleCommandFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom plan", out["planner"])
	assert.Equal(t, "codex dev", out["codex/developer"])
}
