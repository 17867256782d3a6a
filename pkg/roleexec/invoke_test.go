package roleexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovepm/grove-team/pkg/execshim"
)

func TestClassify_ShellUtilityRunsViaShell(t *testing.T) {
	inv := Classify("git status --short", "codex", "/work", nil)
	assert.Equal(t, "sh", inv.Name)
	assert.Equal(t, []string{"-lc", "git status --short"}, inv.Args)
}

func TestClassify_ProviderBinaryFirstTokenRunsViaShell(t *testing.T) {
	inv := Classify("codex do the thing", "codex", "/work", nil)
	assert.Equal(t, "sh", inv.Name)
	assert.Equal(t, []string{"-lc", "codex do the thing"}, inv.Args)
}

func TestClassify_ProviderBinaryOverrideIsRespected(t *testing.T) {
	inv := Classify("do the thing", "claude", "/work", map[string]string{"claude": "my-claude"})
	assert.Equal(t, "my-claude", inv.Name)
}

func TestClassify_NonShellNonBinaryFirstTokenStillWrapsInAgentExec(t *testing.T) {
	inv := Classify("Decompose the task into sub-tasks", "codex", "/work", nil)
	assert.Equal(t, "codex", inv.Name)
	assert.Equal(t, "exec", inv.Args[0])
}

func TestTimeout_EnforcesMinimum(t *testing.T) {
	assert.Equal(t, 30*time.Second, Timeout(5))
	assert.Equal(t, 30*time.Second, Timeout(0))
	assert.Equal(t, 90*time.Second, Timeout(90))
}

func TestRun_UsesExecutorWithWorkdirAndTimeout(t *testing.T) {
	mock := &execshim.MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			assert.Equal(t, "/work", dir)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return `{"status":"ok"}`, 0, nil
		},
	}

	combined, code, err := Run(context.Background(), mock, Invocation{Name: "codex", Args: []string{"exec"}}, "/work", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, `{"status":"ok"}`, combined)
}
