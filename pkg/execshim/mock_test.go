package execshim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCommandExecutor_Execute_RecordsCommand(t *testing.T) {
	m := &MockCommandExecutor{}
	err := m.Execute("git", "status", "--short")

	require.NoError(t, err)
	assert.Equal(t, []string{"git status --short"}, m.Commands)
}

func TestMockCommandExecutor_Execute_UsesOverride(t *testing.T) {
	called := false
	m := &MockCommandExecutor{
		ExecuteFunc: func(name string, arg ...string) error {
			called = true
			return assert.AnError
		},
	}

	err := m.Execute("git", "push")
	assert.Error(t, err)
	assert.True(t, called)
}

func TestMockCommandExecutor_ExecuteCapture_DefaultsToEmptySuccess(t *testing.T) {
	m := &MockCommandExecutor{}
	combined, code, err := m.ExecuteCapture(context.Background(), "/tmp", "codex", "exec")

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Empty(t, combined)
	assert.Equal(t, []string{"codex exec"}, m.Commands)
}

func TestMockCommandExecutor_ExecuteCapture_UsesOverride(t *testing.T) {
	m := &MockCommandExecutor{
		ExecuteCaptureFunc: func(ctx context.Context, dir, name string, arg ...string) (string, int, error) {
			return `{"status":"pass"}`, 1, nil
		},
	}

	combined, code, err := m.ExecuteCapture(context.Background(), "/tmp", "claude", "exec")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, `{"status":"pass"}`, combined)
}

func TestMockCommandExecutor_LookPath_DefaultsToFound(t *testing.T) {
	m := &MockCommandExecutor{}
	path, err := m.LookPath("codex")
	require.NoError(t, err)
	assert.Equal(t, "/path/to/codex", path)
}
