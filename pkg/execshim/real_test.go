package execshim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealCommandExecutor_Execute_Success(t *testing.T) {
	e := &RealCommandExecutor{}
	err := e.Execute("true")
	assert.NoError(t, err)
}

func TestRealCommandExecutor_Execute_Failure(t *testing.T) {
	e := &RealCommandExecutor{}
	err := e.Execute("false")
	require.Error(t, err)
	var execErr *ExecError
	assert.ErrorAs(t, err, &execErr)
}

func TestRealCommandExecutor_ExecuteCapture_NonZeroExitIsNotGoError(t *testing.T) {
	e := &RealCommandExecutor{}
	combined, code, err := e.ExecuteCapture(context.Background(), "", "sh", "-c", "echo hello; exit 3")

	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, combined, "hello")
}

func TestRealCommandExecutor_ExecuteCapture_RespectsWorkdir(t *testing.T) {
	dir := t.TempDir()
	e := &RealCommandExecutor{}
	combined, code, err := e.ExecuteCapture(context.Background(), dir, "pwd")

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, combined, dir)
}

func TestRealCommandExecutor_ExecuteCapture_StartFailureReturnsErr(t *testing.T) {
	e := &RealCommandExecutor{}
	_, code, err := e.ExecuteCapture(context.Background(), "", "definitely-not-a-real-binary-xyz")

	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestRealCommandExecutor_LookPath(t *testing.T) {
	e := &RealCommandExecutor{}
	path, err := e.LookPath("sh")
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}
