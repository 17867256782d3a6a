// Package execshim abstracts external command execution so the role
// executor (pkg/roleexec) can invoke Agent CLI subprocesses and shell
// utilities behind a mockable interface.
//
// Grounded on the teacher's pkg/exec (CommandExecutor/RealCommandExecutor/
// MockCommandExecutor), extended with ExecuteCapture: the teacher's
// Execute only needed a boolean pass/fail for git-workspace prep commands,
// but spec.md §4.5's role executor needs combined stdout+stderr, the exit
// code, and a context deadline to parse structured JSON output and
// enforce the per-task timeout.
package execshim

import "context"

// CommandExecutor defines an interface for running external commands.
// This abstraction allows for easier testing by providing a mockable interface.
type CommandExecutor interface {
	// LookPath searches for an executable named file in the directories
	// named by the PATH environment variable.
	LookPath(file string) (string, error)

	// Execute runs the command with the given name and arguments.
	// It waits for the command to complete and returns any error.
	Execute(name string, arg ...string) error

	// ExecuteCapture runs name/arg with working directory dir, bounded by
	// ctx, returning combined stdout+stderr and the process exit code.
	// A non-zero exit code is reported via exitCode, not err; a process
	// killed because ctx expired also comes back as exitCode -1 with a nil
	// err. err is set only when the process could not be started.
	ExecuteCapture(ctx context.Context, dir, name string, arg ...string) (combined string, exitCode int, err error)
}