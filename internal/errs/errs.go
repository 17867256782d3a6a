// Package errs defines the error taxonomy from spec.md §7 as sentinel
// values, so callers can classify failures with errors.Is instead of
// string-matching (the way the teacher distinguishes "nothing to commit"
// from a real git failure in agent_executor.go).
package errs

import "errors"

var (
	// NotFound: job/task id absent.
	NotFound = errors.New("not found")
	// InvalidState: action not legal in the entity's current status.
	InvalidState = errors.New("invalid state")
	// LockTimeout: could not acquire the job lock within the deadline.
	LockTimeout = errors.New("failed to acquire job lock")
	// RoleSchemaError: agent output failed planner/verifier validation.
	RoleSchemaError = errors.New("role schema validation failed")
	// AgentExecFailedGeneral: non-zero exit, not rate-limited.
	AgentExecFailedGeneral = errors.New("agent execution failed")
	// AgentExecFailedRateLimit: non-zero exit, rate-limit markers detected.
	AgentExecFailedRateLimit = errors.New("agent execution rate limited")
	// ApprovalRequested: not an error; the run is pausing for approval.
	ApprovalRequested = errors.New("approval requested")
	// DeadlockExhausted: no runnable tasks and no recovery path remains.
	DeadlockExhausted = errors.New("team run blocked with no runnable tasks")
	// TimeoutIdle: the engine loop exceeded its idle-iteration cap.
	TimeoutIdle = errors.New("team run loop timed out while waiting for task progress")
	// ParseError: malformed event log or record content.
	ParseError = errors.New("parse error")
)

// Wrap attaches context to a sentinel while preserving errors.Is matching.
func Wrap(sentinel error, context string) error {
	return &wrapped{sentinel: sentinel, context: context}
}

type wrapped struct {
	sentinel error
	context  string
}

func (w *wrapped) Error() string { return w.context + ": " + w.sentinel.Error() }
func (w *wrapped) Unwrap() error { return w.sentinel }
