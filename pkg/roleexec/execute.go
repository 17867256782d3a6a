package roleexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grovepm/grove-team/internal/clog"
	"github.com/grovepm/grove-team/internal/config"
	"github.com/grovepm/grove-team/internal/errs"
	"github.com/grovepm/grove-team/pkg/execshim"
	"github.com/grovepm/grove-team/pkg/team"
)

var log = clog.For("roleexec")

// Output is the normalized output record from spec.md §4.5 step 5.
type Output struct {
	Status   string         `json:"status"`
	ExitCode int            `json:"exitCode"`
	Stdout   string         `json:"stdout"`
	Stderr   string         `json:"stderr"`
	Parsed   map[string]any `json:"parsed"`
	Task     string         `json:"task"`
	Role     string         `json:"role"`
	Attempt  int            `json:"attempt"`
}

// Result is what the engine applies back onto the task and run mailbox.
type Result struct {
	Patch             team.TaskPatch
	Mailbox           []*team.Message
	ApprovalRequested bool
}

// EventSink receives role-executor events (team.task.started, etc.).
type EventSink func(typ, message string, payload map[string]any)

// Input bundles everything Execute needs for one task attempt.
type Input struct {
	JobID    string
	Provider string
	Mode     string
	Repo     string
	Ref      string
	JobTask  string
	Phase    string
	Workdir  string
	LogDir   string // directory for per-attempt Agent CLI transcripts; empty disables logging

	Task  *team.Task
	Tasks []*team.Task

	JobOverride CommandOverride
	EnvOverride EnvOverride
}

// Execute runs spec.md §4.5's full algorithm for one task: resolve and
// render the command, invoke the Agent CLI (retrying in-process on
// retryable failures without a state write), parse and validate output,
// and build the patch/mailbox/approval result the engine applies.
func Execute(ctx context.Context, executor execshim.CommandExecutor, cfg config.Config, in Input, emit EventSink) Result {
	t := in.Task
	emit("team.task.started", fmt.Sprintf("starting %s task %s (attempt %d)", t.Role, t.ID, t.Attempt), map[string]any{"taskId": t.ID, "attempt": t.Attempt})

	template := ResolveTemplate(in.Provider, t.Role, in.JobOverride, in.EnvOverride)
	rendered := Render(template, TokenValues{
		JobID:             in.JobID,
		Provider:          in.Provider,
		Mode:              in.Mode,
		Repo:              in.Repo,
		Ref:               in.Ref,
		Role:              string(t.Role),
		Task:              TaskText(t.Name, in.JobTask),
		TaskID:            t.ID,
		Phase:             in.Phase,
		Attempt:           t.Attempt,
		Workdir:           in.Workdir,
		DependencyOutputs: DependencyOutputs(t, in.Tasks),
	})
	inv := Classify(rendered, in.Provider, in.Workdir, cfg.ProviderCLIBin)
	timeout := Timeout(t.TimeoutSecs)

	attempt := t.Attempt
	for {
		combined, exitCode, runErr := Run(ctx, executor, inv, in.Workdir, timeout)
		if runErr != nil {
			log.WithField("task", t.ID).WithError(runErr).Warn("agent CLI invocation failed to start")
			combined = runErr.Error()
			exitCode = -1
		}

		writeTranscript(in.LogDir, t.ID, attempt, combined)

		parsed := ExtractJSON(combined)
		out := Output{
			ExitCode: exitCode,
			Stdout:   combined,
			Stderr:   "",
			Parsed:   parsed,
			Task:     t.ID,
			Role:     string(t.Role),
			Attempt:  attempt,
		}
		if exitCode == 0 {
			out.Status = "ok"
		} else {
			out.Status = "error"
		}

		var schemaErr error
		switch t.Role {
		case team.RolePlanner:
			if _, err := ValidatePlanner(parsed); err != nil {
				schemaErr = err
			}
		case team.RoleVerifier:
			if err := ValidateVerifier(parsed); err != nil {
				schemaErr = err
			}
		}

		if schemaErr != nil {
			emit("team.task.validation_failed", schemaErr.Error(), map[string]any{"taskId": t.ID, "attempt": attempt})
		}

		if exitCode == 0 && schemaErr == nil && DetectApproval(parsed) {
			now := time.Now()
			errMsg := "Task output requested approval before continuing."
			return Result{
				Mailbox:           ExtractMailbox(parsed, t.ID, t.Role),
				ApprovalRequested: true,
				Patch: team.TaskPatch{
					Status:           statusPtr(team.TaskQueued),
					RequiresApproval: boolPtr(true),
					Error:            &errMsg,
					Output:           parsed,
					FinishedAt:       &now,
					ClearClaim:       true,
				},
			}
		}

		if exitCode == 0 && schemaErr == nil {
			now := time.Now()
			emit("team.task.completed", fmt.Sprintf("%s task %s succeeded", t.Role, t.ID), map[string]any{"taskId": t.ID, "attempt": attempt, "status": "succeeded"})
			return Result{
				Mailbox: ExtractMailbox(parsed, t.ID, t.Role),
				Patch: team.TaskPatch{
					Status:     statusPtr(team.TaskSucceeded),
					Output:     parsed,
					FinishedAt: &now,
					ClearClaim: true,
				},
			}
		}

		kind := ClassifyFailure(combined, parsed)
		retryAfter, haveRetryAfter := ParseRetryAfter(combined)
		retryPolicy := cfg.GeneralRetry
		if kind == FailureRateLimit {
			retryPolicy = cfg.RateLimitRetry
		}

		effectiveMax := t.MaxAttempts
		if retryPolicy.MaxAttempts > effectiveMax {
			effectiveMax = retryPolicy.MaxAttempts
		}

		if attempt < effectiveMax {
			var delay time.Duration
			if kind == FailureRateLimit {
				delay = RateLimitDelay(retryAfter, haveRetryAfter, attempt, retryPolicy.BaseDelay, retryPolicy.MaxDelay)
			} else {
				delay = Backoff(attempt, retryPolicy.BaseDelay, retryPolicy.MaxDelay)
			}
			emit("team.task.retry", fmt.Sprintf("%s task %s retrying after %s (%s)", t.Role, t.ID, delay, kind), map[string]any{"taskId": t.ID, "attempt": attempt, "kind": string(kind)})

			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			attempt++
			continue
		}

		now := time.Now()
		errMsg := failureMessage(schemaErr, combined)
		emit("team.task.completed", fmt.Sprintf("%s task %s failed", t.Role, t.ID), map[string]any{"taskId": t.ID, "attempt": attempt, "status": "failed", "kind": string(kind)})
		return Result{
			Mailbox: ExtractMailbox(parsed, t.ID, t.Role),
			Patch: team.TaskPatch{
				Status:     statusPtr(team.TaskFailed),
				Error:      &errMsg,
				Output:     parsed,
				FinishedAt: &now,
				ClearClaim: true,
			},
		}
	}
}

func failureMessage(schemaErr error, combined string) string {
	if schemaErr != nil {
		return schemaErr.Error()
	}
	msg := combined
	if len(msg) > 4000 {
		msg = msg[:4000]
	}
	if msg == "" {
		msg = errs.AgentExecFailedGeneral.Error()
	}
	return msg
}

// writeTranscript tees one attempt's combined Agent CLI output to
// <LogDir>/<task-id>-<attempt>.log, mirroring the teacher's per-job
// log file convention so a human can inspect raw transcripts without
// parsing events.jsonl. Logging is best-effort: a write failure is
// warned, never fatal to the task.
func writeTranscript(dir, taskID string, attempt int, combined string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithField("task", taskID).WithError(err).Warn("failed to create task log directory")
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.log", taskID, attempt))
	if err := os.WriteFile(path, []byte(combined), 0o644); err != nil {
		log.WithField("task", taskID).WithError(err).Warn("failed to write task log file")
	}
}

func statusPtr(s team.TaskStatus) *team.TaskStatus { return &s }
func boolPtr(b bool) *bool                         { return &b }
