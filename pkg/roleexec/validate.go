package roleexec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grovepm/grove-team/internal/errs"
	"github.com/grovepm/grove-team/pkg/team"
)

// PlanTask is one sub-task entry extracted from a planner's output.
type PlanTask struct {
	ID           string
	Role         team.Role
	Name         string
	Dependencies []string
}

// PlanResult is the validated output of a planner role execution.
type PlanResult struct {
	Summary string
	Tasks   []PlanTask
}

// ValidatePlanner implements spec.md §4.5 step 6's planner schema check.
func ValidatePlanner(parsed map[string]any) (*PlanResult, error) {
	summary := stringField(parsed, "plan_summary", "planSummary")
	if summary == "" {
		return nil, errs.Wrap(errs.RoleSchemaError, "planner output missing plan_summary")
	}

	rawTasks, ok := parsed["tasks"].([]any)
	if !ok || len(rawTasks) == 0 {
		return nil, errs.Wrap(errs.RoleSchemaError, "planner output missing non-empty tasks array")
	}

	result := &PlanResult{Summary: summary}
	seenIDs := make(map[string]bool)

	for i, raw := range rawTasks {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, errs.Wrap(errs.RoleSchemaError, fmt.Sprintf("planner task %d is not an object", i))
		}

		role := team.Role(stringField(entry, "role"))
		if !validRole(role) {
			return nil, errs.Wrap(errs.RoleSchemaError, fmt.Sprintf("planner task %d has invalid role %q", i, role))
		}

		name := stringField(entry, "subject", "description", "name")
		if name == "" {
			return nil, errs.Wrap(errs.RoleSchemaError, fmt.Sprintf("planner task %d missing subject/description/name", i))
		}

		id := stringField(entry, "id")
		if id == "" {
			id = fmt.Sprintf("%s-%d", role, i)
		}
		if seenIDs[id] {
			return nil, errs.Wrap(errs.RoleSchemaError, fmt.Sprintf("planner task %d has duplicate id %q", i, id))
		}
		seenIDs[id] = true

		deps := stringListField(entry, "depends_on", "dependsOn", "dependencies")
		result.Tasks = append(result.Tasks, PlanTask{ID: id, Role: role, Name: name, Dependencies: deps})
	}

	for _, t := range result.Tasks {
		for _, dep := range t.Dependencies {
			if !seenIDs[dep] {
				return nil, errs.Wrap(errs.RoleSchemaError, fmt.Sprintf("planner task %q depends on unknown id %q", t.ID, dep))
			}
		}
	}

	if hasCycle(result.Tasks) {
		return nil, errs.Wrap(errs.RoleSchemaError, "planner output dependency graph has a cycle")
	}

	return result, nil
}

func validRole(r team.Role) bool {
	switch r {
	case team.RolePlanner, team.RoleResearcher, team.RoleDesigner, team.RoleDeveloper, team.RoleExecutor, team.RoleVerifier:
		return true
	}
	return false
}

func hasCycle(tasks []PlanTask) bool {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Dependencies
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		for _, dep := range deps[id] {
			if visit(dep) {
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, t := range tasks {
		if visit(t.ID) {
			return true
		}
	}
	return false
}

// ValidateVerifier implements spec.md §4.5 step 6's verifier schema check.
func ValidateVerifier(parsed map[string]any) error {
	status := stringField(parsed, "status")
	switch status {
	case "pass":
		return nil
	case "fail":
		return errs.Wrap(errs.RoleSchemaError, "Verifier reported status=fail")
	default:
		return errs.Wrap(errs.RoleSchemaError, fmt.Sprintf("verifier output has invalid status %q", status))
	}
}

// DetectApproval implements spec.md §4.5 step 7: parsed has a truthy
// requiresApproval/requires_approval/requireApproval, or a nested
// approval.required, where truthy includes booleans, 1, yes/y/true
// (case-insensitive).
func DetectApproval(parsed map[string]any) bool {
	for _, key := range []string{"requiresApproval", "requires_approval", "requireApproval"} {
		if v, ok := parsed[key]; ok && truthy(v) {
			return true
		}
	}
	if nested, ok := parsed["approval"].(map[string]any); ok {
		if v, ok := nested["required"]; ok && truthy(v) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case int:
		return t == 1
	case string:
		switch strings.ToLower(t) {
		case "1", "yes", "y", "true":
			return true
		}
	}
	return false
}

// ExtractMailbox implements spec.md §4.5 step 8: a `mailbox` value (array
// or single object) becomes normalized mailbox messages with
// delivered=false.
func ExtractMailbox(parsed map[string]any, taskID string, role team.Role) []*team.Message {
	raw, ok := parsed["mailbox"]
	if !ok {
		return nil
	}

	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		entries = []any{v}
	default:
		return nil
	}

	ts36 := strconv.FormatInt(time.Now().UnixNano(), 36)

	var messages []*team.Message
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		id := stringField(entry, "id")
		if id == "" {
			id = fmt.Sprintf("task-output-%s-%d-%s", taskID, i, ts36)
		}
		msgTaskID := stringField(entry, "taskId", "task_id")
		if msgTaskID == "" {
			msgTaskID = taskID
		}
		to := stringListField(entry, "to")
		if len(to) == 0 {
			to = []string{string(role)}
		}

		kind := team.MailboxKind(stringField(entry, "kind"))
		messages = append(messages, &team.Message{
			ID:      id,
			Kind:    kind,
			To:      to,
			TaskID:  msgTaskID,
			Text:    stringField(entry, "message", "text"),
			Payload: mapField(entry, "payload"),
		})
	}
	return messages
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func stringListField(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
			return []string{t}
		case []any:
			var out []string
			for _, item := range t {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}
