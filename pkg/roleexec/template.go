// Package roleexec is the role executor from spec.md §4.5: resolves a
// command template per role, invokes the Agent CLI (or a shell utility),
// parses structured JSON output, validates role-specific schemas,
// detects approval requests and mailbox messages, and classifies
// retryable failures.
//
// Grounded on the teacher's llm_client.go (CommandLLMClient.Complete's
// io.MultiWriter tee of subprocess output to a buffer, a log file, and a
// live writer) and its provider command-builders (codex_agent_provider.go,
// claude provider), generalized from one interactive LLM request per job
// to one JSON-contract subprocess per task, with no tmux pane involved.
package roleexec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grovepm/grove-team/pkg/team"
)

// builtinTemplates are the default prompt templates per role, used when
// no override is configured — spec.md §4.5 step 1's final precedence tier.
var builtinTemplates = map[team.Role]string{
	team.RolePlanner:    "Decompose the following task into a dependency-ordered plan of sub-tasks, one per role, and report the result as JSON: {TASK}",
	team.RoleResearcher: "Research what is needed to accomplish: {TASK}. Report findings as JSON.",
	team.RoleDesigner:   "Design an approach for: {TASK}, building on: {DEPENDENCY_OUTPUTS}. Report as JSON.",
	team.RoleDeveloper:  "Implement: {TASK}, building on: {DEPENDENCY_OUTPUTS}, in {WORKDIR}. Report as JSON.",
	team.RoleExecutor:   "Execute: {TASK}, building on: {DEPENDENCY_OUTPUTS}, in {WORKDIR}. Report as JSON.",
	team.RoleVerifier:   "Verify the work done for: {TASK}, building on: {DEPENDENCY_OUTPUTS}. Report {\"status\":\"pass\"|\"fail\"} as JSON.",
}

// CommandOverride resolves a per-role command template at the
// provider/role precedence above env vars — spec.md §6's
// `agentCommands.{role}` options-bag key.
type CommandOverride func(provider string, role team.Role) string

// EnvOverride resolves JOB_<PROVIDER>_<ROLE>_CMD then JOB_<ROLE>_CMD.
type EnvOverride func(provider, role string) string

// ResolveTemplate implements spec.md §4.5 step 1's precedence: explicit
// per-role override in job options, then env JOB_<PROVIDER>_<ROLE>_CMD,
// then env JOB_<ROLE>_CMD, then the built-in default for the role.
func ResolveTemplate(provider string, role team.Role, jobOverride CommandOverride, envOverride EnvOverride) string {
	if jobOverride != nil {
		if v := jobOverride(provider, role); v != "" {
			return v
		}
	}
	if envOverride != nil {
		if v := envOverride(provider, string(role)); v != "" {
			return v
		}
	}
	if v, ok := builtinTemplates[role]; ok {
		return v
	}
	return `echo '{"status":"error","error":"no command template configured for role"}'; exit 1`
}

// TokenValues is the fixed token set substituted into a rendered command
// template (spec.md §4.5 step 2).
type TokenValues struct {
	JobID              string
	Provider           string
	Mode               string
	Repo               string
	Ref                string
	Role               string
	Task               string
	TaskID             string
	Phase              string
	Attempt            int
	Workdir            string
	DependencyOutputs  map[string]any
}

// Render substitutes tokens in three forms ({NAME}, ${NAME}, $NAME) over
// the fixed token set, per spec.md §4.5 step 2.
func Render(template string, v TokenValues) string {
	depOutputs, err := json.Marshal(v.DependencyOutputs)
	if err != nil || v.DependencyOutputs == nil {
		depOutputs = []byte("{}")
	}

	values := map[string]string{
		"JOB_ID":             v.JobID,
		"PROVIDER":           v.Provider,
		"MODE":               v.Mode,
		"REPO":               v.Repo,
		"REF":                v.Ref,
		"ROLE":               v.Role,
		"TASK":               v.Task,
		"TASK_ID":            v.TaskID,
		"PHASE":              v.Phase,
		"ATTEMPT":            strconv.Itoa(v.Attempt),
		"WORKDIR":            v.Workdir,
		"DEPENDENCY_OUTPUTS": string(depOutputs),
	}

	// Token names are substituted longest-first so a prefix collision
	// (TASK is a prefix of TASK_ID) can't let map iteration order
	// truncate $TASK_ID into a substituted $TASK followed by "_ID".
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	out := template
	for _, name := range names {
		val := values[name]
		out = strings.ReplaceAll(out, "${"+name+"}", val)
		out = strings.ReplaceAll(out, "{"+name+"}", val)
		out = strings.ReplaceAll(out, "$"+name, val)
	}
	return out
}

// DependencyOutputs collects the output blobs of every succeeded
// dependency of t, keyed by dependency task id.
func DependencyOutputs(t *team.Task, tasks []*team.Task) map[string]any {
	byID := make(map[string]*team.Task, len(tasks))
	for _, other := range tasks {
		byID[other.ID] = other
	}

	out := make(map[string]any, len(t.Dependencies))
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status != team.TaskSucceeded {
			continue
		}
		out[depID] = dep.Output
	}
	return out
}

// TaskText is the concatenation of task name and job task text used as
// the TASK token (spec.md §4.5 step 2).
func TaskText(taskName, jobTask string) string {
	if taskName == "" {
		return jobTask
	}
	if jobTask == "" {
		return taskName
	}
	return fmt.Sprintf("%s: %s", taskName, jobTask)
}
