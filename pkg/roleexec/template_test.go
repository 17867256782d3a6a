package roleexec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grovepm/grove-team/pkg/team"
)

func TestResolveTemplate_Precedence(t *testing.T) {
	jobOverride := func(provider string, role team.Role) string {
		if role == team.RoleDeveloper {
			return "job-level override"
		}
		return ""
	}
	envOverride := func(provider, role string) string {
		if role == "developer" {
			return "env override"
		}
		if role == "researcher" {
			return "env researcher override"
		}
		return ""
	}

	assert.Equal(t, "job-level override", ResolveTemplate("codex", team.RoleDeveloper, jobOverride, envOverride))
	assert.Equal(t, "env researcher override", ResolveTemplate("codex", team.RoleResearcher, jobOverride, envOverride))
	assert.Equal(t, builtinTemplates[team.RoleDesigner], ResolveTemplate("codex", team.RoleDesigner, jobOverride, envOverride))
}

func TestResolveTemplate_FallsBackToErrorEchoForUnknownRole(t *testing.T) {
	out := ResolveTemplate("codex", team.Role("unknown"), nil, nil)
	assert.Contains(t, out, "no command template configured for role")
}

func TestRender_SubstitutesAllTokenForms(t *testing.T) {
	v := TokenValues{
		JobID: "job-1", Provider: "codex", Role: "developer", Task: "build thing",
		TaskID: "t1", Attempt: 2, Workdir: "/work",
	}

	out := Render("{JOB_ID} ${PROVIDER} $ROLE attempt=$ATTEMPT dir={WORKDIR} task=${TASK_ID}", v)
	assert.Equal(t, "job-1 codex developer attempt=2 dir=/work task=t1", out)
}

func TestRender_BareTaskAndTaskIDDoNotCollide(t *testing.T) {
	v := TokenValues{Task: "rename sort key", TaskID: "t1"}

	out := Render("task=$TASK id=$TASK_ID", v)
	assert.Equal(t, "task=rename sort key id=t1", out)
}

func TestRender_DependencyOutputsMarshalsToJSON(t *testing.T) {
	v := TokenValues{DependencyOutputs: map[string]any{"d1": map[string]any{"summary": "done"}}}
	out := Render("deps={DEPENDENCY_OUTPUTS}", v)
	assert.Contains(t, out, `"d1"`)
	assert.Contains(t, out, `"summary":"done"`)
}

func TestRender_NilDependencyOutputsBecomesEmptyObject(t *testing.T) {
	out := Render("deps={DEPENDENCY_OUTPUTS}", TokenValues{})
	assert.Equal(t, "deps={}", out)
}

func TestDependencyOutputs_OnlyIncludesSucceededDeps(t *testing.T) {
	tasks := []*team.Task{
		{ID: "a", Status: team.TaskSucceeded, Output: map[string]any{"summary": "a-done"}},
		{ID: "b", Status: team.TaskFailed, Output: map[string]any{"summary": "b-failed"}},
	}
	task := &team.Task{ID: "c", Dependencies: []string{"a", "b", "missing"}}

	out := DependencyOutputs(task, tasks)
	assert.Len(t, out, 1)
	assert.Equal(t, tasks[0].Output, out["a"])
}

func TestTaskText(t *testing.T) {
	assert.Equal(t, "name: job task", TaskText("name", "job task"))
	assert.Equal(t, "job task", TaskText("", "job task"))
	assert.Equal(t, "name", TaskText("name", ""))
}
