// Command schema-generator writes JSON Schema files describing the
// core's configuration, task, and planner-output shapes, for validating
// job-submission options and Agent CLI planner output against a
// published contract.
//
// Grounded verbatim-in-shape on the teacher's tools/schema-generator/
// main.go (invopop/jsonschema.Reflector with AllowAdditionalProperties,
// ExpandedStruct, and a yaml FieldNameTag, Required cleared so configs
// don't demand every field), reflecting grove-team's own types instead
// of FlowConfig/Job.
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/grovepm/grove-team/internal/config"
	"github.com/grovepm/grove-team/pkg/team"
)

// PlannerOutput is the JSON contract a planner-role Agent CLI invocation
// must satisfy, per spec.md §4.5 step 6.
type PlannerOutput struct {
	PlanSummary string            `json:"plan_summary"`
	Tasks       []PlannerTaskSpec `json:"tasks"`
	Mailbox     []PlannerMailItem `json:"mailbox,omitempty"`
}

// PlannerTaskSpec is one entry of PlannerOutput.Tasks.
type PlannerTaskSpec struct {
	ID        string   `json:"id,omitempty"`
	Role      string   `json:"role"`
	Subject   string   `json:"subject"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// PlannerMailItem is one entry of PlannerOutput.Mailbox.
type PlannerMailItem struct {
	Kind    string `json:"kind"`
	To      string `json:"to,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Message string `json:"message"`
}

func main() {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}

	writeSchema(r, &config.Config{}, "Grove Team Configuration", "Schema for grove-team's yaml role command override file (role_commands); the environment-driven settings are not part of it.", "grove-team.config.schema.json")

	rJSON := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "json",
	}

	writeSchema(rJSON, &team.Task{}, "Grove Team Task", "Schema for one Team Task entry in a job's team.state.tasks array.", "grove-team.task.schema.json")
	writeSchema(rJSON, &PlannerOutput{}, "Grove Team Planner Output", "Schema for the JSON object a planner-role Agent CLI invocation must emit.", "grove-team.planner-output.schema.json")
}

func writeSchema(r *jsonschema.Reflector, v any, title, description, path string) {
	schema := r.Reflect(v)
	schema.Title = title
	schema.Description = description
	schema.Required = nil

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("marshaling schema %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("writing schema file %s: %v", path, err)
	}
	log.Printf("wrote %s", path)
}
