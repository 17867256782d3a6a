package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grovepm/grove-team/pkg/jobstore"
	"github.com/grovepm/grove-team/pkg/team"
)

func newSubmitCommand() *cobra.Command {
	var provider, mode, repo, ref, task string
	var parallelTasks, maxFixAttempts int
	var requireApproval, tmuxVisualization bool
	var teamTasksFile string

	c := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new team-mode job",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := jobstore.Options{
				ParallelTasks:     parallelTasks,
				MaxFixAttempts:    maxFixAttempts,
				TmuxVisualization: tmuxVisualization,
				RequireApproval:   requireApproval,
			}
			if opts.ParallelTasks <= 0 {
				opts.ParallelTasks = 1
			}

			if teamTasksFile != "" {
				tasks, err := loadSeedTasks(teamTasksFile)
				if err != nil {
					return err
				}
				opts.Team.Tasks = tasks
			}
			if len(opts.Team.Tasks) == 0 {
				opts.Team.Tasks = defaultTeamTasks()
			}
			opts.Team.Status = team.RunQueued
			opts.Team.ParallelTasks = opts.ParallelTasks
			opts.Team.MaxFixAttempts = opts.MaxFixAttempts

			rec, err := store().Create(jobstore.Input{
				Provider: provider,
				Mode:     mode,
				Repo:     repo,
				Ref:      ref,
				Task:     task,
				Options:  opts,
			})
			if err != nil {
				return err
			}
			if err := queue().Enqueue(rec.ID); err != nil {
				return err
			}
			store().AppendEvent(rec.ID, "queued", "Job submitted", nil)

			fmt.Println(rec.ID)
			return nil
		},
	}

	c.Flags().StringVar(&provider, "provider", "codex", "agent CLI provider (codex, claude, gemini)")
	c.Flags().StringVar(&mode, "mode", "team", "job mode")
	c.Flags().StringVar(&repo, "repo", "", "repository identifier")
	c.Flags().StringVar(&ref, "ref", "main", "git ref")
	c.Flags().StringVar(&task, "task", "", "free-form task text")
	c.Flags().IntVar(&parallelTasks, "parallel-tasks", 1, "max concurrent sub-tasks per batch")
	c.Flags().IntVar(&maxFixAttempts, "max-fix-attempts", 1, "max failure-cascade recovery attempts")
	c.Flags().BoolVar(&requireApproval, "require-approval", false, "require approval before continuing")
	c.Flags().BoolVar(&tmuxVisualization, "tmux-visualization", false, "mirror role execution into a tmux session")
	c.Flags().StringVar(&teamTasksFile, "team-tasks-file", "", "JSON file describing a seed task DAG")
	return c
}

// defaultTeamTasks builds the canonical six-role pipeline (planner →
// researcher → designer → developer → executor → verifier) a submit
// uses when no --team-tasks-file seeds a DAG, per spec.md §8 Scenario
// 1: only planner starts queued, the rest start blocked on the stage
// before them.
func defaultTeamTasks() []*team.Task {
	roles := []team.Role{
		team.RolePlanner,
		team.RoleResearcher,
		team.RoleDesigner,
		team.RoleDeveloper,
		team.RoleExecutor,
		team.RoleVerifier,
	}
	tasks := make([]*team.Task, len(roles))
	for i, role := range roles {
		t := &team.Task{
			ID:          "team-" + string(role),
			Role:        role,
			Status:      team.TaskBlocked,
			MaxAttempts: 1,
			TimeoutSecs: 600,
		}
		if i == 0 {
			t.Status = team.TaskQueued
		} else {
			t.Dependencies = []string{tasks[i-1].ID}
		}
		tasks[i] = t
	}
	return tasks
}

// loadSeedTasks reads a JSON array of team.Task descriptors (the
// team.teamTasks template array from spec.md §6) so a submitter can seed
// a DAG without waiting for the planner role.
func loadSeedTasks(path string) ([]*team.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tasks []*team.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing team tasks file: %w", err)
	}
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = team.TaskQueued
		}
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = 1
		}
		if t.TimeoutSecs <= 0 {
			t.TimeoutSecs = 600
		}
	}
	return tasks, nil
}
