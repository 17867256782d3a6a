package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovepm/grove-team/pkg/team"
)

func newStatusCommand() *cobra.Command {
	var jsonOut bool

	c := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's team-state, with metrics recomputed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := store().Read(args[0])
			if err != nil {
				return err
			}
			run := rec.Options.Team
			team.RecomputeMetrics(&run, time.Now())
			run.Phase = team.Phase(run.Tasks)

			if jsonOut {
				data, err := json.MarshalIndent(run, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("job %s: status=%s approval=%s phase=%s fixAttempts=%d/%d\n",
				rec.ID, rec.Status, rec.ApprovalState, run.Phase, run.FixAttempts, run.MaxFixAttempts)
			for _, t := range run.Tasks {
				fmt.Printf("  %-12s %-10s %-9s attempt=%d deps=%v\n", t.ID, t.Role, t.Status, t.Attempt, t.Dependencies)
			}
			fmt.Printf("metrics: %+v\n", run.Metrics)
			return nil
		},
	}

	c.Flags().BoolVar(&jsonOut, "json", false, "print the raw team-state JSON")
	return c
}
