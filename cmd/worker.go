package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grovepm/grove-team/internal/config"
	"github.com/grovepm/grove-team/pkg/dispatcher"
	"github.com/grovepm/grove-team/pkg/engine"
	"github.com/grovepm/grove-team/pkg/execshim"
	"github.com/grovepm/grove-team/pkg/jobstore"
	"github.com/grovepm/grove-team/pkg/team"
)

// newWorkerCommand groups worker subcommands under `team worker`.
func newWorkerCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Run the job dispatcher",
	}
	root.AddCommand(newWorkerRunCommand())
	return root
}

// newWorkerRunCommand runs the Job Dispatcher loop (spec.md §4.8) until
// interrupted: reap stale claims once on start, then poll the work queue
// every 400ms, driving each claimed job through the Team Engine.
func newWorkerRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the job dispatcher loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			workerID := os.Getenv("WORKER_ID")
			if workerID == "" {
				workerID = uuid.NewString()
			}

			q := queue()
			if err := q.ReapStaleClaims(cfg.WorkQueueStaleClaim); err != nil {
				log.WithError(err).Warn("failed to reap stale work queue claims")
			}

			d := &dispatcher.Dispatcher{
				Store:    store(),
				Queue:    q,
				Executor: &execshim.RealCommandExecutor{},
				WorkerID: workerID,
				WorkDir:  func(jobID string) string { return filepath.Join(cfg.WorkRoot, jobID) },
				BuildDeps: func(rec *jobstore.Record) engine.Deps {
					return engine.Deps{
						Executor: &execshim.RealCommandExecutor{},
						Config:   cfg,
						WorkerID: workerID,
						WorkDir:  func(jobID string) string { return filepath.Join(cfg.WorkRoot, jobID) },
						LogDir:   func(jobID string) string { return filepath.Join(cfg.StateRoot, jobID, "logs") },
						JobOverride: func(provider string, role team.Role) string {
							if rec.Options.AgentCommands == nil {
								return ""
							}
							return rec.Options.AgentCommands[string(role)]
						},
						EnvOverride: config.RoleCommandOverride,
					}
				},
			}

			log.WithField("workerId", workerID).Info("dispatcher starting")
			for {
				select {
				case <-ctx.Done():
					log.Info("dispatcher shutting down")
					return nil
				default:
				}

				claimed, err := d.RunOnce(ctx)
				if err != nil {
					log.WithError(err).Error("dispatcher iteration failed")
				}
				if !claimed {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(dispatcher.PollInterval):
					}
				}
			}
		},
	}
}
