package main

import (
	"fmt"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/app"
	"github.com/cuongbtq/transform-pipeline/internal/config"
	"github.com/cuongbtq/transform-pipeline/internal/queue"
	"github.com/cuongbtq/transform-pipeline/internal/reconcile"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/spf13/cobra"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var runningOlderThan time.Duration
	var batchSize int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-enqueue pending jobs whose execute task was lost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize <= 0 {
				return fmt.Errorf("batch size must be greater than 0")
			}

			return ctx.withStore(func(cfg *config.Config, store *storage.Store, log *logger.Logger) error {
				if dryRun {
					jobs, err := store.ListStalePendingJobs(cmd.Context(), time.Now().Add(-olderThan), batchSize)
					if err != nil {
						return err
					}
					if len(jobs) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No stale pending jobs")
						return nil
					}

					rows := make([][]string, 0, len(jobs))
					for _, job := range jobs {
						rows = append(rows, []string{job.ID, job.SessionID, formatTime(&job.CreatedAt)})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Session", "Created"}, rows, nil))
					return nil
				}

				if cfg.Queue.Driver == config.QueueDriverMemory {
					return fmt.Errorf("reconcile needs the rabbitmq queue driver; the in-process queue belongs to the running service")
				}

				rabbitClient, err := app.InitRabbitMQ(&cfg.RabbitMQ, log.Logger)
				if err != nil {
					return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
				}
				defer rabbitClient.Close()

				sweeper := reconcile.NewSweeper(store, queue.NewRabbitQueue(rabbitClient, log.Logger), log.Logger, batchSize)
				n, err := sweeper.Sweep(cmd.Context(), olderThan)
				fmt.Fprintf(cmd.OutOrStdout(), "Re-enqueued %d jobs\n", n)
				if err != nil || runningOlderThan <= 0 {
					return err
				}

				failed, err := sweeper.Abandon(cmd.Context(), runningOlderThan)
				fmt.Fprintf(cmd.OutOrStdout(), "Failed %d abandoned running jobs\n", failed)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "Only jobs pending for at least this long")
	cmd.Flags().DurationVar(&runningOlderThan, "running-older-than", 0, "Also fail jobs running for at least this long (0 skips)")
	cmd.Flags().IntVar(&batchSize, "batch-size", reconcile.DefaultBatchSize, "Maximum number of jobs per sweep")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the jobs without enqueueing them")

	return cmd
}
