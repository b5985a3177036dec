package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cuongbtq/transform-pipeline/internal/api/dto"
	"github.com/cuongbtq/transform-pipeline/internal/config"
	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage transform jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var filter storage.JobFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				filter.Status = domain.JobStatus(status)
				if !filter.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			if filter.PageSize <= 0 {
				return fmt.Errorf("limit must be greater than 0")
			}

			return ctx.withStore(func(_ *config.Config, store *storage.Store, _ *logger.Logger) error {
				jobs, err := store.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(jobs) > filter.PageSize {
					jobs = jobs[:filter.PageSize]
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					errKind := "-"
					if job.Error != nil {
						errKind = string(job.Error.Kind)
					}
					rows = append(rows, []string{
						job.ID,
						job.SessionID,
						string(job.Status),
						strconv.Itoa(job.Attempts),
						formatTime(&job.CreatedAt),
						errKind,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Session", "Status", "Attempts", "Created", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.ProjectID, "project", "", "Only jobs of this project")
	cmd.Flags().StringVar(&filter.SessionID, "session", "", "Only jobs of this session")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status")
	cmd.Flags().IntVar(&filter.PageSize, "limit", 20, "Maximum number of jobs to show")

	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *storage.Store, _ *logger.Logger) error {
				job, err := store.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if asJSON {
					encoder := json.NewEncoder(cmd.OutOrStdout())
					encoder.SetIndent("", "  ")
					return encoder.Encode(dto.NewJobDTO(job))
				}

				output, errMessage := "-", "-"
				if job.Output != nil {
					output = job.Output.URL
				}
				if job.Error != nil {
					errMessage = fmt.Sprintf("%s: %s", job.Error.Kind, job.Error.Message)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderFields([][2]string{
					{"ID", job.ID},
					{"Project", job.ProjectID},
					{"Session", job.SessionID},
					{"Experience", job.ExperienceID},
					{"Config version", strconv.Itoa(job.Snapshot.ConfigVersion)},
					{"Status", string(job.Status)},
					{"Attempts", strconv.Itoa(job.Attempts)},
					{"Created", formatTime(&job.CreatedAt)},
					{"Started", formatTime(job.StartedAt)},
					{"Completed", formatTime(job.CompletedAt)},
					{"Output", output},
					{"Error", errMessage},
				}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")

	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *storage.Store, _ *logger.Logger) error {
				job, err := store.CancelJob(cmd.Context(), args[0])
				if domain.IsConflict(err, domain.ReasonNotCancellable) {
					return fmt.Errorf("job %s is no longer pending", args[0])
				}
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}
