package main

import (
	"fmt"

	"github.com/cuongbtq/transform-pipeline/internal/config"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/spf13/cobra"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect guest sessions",
	}

	sessionsCmd.AddCommand(newSessionsShowCommand(ctx))

	return sessionsCmd
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id> <session-id>",
		Short: "Show the pipeline state of a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *storage.Store, _ *logger.Logger) error {
				session, err := store.GetSession(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}

				jobID, jobStatus, result := "-", "-", "-"
				if session.JobID != nil {
					jobID = *session.JobID
				}
				if session.JobStatus != nil {
					jobStatus = string(*session.JobStatus)
				}
				if session.ResultMedia != nil {
					result = session.ResultMedia.URL
				}
				// The address itself is personal data and never printed
				recipient := "no"
				if session.RecipientAddress != nil {
					recipient = "yes"
				}

				fmt.Fprint(cmd.OutOrStdout(), renderFields([][2]string{
					{"ID", session.ID},
					{"Project", session.ProjectID},
					{"Experience", orDash(session.ExperienceID)},
					{"Job", jobID},
					{"Job status", jobStatus},
					{"Result", result},
					{"Recipient submitted", recipient},
					{"Notified", formatTime(session.NotificationSentAt)},
				}))
				return nil
			})
		},
	}
}
