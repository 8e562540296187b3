package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and manage jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.newClient()
			if err != nil {
				return err
			}
			jobs, err := apiClient.Jobs(cmd.Context(), statusFilters...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Source", "Plan", "Status", "Created"},
				buildJobRows(jobs),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (repeatable)")

	cmd.AddCommand(newJobsClearCommand(ctx))
	cmd.AddCommand(newJobsRemoveCommand(ctx))
	return cmd
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var completed bool
	var failed bool
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete finished jobs from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			var scope string
			switch {
			case all && !completed && !failed:
				scope = "all"
			case completed && !failed && !all:
				scope = "completed"
			case failed && !completed && !all:
				scope = "failed"
			default:
				return errors.New("pass exactly one of --all, --completed or --failed")
			}

			apiClient, err := ctx.newClient()
			if err != nil {
				return err
			}
			removed, err := apiClient.ClearJobs(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&completed, "completed", false, "Delete completed jobs")
	cmd.Flags().BoolVar(&failed, "failed", false, "Delete failed jobs")
	cmd.Flags().BoolVar(&all, "all", false, "Delete every job regardless of state")
	return cmd
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete one job and its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			apiClient, err := ctx.newClient()
			if err != nil {
				return err
			}
			if err := apiClient.RemoveJob(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %d\n", id)
			return nil
		},
	}
}

func buildJobRows(jobs []api.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			fmt.Sprintf("%d", job.ID),
			truncate(job.SourceName, 40),
			strings.Join(job.StagePlan, ","),
			job.Status,
			job.CreatedAt,
		})
	}
	return rows
}

func truncate(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
