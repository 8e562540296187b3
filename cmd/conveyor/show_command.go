package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its stage history",
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
			job, err := apiClient.Job(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(job)
			}

			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderSectionHeader(fmt.Sprintf("Job %d", job.ID), colorize))
			fmt.Fprintln(out, renderStatusLine("Source", statusInfo, job.SourcePath, colorize))
			fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), job.Status, colorize))
			if job.CurrentArtifact != "" {
				fmt.Fprintln(out, renderStatusLine("Artifact", statusInfo, job.CurrentArtifact, colorize))
			}
			if job.ErrorMessage != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
			}
			if job.StartedAt != "" {
				fmt.Fprintln(out, renderStatusLine("Started", statusInfo, job.StartedAt, colorize))
			}
			if job.CompletedAt != "" {
				fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, job.CompletedAt, colorize))
			}

			if len(job.StageRuns) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Stage Runs", colorize))
			rows := make([][]string, 0, len(job.StageRuns))
			for _, run := range job.StageRuns {
				rows = append(rows, []string{
					fmt.Sprintf("%d", run.StageIndex),
					run.StageLabel,
					run.Outcome,
					run.StartedAt,
					run.FinishedAt,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Stage", "Outcome", "Started", "Finished"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the job as JSON")
	return cmd
}

func jobStatusKind(status string) statusKind {
	switch {
	case status == "completed":
		return statusOK
	case status == "failed":
		return statusError
	default:
		return statusInfo
	}
}
