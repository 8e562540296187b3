package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.newClient()
			if err != nil {
				return err
			}
			status, err := apiClient.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			daemonKind := statusOK
			daemonMsg := fmt.Sprintf("pid %d", status.PID)
			if !status.Running {
				daemonKind = statusError
				daemonMsg = "not running"
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))
			fmt.Fprintln(out, renderStatusLine("Job database", statusInfo, status.JobDBPath, colorize))
			fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
			fmt.Fprintln(out, renderStatusLine("Slots", statusInfo,
				fmt.Sprintf("%d of %d in use", status.Stats.InFlight, status.Stats.Capacity), colorize))

			if len(status.StageHealth) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderSectionHeader("Stages", colorize))
				for _, health := range status.StageHealth {
					kind := statusOK
					if !health.Ready {
						kind = statusWarn
					}
					fmt.Fprintln(out, renderStatusLine(health.Name, kind, health.Detail, colorize))
				}
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Jobs", colorize))
			rows := buildStatsRows(status.Stats.Counts)
			if len(rows) == 0 {
				fmt.Fprintln(out, statusIndent+"No jobs recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Status", "Count"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func buildStatsRows(counts map[string]int) [][]string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprintf("%d", counts[name])})
	}
	return rows
}
