package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/broadcast"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live job and stats events",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return apiClient.Events(cmd.Context(), func(event broadcast.Event) error {
				if raw {
					payload, err := json.Marshal(event)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(payload))
					return nil
				}
				fmt.Fprintln(out, formatEvent(event))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print events as raw JSON lines")
	return cmd
}

func formatEvent(event broadcast.Event) string {
	switch event.Type {
	case broadcast.TypeJobUpdate:
		var job struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
			Error  string `json:"errorMessage"`
		}
		if err := json.Unmarshal(event.Data, &job); err == nil {
			line := fmt.Sprintf("%s  job %d -> %s", event.Timestamp, job.ID, job.Status)
			if job.Error != "" {
				line += ": " + job.Error
			}
			return line
		}
	case broadcast.TypeStatsUpdate:
		var stats struct {
			Counts   map[string]int `json:"counts"`
			InFlight int            `json:"inFlight"`
		}
		if err := json.Unmarshal(event.Data, &stats); err == nil {
			return fmt.Sprintf("%s  stats: %d in flight, %d completed, %d failed",
				event.Timestamp, stats.InFlight, stats.Counts["completed"], stats.Counts["failed"])
		}
	}
	return fmt.Sprintf("%s  %s %s", event.Timestamp, event.Type, string(event.Data))
}
