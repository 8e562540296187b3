package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var stagePlan []string
	var directory string

	cmd := &cobra.Command{
		Use:   "submit [artifact...]",
		Short: "Submit artifacts as a batch",
		Long: `Submit one or more artifact files through a stage plan. Pass artifact
paths as arguments, or --dir to submit every regular file in a directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && directory == "" {
				return errors.New("provide artifact paths or --dir")
			}
			if len(args) > 0 && directory != "" {
				return errors.New("artifact paths and --dir are mutually exclusive")
			}
			if len(stagePlan) == 0 {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				stagePlan = cfg.StageIDs()
			}
			if len(stagePlan) == 0 {
				return errors.New("no stages configured; pass --stages or configure [stages]")
			}

			request := api.BatchRequest{StagePlan: stagePlan}
			if directory != "" {
				abs, err := filepath.Abs(directory)
				if err != nil {
					return fmt.Errorf("resolve directory: %w", err)
				}
				request.Directory = abs
			} else {
				for _, arg := range args {
					abs, err := filepath.Abs(arg)
					if err != nil {
						return fmt.Errorf("resolve artifact path %q: %w", arg, err)
					}
					request.ArtifactPaths = append(request.ArtifactPaths, abs)
				}
			}

			apiClient, err := ctx.newClient()
			if err != nil {
				return err
			}
			response, err := apiClient.SubmitBatch(cmd.Context(), request)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted %d job(s)\n", len(response.JobIDs))
			for _, id := range response.JobIDs {
				fmt.Fprintf(out, "  job %d\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&stagePlan, "stages", nil, "Stage plan (defaults to all configured stages)")
	cmd.Flags().StringVarP(&directory, "dir", "d", "", "Submit every regular file in this directory")
	return cmd
}
