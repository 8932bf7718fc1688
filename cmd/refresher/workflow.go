package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/refresher/internal/workflow"
)

func newWorkflowCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Print the equivalent GitHub Actions workflow",
		Long: `Print a GitHub Actions workflow that performs the same refresh on the
same schedule, for repositories that prefer hosted runners.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			wf := workflow.Build(workflow.Params{
				Schedule:       cfg.Scheduler.Schedule,
				RuntimeVersion: cfg.Runtime.Version,
				Job:            cfg.Job,
				Publish:        cfg.Publish,
			})

			if output != "" && output != "-" {
				if err := workflow.WriteFile(wf, output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
				return nil
			}

			data, err := workflow.Render(wf)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the workflow to this file instead of stdout")
	return cmd
}
