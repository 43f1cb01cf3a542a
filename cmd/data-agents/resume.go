package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/data-agents/pkg/tabular"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a run after confirmation",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")

		ctx := cmd.Context()
		flow, err := buildFlow(ctx)
		if err != nil {
			return err
		}

		resp, err := flow.ContinueRun(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		if resp.Status == tabular.StatusNeedsConfirmation {
			if resp.Question != "" {
				fmt.Println(resp.Question)
			}
			return errSuspended
		}
		return nil
	},
}

func init() {
	resumeCmd.Flags().String("run-id", "", "Run id to resume")
	_ = resumeCmd.MarkFlagRequired("run-id")
}
