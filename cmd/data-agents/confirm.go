package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a header candidate for a suspended run",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		choice, _ := cmd.Flags().GetString("choice")

		ctx := cmd.Context()
		flow, err := buildFlow(ctx)
		if err != nil {
			return err
		}

		candidates, err := flow.HeaderCandidates(ctx, runID)
		if err != nil {
			return err
		}
		known := false
		for _, candidate := range candidates {
			if candidate.CandidateID == choice {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("Invalid candidate id: %s", choice)
		}

		if err := flow.WriteHumanConfirmation(ctx, runID, choice, "cli"); err != nil {
			return err
		}
		fmt.Println("Confirmation saved.")
		fmt.Printf("Next: data-agents resume --run-id %s\n", runID)
		return nil
	},
}

func init() {
	confirmCmd.Flags().String("run-id", "", "Run id to confirm")
	confirmCmd.Flags().String("choice", "", "Header candidate id to confirm")
	_ = confirmCmd.MarkFlagRequired("run-id")
	_ = confirmCmd.MarkFlagRequired("choice")
}
