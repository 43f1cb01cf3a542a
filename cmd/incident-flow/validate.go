package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/data-agents/pkg/incident"
	"github.com/Mindburn-Labs/data-agents/pkg/schemas"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Score a finished run against its truth labels",
	Long: `Validate a finished run: schema-check every artifact, compare detected
incidents against the run's truth.json, and write validation_report.md
and validation_summary.json next to the run's other artifacts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		strictScenario, _ := cmd.Flags().GetBool("strict-scenario")

		ctx := cmd.Context()
		_, logger, store, err := setup(ctx)
		if err != nil {
			return err
		}
		validator, err := schemas.NewValidator()
		if err != nil {
			return err
		}
		pipeline := incident.NewPipeline(store, validator, incident.WithLogger(logger))

		summary, err := pipeline.Validate(ctx, runID, strictScenario)
		if summary != nil {
			fmt.Printf("Validation for %s: precision=%.2f recall=%.2f ranking=%.2f cluster=%t\n",
				summary.RunID, summary.IncidentTypePrecision, summary.IncidentTypeRecall,
				summary.RankingScore, summary.ClusterDetected)
		}
		if err != nil {
			var schemaFailure *incident.SchemaFailureError
			var scenarioFailure *incident.ScenarioFailureError
			if errors.As(err, &schemaFailure) || errors.As(err, &scenarioFailure) {
				return err
			}
			return fmt.Errorf("validation of %s failed: %w", runID, err)
		}
		fmt.Printf("Report written to %s\n", store.URIFor(runID+"/validation_report.md"))
		return nil
	},
}

func init() {
	validateCmd.Flags().String("run-id", "", "Run id to validate")
	validateCmd.Flags().Bool("strict-scenario", false, "Treat scenario warnings as failures")
	_ = validateCmd.MarkFlagRequired("run-id")
}
