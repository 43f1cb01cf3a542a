// incident-flow runs fleet incident detection over host snapshots:
// one locked worker pass per invocation, plus a validate subcommand
// that scores a finished run against its truth labels.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/config"
	"github.com/Mindburn-Labs/data-agents/pkg/incident"
	"github.com/Mindburn-Labs/data-agents/pkg/observability"
	"github.com/Mindburn-Labs/data-agents/pkg/schemas"
)

var (
	flagProfile       string
	flagArtifactsRoot string
)

var rootCmd = &cobra.Command{
	Use:   "incident-flow",
	Short: "Fleet incident detection over host snapshots",
	Long: `Run one incident detection pass: load snapshots, redact and evaluate
each host, cluster signatures across the fleet, and write timelines,
reports and the fleet summary under the run id. The pass holds an
advisory worker lock; a second concurrent invocation exits without
touching the run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWorker,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "Path to a YAML config profile")
	rootCmd.PersistentFlags().StringVar(&flagArtifactsRoot, "artifacts-root", "", "Artifact store root (path, gs:// or s3:// URI)")

	rootCmd.Flags().String("run-id", "", "Run id (default: run-<UTC timestamp>Z)")
	rootCmd.Flags().String("snapshot-root", "", "Separate store root to read snapshots from")
	rootCmd.Flags().String("snapshot-prefix", "", "Snapshot prefix inside the snapshot store (default: <run-id>/snapshots)")
	rootCmd.Flags().String("ticket-prefix", "", "Ticket prefix (default: <run-id>/tickets)")
	rootCmd.Flags().Int("retention-hours", 0, "Retention window for old runs (default from config)")
	rootCmd.Flags().Int("window-hours", 24, "Only consider snapshots whose window ends within this many hours")
	rootCmd.Flags().String("select-mode", "latest", "Snapshot selection per host: latest or all")
	rootCmd.Flags().Int("max-hosts", 0, "Cap on hosts per run (0 = no cap)")

	rootCmd.AddCommand(validateCmd)
}

// setup loads config, installs logging, and opens the artifact store.
func setup(ctx context.Context) (*config.Config, *slog.Logger, artifacts.Store, error) {
	cfg, err := config.Load(flagProfile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := observability.SetupDefault(observability.LogOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	root := cfg.ArtifactsRoot
	if flagArtifactsRoot != "" {
		root = flagArtifactsRoot
	}
	store, err := artifacts.BuildStore(ctx, root)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, store, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	snapshotRoot, _ := cmd.Flags().GetString("snapshot-root")
	snapshotPrefix, _ := cmd.Flags().GetString("snapshot-prefix")
	ticketPrefix, _ := cmd.Flags().GetString("ticket-prefix")
	retentionHours, _ := cmd.Flags().GetInt("retention-hours")
	windowHours, _ := cmd.Flags().GetInt("window-hours")
	selectMode, _ := cmd.Flags().GetString("select-mode")
	maxHosts, _ := cmd.Flags().GetInt("max-hosts")

	if runID == "" {
		runID = "run-" + time.Now().UTC().Format("20060102-150405") + "Z"
	}
	if selectMode != "latest" && selectMode != "all" {
		return fmt.Errorf("invalid --select-mode %q: want latest or all", selectMode)
	}

	ctx := cmd.Context()
	cfg, logger, store, err := setup(ctx)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "config", cfg)

	validator, err := schemas.NewValidator()
	if err != nil {
		return err
	}

	opts := []incident.PipelineOption{
		incident.WithRedactor(incident.NewRedactor(cfg.RedactionMode, cfg.RedactionSalt)),
		incident.WithLogger(logger),
	}
	if snapshotRoot != "" {
		snapStore, err := artifacts.BuildStore(ctx, snapshotRoot)
		if err != nil {
			return err
		}
		opts = append(opts, incident.WithSnapshotStore(snapStore))
	}
	pipeline := incident.NewPipeline(store, validator, opts...)

	var telemetry *observability.Telemetry
	if cfg.OTLPEndpoint != "" {
		telemetry, err = observability.NewTelemetry(ctx, observability.TelemetryOptions{
			ServiceName:    "incident-flow",
			ServiceVersion: version,
			Endpoint:       cfg.OTLPEndpoint,
		})
		if err != nil {
			return err
		}
		defer func() {
			if shutdownErr := telemetry.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
				logger.Warn("telemetry shutdown failed", "error", shutdownErr)
			}
		}()
	}

	if retentionHours <= 0 {
		retentionHours = cfg.RetentionHours
	}
	params := incident.RunParams{
		RunID:          runID,
		TicketPrefix:   ticketPrefix,
		RetentionHours: retentionHours,
		WindowHours:    windowHours,
		SelectMode:     selectMode,
		MaxHosts:       maxHosts,
	}
	if cmd.Flags().Changed("snapshot-prefix") {
		params.SnapshotPrefix = &snapshotPrefix
	}

	worker := incident.NewWorker(pipeline, cfg.LockKey, time.Duration(cfg.LockTTLMinutes)*time.Minute, telemetry)
	result, err := worker.Run(ctx, params)
	if err != nil {
		if errors.Is(err, incident.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, err.Error())
			return err
		}
		return fmt.Errorf("run %s failed: %w", runID, err)
	}

	fmt.Printf("Run %s completed: %d hosts, %d incidents, %d clusters\n",
		runID, result.Fleet.HostCount, result.Fleet.IncidentCount, len(result.Fleet.Clusters))
	if len(result.PurgedRuns) > 0 {
		fmt.Printf("Purged %d expired runs\n", len(result.PurgedRuns))
	}
	return nil
}

const version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, incident.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
