// data-agents drives resumable tabular ingestion runs: start a run,
// confirm a header candidate, resume after confirmation. A suspended
// run exits with code 2 so schedulers can tell "waiting on a human"
// from failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/config"
	"github.com/Mindburn-Labs/data-agents/pkg/observability"
	"github.com/Mindburn-Labs/data-agents/pkg/tabular"
)

// errSuspended signals exit code 2: the run is parked waiting for a
// human confirmation, which is not a failure.
var errSuspended = errors.New("run suspended awaiting confirmation")

var (
	flagProfile       string
	flagArtifactsRoot string
)

var rootCmd = &cobra.Command{
	Use:           "data-agents",
	Short:         "Tabular ingestion with human-in-the-loop header confirmation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "Path to a YAML config profile")
	rootCmd.PersistentFlags().StringVar(&flagArtifactsRoot, "artifacts-root", "", "Artifact store root (path, gs:// or s3:// URI)")
	rootCmd.AddCommand(runCmd, confirmCmd, resumeCmd)
}

// buildFlow loads configuration, installs the process logger, and
// opens the artifact store the flow will run against.
func buildFlow(ctx context.Context) (*tabular.Flow, error) {
	cfg, err := config.Load(flagProfile)
	if err != nil {
		return nil, err
	}
	observability.SetupDefault(observability.LogOptions{
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
		return nil, err
	}
	return tabular.NewFlow(store), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errSuspended) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
