package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oellm/evalsched/internal/logging"
	"github.com/oellm/evalsched/internal/run"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Prints the resolved cluster profile as shell export lines.",
	Long: `Resolves the current host against the clusters catalog and prints the
merged profile as export lines, suitable for eval in a shell or sourcing
from a batch script.`,
	RunE:         runEnvCmd,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(envCmd)
}

func runEnvCmd(cmd *cobra.Command, args []string) error {
	logger, logShutdown, err := logging.NewLogger(debugLogging)
	if err != nil {
		return err
	}
	defer func() { _ = logShutdown() }()

	engine := run.NewEngine(logger)
	profile, err := engine.ResolveCluster(run.Options{ClustersPath: clustersPath, Hostname: hostname})
	if err != nil {
		return err
	}
	for _, line := range profile.ExportLines() {
		fmt.Println(line)
	}
	return nil
}
