package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	debugLogging bool
	clustersPath string
	hostname     string
)

var rootCmd = &cobra.Command{
	Use:   "evalsched",
	Short: "Schedules LLM evaluation batches on Slurm clusters.",
	Long: `evalsched resolves the cluster it runs on from a shared catalog,
prepares model and dataset caches on the shared filesystem, builds a
deterministic evaluation manifest, and submits it as a single Slurm array
job that it then monitors to completion.`,
	Version:      fmt.Sprintf("%s (build %s, %s)", Version, Build, BuildDate),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging.")
	rootCmd.PersistentFlags().StringVar(&clustersPath, "clusters", "", "Path to the clusters catalog; empty searches the standard config directories.")
	rootCmd.PersistentFlags().StringVar(&hostname, "hostname", "", "Override the detected hostname when resolving the cluster.")
}
