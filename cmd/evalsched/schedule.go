package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oellm/evalsched/internal/logging"
	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/run"
	"github.com/oellm/evalsched/internal/runerrors"
)

var (
	scheduleModels      []string
	scheduleTasks       []string
	scheduleShots       []int
	scheduleManifestCSV string
	scheduleDownload    bool
	scheduleNoMonitor   bool
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringSliceVar(&scheduleModels, "models", nil, "Model identifiers to evaluate (hub names or local paths).")
	scheduleCmd.Flags().StringSliceVar(&scheduleTasks, "tasks", nil, "Evaluation task identifiers.")
	scheduleCmd.Flags().IntSliceVar(&scheduleShots, "n-shot", nil, "Few-shot counts; the manifest is the cross product with models and tasks.")
	scheduleCmd.Flags().StringVar(&scheduleManifestCSV, "manifest-csv", "", "Use a prebuilt manifest CSV instead of the cross product.")
	scheduleCmd.Flags().BoolVar(&scheduleDownload, "download-only", false, "Prepare caches and stop without submitting.")
	scheduleCmd.Flags().BoolVar(&scheduleNoMonitor, "no-monitor", false, "Submit and exit without waiting for the array to finish.")
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule-eval",
	Short: "Prepares resources and submits one evaluation batch.",
	RunE:  runScheduleCmd,
	// usage text on a scheduler rejection helps nobody
	SilenceUsage: true,
}

func runScheduleCmd(cmd *cobra.Command, args []string) error {
	logger, logShutdown, err := logging.NewLogger(debugLogging)
	if err != nil {
		logging.FallbackLogger().Error("Failed to create logger", "error", err.Error())
		return err
	}
	defer func() { _ = logShutdown() }()

	// Inputs are either the cross-product triple or a prebuilt manifest,
	// never both and never neither.
	custom := scheduleManifestCSV != ""
	triple := len(scheduleModels) > 0 || len(scheduleTasks) > 0 || len(scheduleShots) > 0
	if custom == triple {
		return runerrors.New(messages.ManifestConflictingInputs)
	}
	if !custom && (len(scheduleModels) == 0 || len(scheduleTasks) == 0) {
		return runerrors.New(messages.ManifestConflictingInputs)
	}
	if !custom && len(scheduleShots) == 0 {
		scheduleShots = []int{0}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := run.NewEngine(logger)
	return engine.Execute(ctx, run.Options{
		Models:       scheduleModels,
		Tasks:        scheduleTasks,
		NumShots:     scheduleShots,
		ManifestCSV:  scheduleManifestCSV,
		DownloadOnly: scheduleDownload,
		NoMonitor:    scheduleNoMonitor,
		ClustersPath: clustersPath,
		Hostname:     hostname,
	})
}
