package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oellm/evalsched/internal/abstractions"
	"github.com/oellm/evalsched/internal/cluster"
	"github.com/oellm/evalsched/internal/config"
	"github.com/oellm/evalsched/internal/container"
	"github.com/oellm/evalsched/internal/controller"
	"github.com/oellm/evalsched/internal/manifest"
	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/metrics"
	"github.com/oellm/evalsched/internal/resources"
	"github.com/oellm/evalsched/internal/results"
	"github.com/oellm/evalsched/internal/runerrors"
	"github.com/oellm/evalsched/internal/script"
	"github.com/oellm/evalsched/internal/slurm"
	"github.com/oellm/evalsched/internal/storage"
	"github.com/oellm/evalsched/pkg/api"
)

// Options is the user request as the CLI parsed it.
type Options struct {
	Models       []string
	Tasks        []string
	NumShots     []int
	ManifestCSV  string
	DownloadOnly bool
	NoMonitor    bool

	// ClustersPath overrides the clusters.yaml search; empty uses the
	// standard config directories.
	ClustersPath string
	// Hostname overrides the detected hostname, mainly for tests and for
	// targeting a cluster from a login node with an unusual name.
	Hostname string
}

// Engine executes one scheduling run end to end.
type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Execute drives a run through its full lifecycle: resolve the cluster,
// prepare resources, build the manifest, generate and submit the batch
// script, then monitor until the array settles. Each stage failure is
// recorded against the run before it is returned.
func (e *Engine) Execute(ctx context.Context, opts Options) error {
	profile, err := e.ResolveCluster(opts)
	if err != nil {
		return err
	}
	if err := profile.Materialize(e.logger); err != nil {
		return err
	}

	runMetrics := metrics.New()

	// a custom manifest is read exactly once; preparation and the built
	// manifest must come from the same rows even if the file changes mid-run
	var customRows []api.EvalJob
	if opts.ManifestCSV != "" {
		if customRows, err = manifest.ReadCSV(opts.ManifestCSV); err != nil {
			return err
		}
	}

	report, expanded, modelOrder, err := e.prepareResources(ctx, profile, runMetrics, opts, customRows)
	if err != nil {
		return err
	}
	if opts.DownloadOnly {
		e.reportPreparation(report)
		return nil
	}

	if profile.SIFPath != "" {
		if err := container.EnsureImage(ctx, e.logger, profile.ContainerImage, profile.SIFPath); err != nil {
			return runerrors.NewResourcePreparationError(profile.SIFPath, err)
		}
	}

	jobs, err := e.buildManifest(profile, runMetrics, opts, customRows, report, expanded, modelOrder)
	if err != nil {
		return err
	}

	runDir, err := createRunDir(profile.OutputRoot)
	if err != nil {
		return err
	}
	e.logger.Info("Run directory created", "path", runDir)

	if err := jobs.WriteCSV(filepath.Join(runDir, "manifest.csv")); err != nil {
		return err
	}
	taskListPath := filepath.Join(runDir, "tasks.tsv")
	if err := jobs.WriteTasks(taskListPath); err != nil {
		return err
	}

	store, err := storage.NewStorage(databaseConfig(profile, runDir), e.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	store = store.WithContext(ctx)

	runConfig := &api.RunConfig{
		Models:       opts.Models,
		Tasks:        opts.Tasks,
		NumShots:     opts.NumShots,
		ManifestCSV:  opts.ManifestCSV,
		DownloadOnly: opts.DownloadOnly,
	}
	runRecord, err := store.CreateRun(runConfig, profile.Name, runDir)
	if err != nil {
		return err
	}
	e.logger.Info("Run registered", "run_id", runRecord.ID, "cluster", profile.Name, "jobs", len(jobs.Jobs))

	scheduler, err := slurm.NewClient(e.logger)
	if err != nil {
		failRun(store, runRecord.ID, err)
		return err
	}
	ctrl := controller.New(e.logger, profile, scheduler, store, runMetrics)

	quota, err := ctrl.AwaitQuota(ctx)
	if err != nil {
		failRun(store, runRecord.ID, err)
		return err
	}
	arrayLimit := profile.QueueLimit
	if quota < arrayLimit {
		arrayLimit = quota
	}

	batchScript, err := script.Generate(script.Params{
		Profile:      profile,
		Manifest:     jobs,
		JobName:      fmt.Sprintf("eval-%s", filepath.Base(runDir)),
		TaskListPath: taskListPath,
		LogDir:       filepath.Join(runDir, "slurm_logs"),
		ResultsDir:   filepath.Join(runDir, "results"),
		ArrayLimit:   arrayLimit,
	})
	if err != nil {
		failRun(store, runRecord.ID, err)
		return err
	}
	scriptPath := filepath.Join(runDir, "submit_evals.sbatch")
	if err := os.WriteFile(scriptPath, []byte(batchScript), 0o644); err != nil {
		failRun(store, runRecord.ID, err)
		return err
	}

	batch, err := ctrl.Submit(ctx, runRecord.ID, batchScript, len(jobs.Jobs))
	if err != nil {
		failRun(store, runRecord.ID, err)
		return err
	}
	e.logger.Info("Array job submitted", "slurm_job_id", batch.JobID, "tasks", batch.ArraySize, "concurrency", arrayLimit)

	if opts.NoMonitor {
		e.logger.Info("Monitoring disabled, leaving the run in the scheduler's hands", "run_id", runRecord.ID)
		writeRunMetrics(e.logger, runMetrics, runDir)
		return nil
	}

	final, err := ctrl.Monitor(ctx, runRecord.ID, batch)
	if err != nil && ctx.Err() != nil {
		// interrupted mid-monitoring: tear the array job down rather than
		// leaving it running unobserved
		e.logger.Warn("Interrupted, cancelling the array job", "slurm_job_id", batch.JobID)
		cancelCtx, cancel := context.WithTimeout(context.Background(), 2*profile.QueuePollInterval+30*time.Second)
		defer cancel()
		if cancelErr := ctrl.Cancel(cancelCtx, batch); cancelErr != nil {
			e.logger.Error("Failed to confirm cancellation", "slurm_job_id", batch.JobID, "error", cancelErr.Error())
		}
	}
	if updateErr := store.WithContext(context.Background()).UpdateRunState(runRecord.ID, final, nil); updateErr != nil {
		e.logger.Error("Failed to record final run state", "run_id", runRecord.ID, "error", updateErr.Error())
	}
	if err != nil {
		return err
	}

	e.summarize(profile, runDir, batch.ArraySize)
	writeRunMetrics(e.logger, runMetrics, runDir)
	e.logger.Info("Run finished", "run_id", runRecord.ID, "state", final.String())
	if final != api.RunStateCompleted {
		return runerrors.New(messages.RunNotCompleted, "State", final.String())
	}
	return nil
}

// ResolveCluster loads the cluster catalog and matches the current host
// against it.
func (e *Engine) ResolveCluster(opts Options) (*cluster.Profile, error) {
	clusters, err := config.LoadClusters(e.logger, opts.ClustersPath)
	if err != nil {
		return nil, err
	}
	hostname := opts.Hostname
	if hostname == "" {
		if hostname, err = os.Hostname(); err != nil {
			return nil, err
		}
	}
	return cluster.Resolve(e.logger, clusters, hostname)
}

// prepareResources expands the requested models into concrete refs and
// populates the shared caches. modelOrder preserves the order in which
// model paths were first requested, which custom manifests depend on.
func (e *Engine) prepareResources(ctx context.Context, profile *cluster.Profile, m *metrics.RunMetrics, opts Options, customRows []api.EvalJob) (*resources.Report, map[string][]api.ResourceRef, []string, error) {
	models := opts.Models
	tasks := opts.Tasks
	if opts.ManifestCSV != "" {
		models, tasks = distinctInputs(customRows)
	}

	expanded := resources.ExpandModelRefs(e.logger, models)
	refs := resources.DistinctRefs(expanded, models)

	preparer := resources.NewPreparer(e.logger, profile)
	report, err := preparer.Prepare(ctx, refs, tasks)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, p := range report.Prepared {
		m.ResourcesPrepared.Inc()
		if p.Cached {
			m.ResourcesCached.Inc()
		}
	}
	for range report.Unavailable {
		m.ResourcesUnavailable.Inc()
	}
	for _, failed := range report.Unavailable {
		e.logger.Warn("Resource unavailable", "resource", failed.Ref.ModelArg(), "error", failed.Err.Error())
	}
	if len(refs) > 0 && len(report.Prepared) == 0 {
		return nil, nil, nil, runerrors.New(messages.NoUsableResources)
	}
	return report, expanded, models, nil
}

func (e *Engine) buildManifest(profile *cluster.Profile, m *metrics.RunMetrics, opts Options, customRows []api.EvalJob, report *resources.Report, expanded map[string][]api.ResourceRef, modelOrder []string) (*manifest.Manifest, error) {
	available := availabilityFromReport(report)
	skip := profile.SkipUnavailableRows()

	var jobs *manifest.Manifest
	var err error
	if opts.ManifestCSV != "" {
		jobs, err = manifest.BuildCustom(e.logger, customRows, expanded, available, skip)
	} else {
		var modelArgs []string
		for _, model := range modelOrder {
			for _, ref := range expanded[model] {
				modelArgs = append(modelArgs, ref.ModelArg())
			}
		}
		jobs, err = manifest.Build(e.logger, modelArgs, opts.Tasks, opts.NumShots, available, skip)
	}
	if err != nil {
		return nil, err
	}
	m.ManifestRows.Set(float64(len(jobs.Jobs)))
	return jobs, nil
}

func (e *Engine) reportPreparation(report *resources.Report) {
	for _, p := range report.Prepared {
		e.logger.Info("Resource ready", "resource", p.Ref.ModelArg(), "path", p.Path, "cached", p.Cached)
	}
	for _, d := range report.Datasets {
		e.logger.Info("Dataset ready", "dataset", d.Ref.Name, "path", d.Path, "cached", d.Cached)
	}
	for _, f := range report.Unavailable {
		e.logger.Warn("Resource unavailable", "resource", f.Ref.ModelArg(), "error", f.Err.Error())
	}
}

func (e *Engine) summarize(profile *cluster.Profile, runDir string, arraySize int) {
	if len(profile.ResultMetricPaths) == 0 {
		return
	}
	indices := make([]int, arraySize)
	for i := range indices {
		indices[i] = i
	}
	summary := results.Summarize(e.logger, filepath.Join(runDir, "results"), indices, profile.ResultMetricPaths)
	if err := summary.Write(filepath.Join(runDir, "summary.json")); err != nil {
		e.logger.Warn("Failed to write results summary", "error", err.Error())
	}
}

// availabilityFromReport closes over the set of model arguments that
// survived preparation.
func availabilityFromReport(report *resources.Report) manifest.Availability {
	prepared := make(map[string]bool, len(report.Prepared))
	for _, p := range report.Prepared {
		prepared[p.Ref.ModelArg()] = true
	}
	return func(modelArg string) bool {
		return prepared[modelArg]
	}
}

// distinctInputs extracts the distinct model and task paths from custom
// manifest rows, in first-seen order.
func distinctInputs(rows []api.EvalJob) ([]string, []string) {
	var models, tasks []string
	seenModel := make(map[string]bool)
	seenTask := make(map[string]bool)
	for _, row := range rows {
		if !seenModel[row.ModelPath] {
			seenModel[row.ModelPath] = true
			models = append(models, row.ModelPath)
		}
		if !seenTask[row.TaskPath] {
			seenTask[row.TaskPath] = true
			tasks = append(tasks, row.TaskPath)
		}
	}
	return models, tasks
}

// createRunDir makes a fresh timestamped directory under the output root
// with the layout the batch script expects.
func createRunDir(outputRoot string) (string, error) {
	runDir := filepath.Join(outputRoot, "runs", time.Now().UTC().Format("20060102-150405"))
	for _, dir := range []string{runDir, filepath.Join(runDir, "slurm_logs"), filepath.Join(runDir, "results")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

// writeRunMetrics is advisory: a run never fails because its metrics file
// could not be written.
func writeRunMetrics(logger *slog.Logger, m *metrics.RunMetrics, runDir string) {
	path := filepath.Join(runDir, "metrics.prom")
	if err := m.WriteTextfile(path); err != nil {
		logger.Warn("Failed to write run metrics", "path", path, "error", err.Error())
	}
}

// databaseConfig returns the profile's storage configuration, defaulting to
// a sqlite database inside the run directory.
func databaseConfig(profile *cluster.Profile, runDir string) map[string]any {
	if len(profile.Database) > 0 {
		return profile.Database
	}
	return map[string]any{
		"driver": "sqlite",
		"url":    filepath.Join(runDir, "run.db"),
	}
}

func failRun(store abstractions.Storage, runID string, cause error) {
	info := &api.MessageInfo{
		Message:     cause.Error(),
		MessageCode: string(runerrors.AsRunError(cause).Stage()),
	}
	_ = store.UpdateRunState(runID, api.RunStateFailed, info)
}
