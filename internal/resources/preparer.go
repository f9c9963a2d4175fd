package resources

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oellm/evalsched/internal/cluster"
	"github.com/oellm/evalsched/internal/runerrors"
	"github.com/oellm/evalsched/pkg/api"
)

// PreparedResource is one resource confirmed present on the shared
// filesystem, ready for offline use by compute nodes.
type PreparedResource struct {
	Ref    api.ResourceRef
	Path   string
	Cached bool // already published, no fetch this run
}

// FailedResource is one resource that could not be prepared. It is excluded
// downstream; it never aborts preparation of the rest.
type FailedResource struct {
	Ref api.ResourceRef
	Err error
}

// Report is the outcome of a preparation pass.
type Report struct {
	Prepared    []PreparedResource
	Unavailable []FailedResource
	Datasets    []PreparedResource

	mu sync.Mutex
}

// Available reports whether the ref was successfully prepared.
func (r *Report) Available(ref api.ResourceRef) bool {
	for _, p := range r.Prepared {
		if p.Ref == ref {
			return true
		}
	}
	return false
}

func (r *Report) addPrepared(p PreparedResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prepared = append(r.Prepared, p)
}

func (r *Report) addUnavailable(f FailedResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unavailable = append(r.Unavailable, f)
}

func (r *Report) addDataset(p PreparedResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Datasets = append(r.Datasets, p)
}

// Preparer populates the shared model and dataset caches idempotently. It is
// safe to run concurrently with other users' invocations on the same
// filesystem: each cache entry is fetched into a temporary directory,
// published with an atomic rename, and guarded by a per-key advisory lock
// with stale-holder reclaim.
type Preparer struct {
	logger         *slog.Logger
	profile        *cluster.Profile
	modelFetcher   Fetcher
	datasetFetcher Fetcher
}

func NewPreparer(logger *slog.Logger, profile *cluster.Profile) *Preparer {
	return &Preparer{
		logger:         logger,
		profile:        profile,
		modelFetcher:   NewModelFetcher(),
		datasetFetcher: NewDatasetFetcher(),
	}
}

// NewPreparerWithFetchers exists for tests that stub out network access.
func NewPreparerWithFetchers(logger *slog.Logger, profile *cluster.Profile, models, datasets Fetcher) *Preparer {
	return &Preparer{logger: logger, profile: profile, modelFetcher: models, datasetFetcher: datasets}
}

// Prepare ensures every ref and every task dataset is usable from the shared
// caches. Independent resources are fetched by a bounded worker pool; a
// failure preparing one resource marks it unavailable and the rest continue.
func (p *Preparer) Prepare(ctx context.Context, refs []api.ResourceRef, tasks []string) (*Report, error) {
	report := &Report{}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.profile.PrepareWorkers)

	for _, ref := range refs {
		group.Go(func() error {
			p.prepareRef(groupCtx, ref, report)
			return nil
		})
	}
	for _, key := range DistinctDatasetKeys(tasks) {
		group.Go(func() error {
			p.prepareDataset(groupCtx, key, report)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}

	sortReport(report)
	p.logger.Info("Resource preparation finished",
		"prepared", len(report.Prepared),
		"unavailable", len(report.Unavailable),
		"datasets", len(report.Datasets),
	)
	return report, nil
}

func (p *Preparer) prepareRef(ctx context.Context, ref api.ResourceRef, report *Report) {
	if ref.Local {
		if isCheckpoint(ref.Name) {
			report.addPrepared(PreparedResource{Ref: ref, Path: ref.Name, Cached: true})
			return
		}
		err := runerrors.NewResourcePreparationError(ref.Name, fmt.Errorf("no *.safetensors under %s", ref.Name))
		p.logger.Warn(err.Error())
		report.addUnavailable(FailedResource{Ref: ref, Err: err})
		return
	}

	path, cached, err := p.ensureCached(ctx, p.profile.ModelCacheDir, ref, p.modelFetcher)
	if err != nil {
		rerr := runerrors.NewResourcePreparationError(ref.ModelArg(), err)
		p.logger.Warn(rerr.Error())
		report.addUnavailable(FailedResource{Ref: ref, Err: rerr})
		return
	}
	report.addPrepared(PreparedResource{Ref: ref, Path: path, Cached: cached})
}

func (p *Preparer) prepareDataset(ctx context.Context, key string, report *Report) {
	ref := api.ResourceRef{Name: key}
	path, cached, err := p.ensureCached(ctx, p.profile.DatasetCacheDir, ref, p.datasetFetcher)
	if err != nil {
		// dataset warm-up is best effort: the harness can still fetch at
		// runtime on clusters whose compute nodes have network access
		p.logger.Warn("Failed to pre-download dataset", "dataset", key, "error", err.Error())
		return
	}
	report.addDataset(PreparedResource{Ref: ref, Path: path, Cached: cached})
}

// ensureCached implements the idempotent cache-key discipline: a published
// marker directory means done; otherwise fetch under the key's advisory lock
// into a temp dir and atomically rename into place, so concurrent preparers
// never observe a partially written entry.
func (p *Preparer) ensureCached(ctx context.Context, cacheDir string, ref api.ResourceRef, fetcher Fetcher) (string, bool, error) {
	target := filepath.Join(cacheDir, ref.Key())
	if _, err := os.Stat(target); err == nil {
		p.logger.Debug("Cache entry already published", "key", ref.Key())
		return target, true, nil
	}
	if err := os.MkdirAll(cacheDir, 0o777); err != nil {
		return "", false, err
	}

	lock, err := acquireLock(ctx, p.logger, filepath.Join(cacheDir, ".locks"), ref.Key(), p.profile.LockStaleTimeout)
	if err != nil {
		return "", false, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			p.logger.Warn("Failed to release cache lock", "key", ref.Key(), "error", err.Error())
		}
	}()

	// another holder may have published while we waited for the lock
	if _, err := os.Stat(target); err == nil {
		return target, true, nil
	}

	tmp, err := os.MkdirTemp(cacheDir, ".tmp-"+ref.Key()+"-")
	if err != nil {
		return "", false, err
	}
	defer os.RemoveAll(tmp)

	p.logger.Info("Fetching resource", "resource", ref.ModelArg(), "dst", target)
	if err := fetcher.Fetch(ctx, ref, tmp); err != nil {
		return "", false, err
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", false, err
	}
	return target, false, nil
}

// DistinctDatasetKeys maps task names to their underlying dataset keys,
// deduplicated. Task variants share a dataset (hellaswag:10shot and
// hellaswag both warm "hellaswag"), so the key is the task name up to the
// first variant separator.
func DistinctDatasetKeys(tasks []string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, task := range tasks {
		key := task
		if i := strings.IndexAny(key, ":|"); i >= 0 {
			key = key[:i]
		}
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

func sortReport(report *Report) {
	sort.Slice(report.Prepared, func(i, j int) bool {
		return report.Prepared[i].Ref.Key() < report.Prepared[j].Ref.Key()
	})
	sort.Slice(report.Unavailable, func(i, j int) bool {
		return report.Unavailable[i].Ref.Key() < report.Unavailable[j].Ref.Key()
	})
	sort.Slice(report.Datasets, func(i, j int) bool {
		return report.Datasets[i].Ref.Key() < report.Datasets[j].Ref.Key()
	})
}
