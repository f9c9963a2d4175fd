package features

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"

	"github.com/oellm/evalsched/internal/abstractions"
	"github.com/oellm/evalsched/internal/cluster"
	"github.com/oellm/evalsched/internal/config"
	"github.com/oellm/evalsched/internal/controller"
	"github.com/oellm/evalsched/internal/logging"
	"github.com/oellm/evalsched/internal/manifest"
	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/metrics"
	"github.com/oellm/evalsched/internal/runerrors"
)

type testContext struct {
	clusters *config.ClustersFile
	profile  *cluster.Profile

	models []string
	tasks  []string
	shots  []int
	jobs   *manifest.Manifest

	queueDepths []int
	quota       int

	lastError error
}

func (tc *testContext) reset() {
	*tc = testContext{}
}

// scriptedScheduler replays queue depths, one per poll.
type scriptedScheduler struct {
	mu     sync.Mutex
	depths []int
}

func (s *scriptedScheduler) Name() string { return "scripted" }

func (s *scriptedScheduler) QueueDepth(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := s.depths[0]
	if len(s.depths) > 1 {
		s.depths = s.depths[1:]
	}
	return depth, nil
}

func (s *scriptedScheduler) Submit(context.Context, *abstractions.SubmitRequest) (int64, error) {
	return 0, fmt.Errorf("not scripted")
}

func (s *scriptedScheduler) ArrayStatus(context.Context, int64) ([]abstractions.TaskStatus, error) {
	return nil, nil
}

func (s *scriptedScheduler) Cancel(context.Context, int64) error { return nil }

func baseSettings() map[string]any {
	return map[string]any{
		"partition":         "gpu",
		"account":           "proj",
		"time_limit":        "04:00:00",
		"gpus_per_node":     4,
		"model_cache_dir":   "/shared/models",
		"dataset_cache_dir": "/shared/datasets",
		"output_root":       "/shared/evals",
		"queue_limit":       100,
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		out = append(out, strings.TrimSpace(item))
	}
	return out
}

func (tc *testContext) aCatalogEntry(name, pattern string) error {
	tc.clusters = &config.ClustersFile{
		Shared: baseSettings(),
		Clusters: []config.ClusterEntry{
			{Name: name, HostnamePattern: pattern},
		},
	}
	return nil
}

func (tc *testContext) aSharedQueueLimit(limit int) error {
	shared := baseSettings()
	shared["queue_limit"] = limit
	tc.clusters = &config.ClustersFile{Shared: shared}
	return nil
}

func (tc *testContext) anEntryOverridingQueueLimit(name, pattern string, limit int) error {
	if tc.clusters == nil {
		return fmt.Errorf("no catalog set up")
	}
	tc.clusters.Clusters = append(tc.clusters.Clusters, config.ClusterEntry{
		Name:            name,
		HostnamePattern: pattern,
		Settings:        map[string]any{"queue_limit": limit},
	})
	return nil
}

func (tc *testContext) resolveHostname(hostname string) error {
	tc.profile, tc.lastError = cluster.Resolve(logging.FallbackLogger(), tc.clusters, hostname)
	return nil
}

func (tc *testContext) resolvedClusterIs(name string) error {
	if tc.lastError != nil {
		return fmt.Errorf("resolution failed: %w", tc.lastError)
	}
	if tc.profile.Name != name {
		return fmt.Errorf("resolved %s, expected %s", tc.profile.Name, name)
	}
	return nil
}

func (tc *testContext) resolutionFails() error {
	if tc.lastError == nil {
		return fmt.Errorf("resolution unexpectedly succeeded for %s", tc.profile.Name)
	}
	return nil
}

func (tc *testContext) resolvedQueueLimitIs(limit int) error {
	if tc.lastError != nil {
		return fmt.Errorf("resolution failed: %w", tc.lastError)
	}
	if tc.profile.QueueLimit != limit {
		return fmt.Errorf("queue limit is %d, expected %d", tc.profile.QueueLimit, limit)
	}
	return nil
}

func (tc *testContext) theModels(models string) error {
	tc.models = splitList(models)
	return nil
}

func (tc *testContext) theTasks(tasks string) error {
	tc.tasks = splitList(tasks)
	return nil
}

func (tc *testContext) theShotCounts(shots string) error {
	for _, s := range splitList(shots) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		tc.shots = append(tc.shots, n)
	}
	return nil
}

func (tc *testContext) manifestIsBuilt() error {
	tc.jobs, tc.lastError = manifest.Build(logging.FallbackLogger(), tc.models, tc.tasks, tc.shots, nil, true)
	return nil
}

func (tc *testContext) manifestHasJobs(count int) error {
	if tc.lastError != nil {
		return fmt.Errorf("manifest build failed: %w", tc.lastError)
	}
	if len(tc.jobs.Jobs) != count {
		return fmt.Errorf("manifest has %d jobs, expected %d", len(tc.jobs.Jobs), count)
	}
	return nil
}

func (tc *testContext) ordinalsMatchRowIndexes() error {
	for i, job := range tc.jobs.Jobs {
		if job.Index != i {
			return fmt.Errorf("row %d carries ordinal %d", i, job.Index)
		}
	}
	return nil
}

func (tc *testContext) aClusterWithQueueLimit(limit int) error {
	tc.profile = &cluster.Profile{
		Name:              "feature-test",
		QueueLimit:        limit,
		QueuePollInterval: 10 * time.Millisecond,
		QueueWaitBudget:   100 * time.Millisecond,
	}
	return nil
}

func (tc *testContext) queueHoldsThen(first, second int) error {
	tc.queueDepths = []int{first, second}
	return nil
}

func (tc *testContext) queueStaysAt(depth int) error {
	tc.queueDepths = []int{depth}
	return nil
}

func (tc *testContext) waitForQuota() error {
	sched := &scriptedScheduler{depths: tc.queueDepths}
	ctrl := controller.New(logging.FallbackLogger(), tc.profile, sched, nil, metrics.New())
	tc.quota, tc.lastError = ctrl.AwaitQuota(context.Background())
	return nil
}

func (tc *testContext) remainingQuotaIs(quota int) error {
	if tc.lastError != nil {
		return fmt.Errorf("waiting failed: %w", tc.lastError)
	}
	if tc.quota != quota {
		return fmt.Errorf("remaining quota is %d, expected %d", tc.quota, quota)
	}
	return nil
}

func (tc *testContext) waitingTimesOut() error {
	if tc.lastError == nil {
		return fmt.Errorf("waiting unexpectedly succeeded with quota %d", tc.quota)
	}
	if got := runerrors.AsRunError(tc.lastError).Stage(); got != messages.StageSubmit {
		return fmt.Errorf("error carries stage %s, expected the submit stage", got)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &testContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^a cluster catalog with an entry "([^"]*)" matching "([^"]*)"$`, tc.aCatalogEntry)
	ctx.Step(`^a cluster catalog with a shared queue limit of (\d+)$`, tc.aSharedQueueLimit)
	ctx.Step(`^the entry "([^"]*)" matching "([^"]*)" overrides the queue limit to (\d+)$`, tc.anEntryOverridingQueueLimit)
	ctx.Step(`^the tool resolves the hostname "([^"]*)"$`, tc.resolveHostname)
	ctx.Step(`^the resolved cluster is "([^"]*)"$`, tc.resolvedClusterIs)
	ctx.Step(`^cluster resolution fails$`, tc.resolutionFails)
	ctx.Step(`^the resolved queue limit is (\d+)$`, tc.resolvedQueueLimitIs)

	ctx.Step(`^the models "([^"]*)"$`, tc.theModels)
	ctx.Step(`^the tasks "([^"]*)"$`, tc.theTasks)
	ctx.Step(`^the shot counts "([^"]*)"$`, tc.theShotCounts)
	ctx.Step(`^the manifest is built$`, tc.manifestIsBuilt)
	ctx.Step(`^the manifest has (\d+) jobs$`, tc.manifestHasJobs)
	ctx.Step(`^every job carries its row index as ordinal$`, tc.ordinalsMatchRowIndexes)

	ctx.Step(`^a cluster with a queue limit of (\d+)$`, tc.aClusterWithQueueLimit)
	ctx.Step(`^the queue currently holds (\d+) then (\d+) tasks$`, tc.queueHoldsThen)
	ctx.Step(`^the queue stays at (\d+) tasks$`, tc.queueStaysAt)
	ctx.Step(`^the tool waits for quota$`, tc.waitForQuota)
	ctx.Step(`^the reported remaining quota is (\d+)$`, tc.remainingQuotaIs)
	ctx.Step(`^waiting fails with a queue timeout$`, tc.waitingTimesOut)
}
