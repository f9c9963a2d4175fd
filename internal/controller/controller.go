package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oellm/evalsched/internal/abstractions"
	"github.com/oellm/evalsched/internal/cluster"
	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/metrics"
	"github.com/oellm/evalsched/internal/retry"
	"github.com/oellm/evalsched/internal/runerrors"
	"github.com/oellm/evalsched/pkg/api"
)

// Batch is the handle for one submitted array job, together with the
// per-attempt throttle state. Its lifecycle ends when Monitor observes a
// terminal state for every array index or the ceiling is reached.
type Batch struct {
	JobID          int64
	ArraySize      int
	LastQueueDepth int
	BackoffCount   int
}

// Controller drives submission and monitoring against the external
// scheduler. The queue is a shared, concurrently mutating resource: every
// throttle decision here is advisory and re-validated by the scheduler at
// submit time, so a rejection after a favorable poll is a retryable
// condition, not a logic error.
type Controller struct {
	logger    *slog.Logger
	profile   *cluster.Profile
	scheduler abstractions.Scheduler
	storage   abstractions.Storage
	metrics   *metrics.RunMetrics

	lastQueueDepth int
}

func New(logger *slog.Logger, profile *cluster.Profile, scheduler abstractions.Scheduler, storage abstractions.Storage, m *metrics.RunMetrics) *Controller {
	return &Controller{
		logger:    logger,
		profile:   profile,
		scheduler: scheduler,
		storage:   storage,
		metrics:   m,
	}
}

// RemainingQuota samples the queue and returns how many more tasks the user
// may put on it under the cluster's limit. Never negative.
func (c *Controller) RemainingQuota(ctx context.Context) (int, error) {
	depth, err := c.scheduler.QueueDepth(ctx)
	if err != nil {
		return 0, err
	}
	c.metrics.QueueDepth.Set(float64(depth))
	c.lastQueueDepth = depth
	remaining := c.profile.QueueLimit - depth
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// AwaitQuota blocks until the queue has capacity for at least one more
// task, re-sampling at the configured poll interval. The wait is bounded:
// once the budget is exhausted the run fails with a queue-timeout error and
// the user re-runs the tool later.
func (c *Controller) AwaitQuota(ctx context.Context) (int, error) {
	deadline := time.Now().Add(c.profile.QueueWaitBudget)
	for {
		remaining, err := c.RemainingQuota(ctx)
		if err != nil {
			return 0, err
		}
		if remaining > 0 {
			return remaining, nil
		}
		c.logger.Warn("Queue is at capacity, deferring submission",
			"limit", c.profile.QueueLimit,
			"poll_interval", c.profile.QueuePollInterval.String(),
		)
		if time.Now().After(deadline) {
			return 0, runerrors.NewQueueTimeoutError(c.profile.QueueLimit, c.profile.QueueWaitBudget.String())
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(c.profile.QueuePollInterval):
		}
	}
}

// Submit hands the rendered script to the scheduler. Transient rejections
// are retried with exponential backoff up to the configured attempt cap;
// a malformed submission is fatal on the first rejection.
func (c *Controller) Submit(ctx context.Context, runID string, batchScript string, arraySize int) (*Batch, error) {
	if err := c.storage.UpdateRunState(runID, api.RunStateSubmitting, nil); err != nil {
		return nil, err
	}

	backoff := retry.ExponentialBackoff(5*time.Second, 2)
	batch := &Batch{ArraySize: arraySize, LastQueueDepth: c.lastQueueDepth}

	var lastErr error
	for attempt := 1; attempt <= c.profile.SubmitAttempts; attempt++ {
		c.metrics.SubmitAttempts.Inc()
		jobID, err := c.scheduler.Submit(ctx, &abstractions.SubmitRequest{
			Script:    batchScript,
			Partition: c.profile.Partition,
			Account:   c.profile.Account,
		})
		if err == nil {
			batch.JobID = jobID
			c.logger.Info("Array job submitted", "slurm_job_id", jobID, "array_size", arraySize, "attempt", attempt)
			if err := c.storage.UpdateRunSubmission(runID, jobID, arraySize); err != nil {
				return nil, err
			}
			return batch, nil
		}
		if errors.Is(err, abstractions.ErrMalformedSubmission) {
			return nil, runerrors.NewSchedulerSubmissionError(err, false)
		}

		lastErr = err
		batch.BackoffCount++
		c.logger.Warn("Submission rejected, will retry",
			"attempt", attempt,
			"max_attempts", c.profile.SubmitAttempts,
			"error", err.Error(),
		)
		if attempt < c.profile.SubmitAttempts {
			if err := backoff(ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, runerrors.New(messages.SubmissionExhausted, "Attempts", c.profile.SubmitAttempts, "Error", lastErr.Error())
}

// Monitor polls the scheduler until every array index is terminal or the
// wall-clock ceiling passes. Individual task failures never stop the
// monitoring of the rest; they only decide between completed and degraded.
func (c *Controller) Monitor(ctx context.Context, runID string, batch *Batch) (api.RunState, error) {
	if err := c.storage.UpdateRunState(runID, api.RunStateMonitoring, nil); err != nil {
		return api.RunStateFailed, err
	}

	deadline := time.Now().Add(c.profile.MonitorCeiling)
	lastState := make(map[int]api.State, batch.ArraySize)

	for {
		c.metrics.MonitorPolls.Inc()
		statuses, err := c.scheduler.ArrayStatus(ctx, batch.JobID)
		if err != nil {
			// polls race job registration and scheduler restarts; keep going
			c.logger.Warn("Status poll failed", "slurm_job_id", batch.JobID, "error", err.Error())
		} else {
			c.recordChanges(runID, statuses, lastState)
		}

		if done, final := c.settled(batch, lastState); done {
			c.logger.Info("All array tasks reached a terminal state", "slurm_job_id", batch.JobID, "final", final.String())
			return final, nil
		}
		if time.Now().After(deadline) {
			c.logger.Warn("Monitoring ceiling reached before all tasks finished",
				"slurm_job_id", batch.JobID,
				"ceiling", c.profile.MonitorCeiling.String(),
			)
			return api.RunStateDegraded, nil
		}
		select {
		case <-ctx.Done():
			return api.RunStateDegraded, ctx.Err()
		case <-time.After(c.profile.MonitorInterval):
		}
	}
}

func (c *Controller) recordChanges(runID string, statuses []abstractions.TaskStatus, lastState map[int]api.State) {
	counts := make(map[api.State]int)
	for _, status := range statuses {
		counts[status.State]++
		if lastState[status.Index] == status.State {
			continue
		}
		lastState[status.Index] = status.State
		now := time.Now().UTC()
		event := &api.TaskStatusEvent{
			Index:      status.Index,
			Status:     status.State,
			ExitCode:   status.ExitCode,
			ObservedAt: &now,
		}
		if err := c.storage.RecordTaskStatus(runID, event); err != nil {
			c.logger.Error("Failed to record task status", "index", status.Index, "error", err.Error())
		}
	}
	for state, n := range counts {
		c.metrics.TasksByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

// settled reports whether every array index is terminal, and if so the
// final run state: completed when all succeeded, degraded when some failed.
func (c *Controller) settled(batch *Batch, lastState map[int]api.State) (bool, api.RunState) {
	if len(lastState) < batch.ArraySize {
		return false, api.RunStateMonitoring
	}
	failed := 0
	for i := 0; i < batch.ArraySize; i++ {
		state, ok := lastState[i]
		if !ok || !state.Terminal() {
			return false, api.RunStateMonitoring
		}
		if state != api.StateCompleted {
			failed++
		}
	}
	if failed > 0 {
		return true, api.RunStateDegraded
	}
	return true, api.RunStateCompleted
}

// Cancel asks the scheduler to cancel the batch and re-polls until the
// cancellation is actually observed; scancel returning is not proof the
// tasks are gone.
func (c *Controller) Cancel(ctx context.Context, batch *Batch) error {
	if err := c.scheduler.Cancel(ctx, batch.JobID); err != nil {
		return err
	}
	confirm := retry.StaticBackoff(c.profile.QueuePollInterval)
	for {
		statuses, err := c.scheduler.ArrayStatus(ctx, batch.JobID)
		if err == nil {
			terminal := true
			for _, status := range statuses {
				if !status.State.Terminal() {
					terminal = false
					break
				}
			}
			if terminal && len(statuses) > 0 {
				return nil
			}
		}
		if err := confirm(ctx); err != nil {
			return err
		}
	}
}
