package abstractions

import (
	"context"
	"errors"

	"github.com/oellm/evalsched/pkg/api"
)

// ErrMalformedSubmission marks a submission rejection caused by the request
// itself (bad partition, bad directive). It is never retried; transient
// rejections do not wrap it.
var ErrMalformedSubmission = errors.New("malformed submission")

// SubmitRequest describes one array-job submission to the batch scheduler.
type SubmitRequest struct {
	// Script is the fully rendered batch script, piped on stdin.
	Script string
	// Partition and Account identify the allocation the job runs under.
	Partition string
	Account   string
}

// TaskStatus is the scheduler's view of one array index.
type TaskStatus struct {
	Index    int
	State    api.State
	ExitCode string
}

// Scheduler abstracts the external batch scheduler. The concrete
// implementation shells out to the Slurm binaries; no other place in the
// code should point at sbatch/squeue/sacct directly.
type Scheduler interface {
	Name() string

	// QueueDepth returns how many tasks the invoking user currently has
	// queued or running. The value is advisory: other tenants mutate the
	// queue between a poll and the subsequent submit.
	QueueDepth(ctx context.Context) (int, error)

	// Submit submits an array job and returns the external job id.
	Submit(ctx context.Context, req *SubmitRequest) (int64, error)

	// ArrayStatus reports the state of every array index of jobID.
	ArrayStatus(ctx context.Context, jobID int64) ([]TaskStatus, error)

	// Cancel requests cancellation of the array job. Cancellation is not
	// assumed to complete synchronously; callers re-poll ArrayStatus.
	Cancel(ctx context.Context, jobID int64) error
}
