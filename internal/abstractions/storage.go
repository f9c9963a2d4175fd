package abstractions

import (
	"context"
	"log/slog"
	"time"

	"github.com/oellm/evalsched/pkg/api"
)

type QueryResults[T any] struct {
	Items       []T
	TotalStored int
}

type Storage interface {
	WithLogger(logger *slog.Logger) Storage
	WithContext(ctx context.Context) Storage

	// This is used to identify the storage implementation in the logs and error messages
	GetDatasourceName() string

	Ping(timeout time.Duration) error

	// Run operations
	CreateRun(config *api.RunConfig, cluster string, outputDir string) (*api.RunResource, error)
	GetRun(id string) (*api.RunResource, error)
	GetRuns(limit int, offset int, stateFilter string) (*QueryResults[api.RunResource], error)
	UpdateRunState(id string, state api.RunState, message *api.MessageInfo) error
	UpdateRunSubmission(id string, slurmJobID int64, jobCount int) error

	// Array-task status operations
	RecordTaskStatus(runID string, event *api.TaskStatusEvent) error
	GetTaskStatuses(runID string) ([]api.TaskStatusEvent, error)

	// Close the storage connection
	Close() error
}

// This interface must stay decoupled from the CLI layer. Do not pass cobra
// commands or flag sets through it.
