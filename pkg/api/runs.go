package api

import (
	"fmt"
	"strings"
	"time"
)

// State represents the per-array-task state enum
type State string

const (
	StatePending   State = "pending"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether a task in this state will never change state again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// RunState represents the overall run state machine.
type RunState string

const (
	RunStateBuilding   RunState = "building"
	RunStateSubmitting RunState = "submitting"
	RunStateMonitoring RunState = "monitoring"
	RunStateCompleted  RunState = "completed"
	RunStateDegraded   RunState = "degraded"
	RunStateFailed     RunState = "failed"
)

func (r RunState) String() string {
	return string(r)
}

func GetRunState(s string) (RunState, error) {
	switch s {
	case string(RunStateBuilding):
		return RunStateBuilding, nil
	case string(RunStateSubmitting):
		return RunStateSubmitting, nil
	case string(RunStateMonitoring):
		return RunStateMonitoring, nil
	case string(RunStateCompleted):
		return RunStateCompleted, nil
	case string(RunStateDegraded):
		return RunStateDegraded, nil
	case string(RunStateFailed):
		return RunStateFailed, nil
	default:
		return RunState(s), fmt.Errorf("invalid run state: %s", s)
	}
}

// ResourceRef identifies a model or dataset, either as a hub repository
// (name plus optional revision) or as a local filesystem path.
type ResourceRef struct {
	Name     string `json:"name" validate:"required"`
	Revision string `json:"revision,omitempty"`
	Local    bool   `json:"local,omitempty"`
}

// Key returns the cache key for the ref. Hub refs are keyed by
// (name, revision) with path separators flattened; local refs key on the
// path itself and are never fetched.
func (r ResourceRef) Key() string {
	key := strings.ReplaceAll(r.Name, "/", "--")
	if r.Revision != "" {
		key += "@" + r.Revision
	}
	return key
}

// ModelArg returns the model argument string handed to the evaluation
// harness: the bare name, or "name,revision=rev" for pinned hub refs.
func (r ResourceRef) ModelArg() string {
	if r.Revision == "" {
		return r.Name
	}
	return r.Name + ",revision=" + r.Revision
}

// ParseResourceRef parses a user-supplied model string. Anything containing
// "key=value" segments after the first comma is treated as a hub ref with
// arguments; only "revision" is understood today.
func ParseResourceRef(s string) ResourceRef {
	parts := strings.Split(s, ",")
	ref := ResourceRef{Name: parts[0]}
	for _, kv := range parts[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == "revision" {
			ref.Revision = v
		}
	}
	return ref
}

// EvalJob is one unit of evaluation work, uniquely identified by the
// (model, task, shots) triple. Index is the scheduler array-task ordinal
// assigned at manifest build time.
type EvalJob struct {
	ModelPath string `json:"model_path" validate:"required"`
	TaskPath  string `json:"task_path" validate:"required"`
	NumShot   int    `json:"n_shot" validate:"min=0"`
	Index     int    `json:"index"`
	Status    State  `json:"status,omitempty"`
}

// TripleKey returns the dedup identity of the job.
func (j EvalJob) TripleKey() string {
	return fmt.Sprintf("%s\x00%s\x00%d", j.ModelPath, j.TaskPath, j.NumShot)
}

// RunConfig is the user request that produced a run.
type RunConfig struct {
	Models       []string `json:"models,omitempty"`
	Tasks        []string `json:"tasks,omitempty"`
	NumShots     []int    `json:"n_shots,omitempty"`
	ManifestCSV  string   `json:"manifest_csv,omitempty"`
	DownloadOnly bool     `json:"download_only,omitempty"`
}

// RunResource is the stored record of one scheduling run.
type RunResource struct {
	Resource
	Cluster     string       `json:"cluster"`
	State       RunState     `json:"state"`
	Config      RunConfig    `json:"config"`
	OutputDir   string       `json:"output_dir,omitempty"`
	SlurmJobID  int64        `json:"slurm_job_id,omitempty"`
	JobCount    int          `json:"job_count"`
	Message     *MessageInfo `json:"message,omitempty"`
	SubmittedAt *time.Time   `json:"submitted_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// TaskStatusEvent records one observed state change of an array task.
type TaskStatusEvent struct {
	Index      int        `json:"index"`
	Status     State      `json:"status"`
	ExitCode   string     `json:"exit_code,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}
