package cluster

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Profile is the resolved, merged configuration for one HPC site. It is
// immutable once resolved: every downstream component reads it, nothing
// writes it back.
type Profile struct {
	Name            string `mapstructure:"name" validate:"required"`
	HostnamePattern string `mapstructure:"hostname_pattern"`

	// Scheduler identity
	Partition string `mapstructure:"partition" validate:"required"`
	Account   string `mapstructure:"account" validate:"required"`
	TimeLimit string `mapstructure:"time_limit" validate:"required"`

	GPUsPerNode int `mapstructure:"gpus_per_node" validate:"min=1"`

	// Base storage paths on the shared filesystem
	ModelCacheDir   string `mapstructure:"model_cache_dir" validate:"required"`
	DatasetCacheDir string `mapstructure:"dataset_cache_dir" validate:"required"`
	OutputRoot      string `mapstructure:"output_root" validate:"required"`

	// QueueLimit bounds how many of this user's tasks may sit queued or
	// running at once on the shared scheduler.
	QueueLimit int `mapstructure:"queue_limit" validate:"min=1"`

	// Evaluation harness invocation
	ContainerImage string `mapstructure:"container_image"`
	SIFPath        string `mapstructure:"sif_path"`
	HarnessCommand string `mapstructure:"harness_command"`

	// SkipUnavailable controls whether manifest rows referencing resources
	// that failed preparation are dropped (true) or abort the build (false).
	// Nil means the default, which is to drop.
	SkipUnavailable *bool `mapstructure:"skip_unavailable"`

	// Submission and monitoring knobs; zero values fall back to defaults.
	QueuePollInterval time.Duration `mapstructure:"queue_poll_interval"`
	QueueWaitBudget   time.Duration `mapstructure:"queue_wait_budget"`
	SubmitAttempts    int           `mapstructure:"submit_attempts"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	MonitorCeiling    time.Duration `mapstructure:"monitor_ceiling"`

	// Resource preparation knobs
	PrepareWorkers   int           `mapstructure:"prepare_workers"`
	LockStaleTimeout time.Duration `mapstructure:"lock_stale_timeout"`

	// ResultMetricPaths maps a metric label to a jsonpath expression applied
	// to each harness result artifact when summarizing a finished run.
	ResultMetricPaths map[string]string `mapstructure:"result_metric_paths"`

	// Database holds the run-history storage configuration; empty means a
	// sqlite database inside the run directory.
	Database map[string]any `mapstructure:"database"`

	// Env is exported verbatim by Materialize, for harness knobs the
	// profile itself has no field for.
	Env map[string]string `mapstructure:"env"`
}

const (
	defaultQueuePollInterval = 30 * time.Second
	defaultQueueWaitBudget   = 30 * time.Minute
	defaultSubmitAttempts    = 4
	defaultMonitorInterval   = time.Minute
	defaultMonitorCeiling    = 48 * time.Hour
	defaultPrepareWorkers    = 4
	defaultLockStaleTimeout  = 30 * time.Minute
)

// applyDefaults fills the optional knobs that were left at their zero value.
func (p *Profile) applyDefaults() {
	if p.QueuePollInterval == 0 {
		p.QueuePollInterval = defaultQueuePollInterval
	}
	if p.QueueWaitBudget == 0 {
		p.QueueWaitBudget = defaultQueueWaitBudget
	}
	if p.SubmitAttempts == 0 {
		p.SubmitAttempts = defaultSubmitAttempts
	}
	if p.MonitorInterval == 0 {
		p.MonitorInterval = defaultMonitorInterval
	}
	if p.MonitorCeiling == 0 {
		p.MonitorCeiling = defaultMonitorCeiling
	}
	if p.PrepareWorkers == 0 {
		p.PrepareWorkers = defaultPrepareWorkers
	}
	if p.LockStaleTimeout == 0 {
		p.LockStaleTimeout = defaultLockStaleTimeout
	}
}

// SkipUnavailableRows reports the configured partial-unavailability policy.
func (p *Profile) SkipUnavailableRows() bool {
	if p.SkipUnavailable == nil {
		return true
	}
	return *p.SkipUnavailable
}

func (p *Profile) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(p)
}
