package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics collects counters for one scheduling run. The CLI has no
// endpoint to scrape, so the registry is dumped into the run directory in
// the node-exporter textfile format when the run finishes.
type RunMetrics struct {
	registry *prometheus.Registry

	ResourcesPrepared    prometheus.Counter
	ResourcesCached      prometheus.Counter
	ResourcesUnavailable prometheus.Counter
	ManifestRows         prometheus.Gauge
	QueueDepth           prometheus.Gauge
	SubmitAttempts       prometheus.Counter
	MonitorPolls         prometheus.Counter
	TasksByState         *prometheus.GaugeVec
}

func New() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		ResourcesPrepared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evalsched_resources_prepared_total",
			Help: "Resources confirmed present in the shared cache.",
		}),
		ResourcesCached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evalsched_resources_cached_total",
			Help: "Resources that were already published and needed no fetch.",
		}),
		ResourcesUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evalsched_resources_unavailable_total",
			Help: "Resources that failed preparation and were excluded.",
		}),
		ManifestRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evalsched_manifest_rows",
			Help: "Evaluation jobs in the generated manifest.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evalsched_queue_depth",
			Help: "Last observed queued/running task count for the invoking user.",
		}),
		SubmitAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evalsched_submit_attempts_total",
			Help: "sbatch submission attempts, including retries.",
		}),
		MonitorPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evalsched_monitor_polls_total",
			Help: "Status polls performed while monitoring the array job.",
		}),
		TasksByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evalsched_tasks",
			Help: "Array tasks by last observed state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.ResourcesPrepared,
		m.ResourcesCached,
		m.ResourcesUnavailable,
		m.ManifestRows,
		m.QueueDepth,
		m.SubmitAttempts,
		m.MonitorPolls,
		m.TasksByState,
	)
	return m
}

// WriteTextfile dumps the registry to path in the textfile-collector format.
func (m *RunMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
