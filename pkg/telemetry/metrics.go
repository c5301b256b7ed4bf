package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the detector's run counters. They live on a private registry
// and are exported through a node_exporter textfile, since a batch run has
// no scrape window.
type Metrics struct {
	Registry *prometheus.Registry

	Runs               *prometheus.CounterVec
	Partitions         prometheus.Counter
	ObjectsStaged      prometheus.Counter
	FetchFailures      prometheus.Counter
	ValidationFailures prometheus.Counter
	FilesScanned       prometheus.Counter
	ParseFailures      prometheus.Counter
	RecordsScanned     prometheus.Counter
	RecordsAdmitted    prometheus.Counter
	Hits               prometheus.Counter
	RuleHits           *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	LastRun            prometheus.Gauge
}

// NewMetrics registers the detector metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "awsnare_runs_total", Help: "Detection runs by outcome.",
		}, []string{"outcome"}),
		Partitions: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_partitions_total", Help: "Log partitions enumerated.",
		}),
		ObjectsStaged: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_objects_staged_total", Help: "Log archives downloaded to staging.",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_fetch_failures_total", Help: "Objects or listings that could not be staged.",
		}),
		ValidationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_validation_failures_total", Help: "Staged archives that failed to decode.",
		}),
		FilesScanned: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_files_scanned_total", Help: "Staged archives scanned.",
		}),
		ParseFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_parse_failures_total", Help: "Archives skipped as malformed.",
		}),
		RecordsScanned: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_records_scanned_total", Help: "CloudTrail records decoded.",
		}),
		RecordsAdmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_records_admitted_total", Help: "Records mentioning a decoy.",
		}),
		Hits: f.NewCounter(prometheus.CounterOpts{
			Name: "awsnare_hits_total", Help: "Hits persisted.",
		}),
		RuleHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "awsnare_rule_hits_total", Help: "Matched records per rule.",
		}, []string{"rule"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "awsnare_run_duration_seconds",
			Help:    "Wall time of a detection run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "awsnare_last_run_timestamp_seconds", Help: "Completion time of the last run.",
		}),
	}
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
