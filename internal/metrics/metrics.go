// Package metrics exports backup and cleanup results in the Prometheus
// text format for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackwell-systems/snapferry/internal/replicator"
	"github.com/blackwell-systems/snapferry/internal/retention"
)

// Run kinds used as the "kind" label.
const (
	KindBackup  = "backup"
	KindCleanup = "cleanup"
)

// Recorder holds the snapferry metrics in a private registry.
type Recorder struct {
	registry  *prometheus.Registry
	transfers *prometheus.CounterVec
	deletions *prometheus.CounterVec
	lastRun   *prometheus.GaugeVec
	duration  *prometheus.GaugeVec
}

// New creates a Recorder with every metric registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapferry_transfers_total",
			Help: "Replication directives by action and outcome.",
		}, []string{"action", "status"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapferry_deletions_total",
			Help: "Retention deletions by outcome.",
		}, []string{"status"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snapferry_last_run_timestamp_seconds",
			Help: "Unix time the last run of each kind finished.",
		}, []string{"kind"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snapferry_run_duration_seconds",
			Help: "Duration of the last run of each kind.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.transfers, r.deletions, r.lastRun, r.duration)
	return r
}

// RecordBackup adds a replication report.
func (r *Recorder) RecordBackup(report *replicator.Report) {
	for _, o := range report.Outcomes {
		r.transfers.WithLabelValues(o.Directive.Action.String(), o.Status()).Inc()
	}
	r.observeRun(KindBackup, report.StartedAt, report.FinishedAt)
}

// RecordCleanup adds a retention result.
func (r *Recorder) RecordCleanup(result *retention.Result, started, finished time.Time) {
	r.deletions.WithLabelValues("ok").Add(float64(len(result.Deleted)))
	r.deletions.WithLabelValues("failed").Add(float64(len(result.Failed)))
	r.observeRun(KindCleanup, started, finished)
}

func (r *Recorder) observeRun(kind string, started, finished time.Time) {
	r.lastRun.WithLabelValues(kind).Set(float64(finished.Unix()) + float64(finished.Nanosecond())/1e9)
	r.duration.WithLabelValues(kind).Set(finished.Sub(started).Seconds())
}

// WriteTextfile writes every metric to path, creating its directory.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
