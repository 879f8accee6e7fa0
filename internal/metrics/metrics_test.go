package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/snapferry/internal/replicator"
	"github.com/blackwell-systems/snapferry/internal/retention"
)

var (
	started  = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	finished = started.Add(90 * time.Second)
)

func TestRecordBackup(t *testing.T) {
	r := New()
	report := &replicator.Report{
		StartedAt:  started,
		FinishedAt: finished,
		Outcomes: []replicator.Outcome{
			{Directive: replicator.Directive{Action: replicator.ActionIncremental}},
			{Directive: replicator.Directive{Action: replicator.ActionIncremental}},
			{Directive: replicator.Directive{Action: replicator.ActionFull}, Err: errors.New("boom")},
			{Directive: replicator.Directive{Action: replicator.ActionSkip}},
		},
	}

	r.RecordBackup(report)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transfers.WithLabelValues("incremental", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transfers.WithLabelValues("full", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transfers.WithLabelValues("skip", "skipped")))
	assert.Equal(t, 90.0, testutil.ToFloat64(r.duration.WithLabelValues(KindBackup)))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(r.lastRun.WithLabelValues(KindBackup)))
}

func TestRecordCleanup(t *testing.T) {
	r := New()
	result := &retention.Result{
		Deleted: make([]retention.Decision, 3),
		Failed:  make([]retention.Failure, 1),
	}

	r.RecordCleanup(result, started, finished)
	r.RecordCleanup(&retention.Result{Deleted: make([]retention.Decision, 1)}, started, finished)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.deletions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deletions.WithLabelValues("failed")))
	assert.Equal(t, 90.0, testutil.ToFloat64(r.duration.WithLabelValues(KindCleanup)))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.RecordBackup(&replicator.Report{
		StartedAt:  started,
		FinishedAt: finished,
		Outcomes:   []replicator.Outcome{{Directive: replicator.Directive{Action: replicator.ActionFull}}},
	})

	path := filepath.Join(t.TempDir(), "textfile", "snapferry.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `snapferry_transfers_total{action="full",status="ok"} 1`), text)
	assert.Contains(t, text, `snapferry_run_duration_seconds{kind="backup"} 90`)
}

func TestRegistryGathers(t *testing.T) {
	r := New()
	r.RecordCleanup(&retention.Result{}, started, finished)

	families, err := r.registry.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "snapferry_deletions_total")
	assert.Contains(t, names, "snapferry_last_run_timestamp_seconds")
}
