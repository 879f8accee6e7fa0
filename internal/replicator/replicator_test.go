package replicator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/blackwell-systems/snapferry/internal/btrfs"
	"github.com/blackwell-systems/snapferry/internal/location"
	"github.com/blackwell-systems/snapferry/internal/logging"
	"github.com/blackwell-systems/snapferry/internal/snapshot"
)

const (
	t1 = "2024-01-01.00-00-00"
	t2 = "2024-01-02.00-00-00"
	t3 = "2024-01-03.00-00-00"
)

// fakeEngine records transfers and fails those whose snapshot path contains
// one of the failing substrings.
type fakeEngine struct {
	calls   []btrfs.Transfer
	failing []string
	cancel  context.CancelFunc
}

func (f *fakeEngine) Transfer(ctx context.Context, t btrfs.Transfer) error {
	f.calls = append(f.calls, t)
	if f.cancel != nil {
		f.cancel()
	}
	for _, s := range f.failing {
		if strings.Contains(t.Snapshot, s) {
			return errors.New("exit status 1")
		}
	}
	return nil
}

// setup scans /src and /dst built from the given directory names.
func setup(t *testing.T, src, dst []string) (*location.Location, *location.Location) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for root, names := range map[string][]string{"/src": src, "/dst": dst} {
		require.NoError(t, fsys.MkdirAll(root, 0o755))
		for _, name := range names {
			require.NoError(t, fsys.MkdirAll(filepath.Join(root, name), 0o755))
		}
	}

	reg := snapshot.NewRegistry()
	source, err := location.Scan(fsys, "/src", reg)
	require.NoError(t, err)
	destination, err := location.Scan(fsys, "/dst", reg)
	require.NoError(t, err)
	return source, destination
}

func TestPlanIncremental(t *testing.T) {
	src, dst := setup(t,
		[]string{"v-" + t1, "v-" + t2, "v-" + t3},
		[]string{"v-" + t1, "v-" + t2},
	)
	r := New(src, dst, &fakeEngine{}, WithLogger(logging.Discard()))

	d, ok := r.Plan("v")
	require.True(t, ok)
	assert.Equal(t, ActionIncremental, d.Action)
	assert.Equal(t, t2, d.Parent.Timestamp())
	assert.Equal(t, t3, d.Snapshot.Timestamp())
	assert.Equal(t, "/src/v-"+t2, d.ParentPath)
	assert.Equal(t, "/src/v-"+t3, d.SnapshotPath)
	assert.Equal(t, "/dst", d.Destination)

	tr := d.Transfer()
	assert.Equal(t, []string{"send", "-p", "/src/v-" + t2, "/src/v-" + t3}, tr.SendArgs())
	assert.Equal(t, []string{"receive", "/dst"}, tr.ReceiveArgs())
}

func TestPlanFull(t *testing.T) {
	src, dst := setup(t,
		[]string{"v-" + t1, "v-" + t2},
		[]string{"other-" + t1},
	)
	r := New(src, dst, &fakeEngine{}, WithLogger(logging.Discard()))

	d, ok := r.Plan("v")
	require.True(t, ok)
	assert.Equal(t, ActionFull, d.Action)
	assert.Nil(t, d.Parent)
	assert.Empty(t, d.ParentPath)
	assert.Equal(t, t2, d.Snapshot.Timestamp())
	assert.Equal(t, []string{"send", "/src/v-" + t2}, d.Transfer().SendArgs())
}

func TestPlanSkipWhenUpToDate(t *testing.T) {
	src, dst := setup(t,
		[]string{"v-" + t1, "v-" + t2},
		[]string{"v-" + t1, "v-" + t2},
	)
	r := New(src, dst, &fakeEngine{}, WithLogger(logging.Discard()))

	d, ok := r.Plan("v")
	require.True(t, ok)
	assert.Equal(t, ActionSkip, d.Action)
	assert.Equal(t, ReasonUpToDate, d.Reason)
	assert.Same(t, d.Parent, d.Snapshot)
}

func TestPlanNoSourceSnapshots(t *testing.T) {
	src, dst := setup(t, []string{"v-" + t1}, []string{"w-" + t1})
	r := New(src, dst, &fakeEngine{}, WithLogger(logging.Discard()))

	_, ok := r.Plan("w")
	assert.False(t, ok)
	assert.Equal(t, []string{"v"}, r.Subvolumes())
}

func TestPlanUsesNewestStillShared(t *testing.T) {
	// t2 was pruned at the destination, t1 is still shared.
	src, dst := setup(t,
		[]string{"v-" + t1, "v-" + t2, "v-" + t3},
		[]string{"v-" + t1},
	)
	r := New(src, dst, &fakeEngine{}, WithLogger(logging.Discard()))

	d, ok := r.Plan("v")
	require.True(t, ok)
	assert.Equal(t, ActionIncremental, d.Action)
	assert.Equal(t, t1, d.Parent.Timestamp())
	assert.Equal(t, t3, d.Snapshot.Timestamp())
}

func TestPlanDestinationAhead(t *testing.T) {
	// The destination holds a newer snapshot the source has already pruned.
	src, dst := setup(t,
		[]string{"v-" + t1, "v-" + t2},
		[]string{"v-" + t1, "v-" + t2, "v-" + t3},
	)
	r := New(src, dst, &fakeEngine{}, WithLogger(logging.Discard()))

	d, ok := r.Plan("v")
	require.True(t, ok)
	assert.Equal(t, ActionSkip, d.Action)
}

func TestRunSkipIssuesNoCommand(t *testing.T) {
	src, dst := setup(t, []string{"v-" + t1}, []string{"v-" + t1})
	engine := &fakeEngine{}
	r := New(src, dst, engine, WithLogger(logging.Discard()))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, engine.calls)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "skipped", report.Outcomes[0].Status())
	assert.Equal(t, "ok", report.Status())
}

func TestRunExecutesInSubvolumeOrder(t *testing.T) {
	src, dst := setup(t,
		[]string{"b-" + t1, "b-" + t2, "a-" + t1, "c-" + t1},
		[]string{"b-" + t1, "c-" + t1},
	)
	engine := &fakeEngine{}
	var seen []string
	r := New(src, dst, engine,
		WithLogger(logging.Discard()),
		WithOutcomeHook(func(o Outcome) { seen = append(seen, o.Directive.Subvolume) }),
	)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, engine.calls, 2)
	assert.Equal(t, btrfs.Transfer{Snapshot: "/src/a-" + t1, Destination: "/dst"}, engine.calls[0])
	assert.Equal(t, btrfs.Transfer{Snapshot: "/src/b-" + t2, Parent: "/src/b-" + t1, Destination: "/dst"}, engine.calls[1])

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, 2, report.Count("ok"))
	assert.Equal(t, 1, report.Count("skipped"))
	assert.Equal(t, "/src", report.Source)
	assert.Equal(t, "/dst", report.Destination)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRunFailureDoesNotStopOtherSubvolumes(t *testing.T) {
	src, dst := setup(t,
		[]string{"v1-" + t1, "v2-" + t1, "v2-" + t2},
		[]string{"v2-" + t1},
	)
	engine := &fakeEngine{failing: []string{"v1-"}}
	r := New(src, dst, engine, WithLogger(logging.Discard()))

	report, err := r.Run(context.Background())
	require.Error(t, err)

	require.Len(t, engine.calls, 2, "v2 must still be replicated after v1 fails")
	assert.Equal(t, "/src/v2-"+t2, engine.calls[1].Snapshot)

	assert.Equal(t, "partial", report.Status())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "v1", failed[0].Directive.Subvolume)

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Contains(t, err.Error(), "v1."+t1)
	assert.Len(t, multierr.Errors(err), 1)
}

func TestRunAllFailed(t *testing.T) {
	src, dst := setup(t, []string{"v1-" + t1, "v2-" + t1}, nil)
	engine := &fakeEngine{failing: []string{"/src/"}}
	r := New(src, dst, engine, WithLogger(logging.Discard()))

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, "failed", report.Status())
}

func TestRunCancelledStopsStartingTransfers(t *testing.T) {
	src, dst := setup(t, []string{"v1-" + t1, "v2-" + t1, "v3-" + t1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := &fakeEngine{cancel: cancel}
	r := New(src, dst, engine, WithLogger(logging.Discard()))

	report, err := r.Run(ctx)
	require.Error(t, err)
	assert.Len(t, engine.calls, 1, "no transfer should start after cancellation")
	assert.Equal(t, "ok", report.Outcomes[0].Status())
	assert.Equal(t, "failed", report.Outcomes[1].Status())
	assert.True(t, errors.Is(report.Outcomes[2].Err, context.Canceled))
}

func TestWithSubvolumes(t *testing.T) {
	src, dst := setup(t, []string{"a-" + t1, "b-" + t1, "c-" + t1}, nil)
	engine := &fakeEngine{}
	r := New(src, dst, engine, WithLogger(logging.Discard()), WithSubvolumes("c", "a", "missing"))

	assert.Equal(t, []string{"a", "c"}, r.Subvolumes())

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, engine.calls, 2)

	all := New(src, dst, engine, WithSubvolumes())
	assert.Equal(t, []string{"a", "b", "c"}, all.Subvolumes())
}

func TestDirectiveString(t *testing.T) {
	src, dst := setup(t,
		[]string{"v-" + t1, "v-" + t2, "w-" + t1, "x-" + t1},
		[]string{"v-" + t1, "x-" + t1},
	)
	r := New(src, dst, &fakeEngine{}, WithLogger(logging.Discard()))

	plan := r.PlanAll()
	require.Len(t, plan, 3)
	assert.Equal(t, "incremental v: v."+t1+" -> v."+t2, plan[0].String())
	assert.Equal(t, "full w: w."+t1, plan[1].String())
	assert.Equal(t, "skip x: no new snapshots", plan[2].String())

	assert.Equal(t, "skip", ActionSkip.String())
	assert.Equal(t, "full", ActionFull.String())
	assert.Equal(t, "incremental", ActionIncremental.String())
	assert.Equal(t, "Action(9)", Action(9).String())
}
