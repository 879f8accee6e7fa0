// Package replicator decides and executes snapshot replication between a
// source and a destination location.
//
// For every subvolume at the source the newest source snapshot is the
// target. The newest snapshot that is also at the destination becomes the
// incremental parent. If that parent is the target itself the subvolume is
// already up to date and is skipped; without any shared snapshot the target
// is sent in full.
//
// The heuristic assumes both histories only grow. It does not search for
// the best common ancestor of divergent histories; it only picks the newest
// snapshot still present at both ends, which stays correct when retention has
// removed newer snapshots from the destination.
package replicator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/blackwell-systems/snapferry/internal/btrfs"
	"github.com/blackwell-systems/snapferry/internal/location"
)

// Transferer executes a send/receive request.
type Transferer interface {
	Transfer(ctx context.Context, t btrfs.Transfer) error
}

// Replicator replicates snapshots from source to destination.
type Replicator struct {
	source      *location.Location
	destination *location.Location
	engine      Transferer
	log         logrus.FieldLogger
	subvolumes  map[string]bool
	onOutcome   func(Outcome)
	now         func() time.Time
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Replicator) {
		if log != nil {
			r.log = log
		}
	}
}

// WithSubvolumes restricts replication to the named subvolumes. An empty
// list means all subvolumes.
func WithSubvolumes(names ...string) Option {
	return func(r *Replicator) {
		if len(names) == 0 {
			r.subvolumes = nil
			return
		}
		r.subvolumes = make(map[string]bool, len(names))
		for _, name := range names {
			r.subvolumes[name] = true
		}
	}
}

// WithOutcomeHook registers a function called after every directive.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(r *Replicator) { r.onOutcome = fn }
}

// New creates a Replicator. Both locations must come from scans against the
// same snapshot registry.
func New(source, destination *location.Location, engine Transferer, opts ...Option) *Replicator {
	r := &Replicator{
		source:      source,
		destination: destination,
		engine:      engine,
		log:         logrus.StandardLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subvolumes returns the source subvolumes this replicator handles.
func (r *Replicator) Subvolumes() []string {
	all := r.source.Subvolumes()
	if r.subvolumes == nil {
		return all
	}
	var out []string
	for _, v := range all {
		if r.subvolumes[v] {
			out = append(out, v)
		}
	}
	return out
}

// Plan computes the directive for one subvolume. ok is false when the source
// has no snapshots of it.
func (r *Replicator) Plan(subvolume string) (d Directive, ok bool) {
	src, ok := r.source.Latest(subvolume)
	if !ok {
		return Directive{}, false
	}

	d = Directive{
		Subvolume:    subvolume,
		Snapshot:     src,
		SnapshotPath: r.source.SnapshotPath(src),
		Destination:  r.destination.Path(),
	}

	if shared := r.source.SharedSnapshots(r.destination, subvolume); len(shared) > 0 {
		d.Parent = shared[len(shared)-1]
	}

	switch {
	case d.Parent == src:
		d.Action = ActionSkip
		d.Reason = ReasonUpToDate
	case d.Parent != nil:
		d.Action = ActionIncremental
		d.ParentPath = r.source.SnapshotPath(d.Parent)
	default:
		d.Action = ActionFull
	}
	return d, true
}

// PlanAll computes directives for every handled subvolume in name order.
func (r *Replicator) PlanAll() []Directive {
	var plan []Directive
	for _, v := range r.Subvolumes() {
		if d, ok := r.Plan(v); ok {
			plan = append(plan, d)
		}
	}
	return plan
}

// Run plans and executes every directive one at a time. A failed transfer is
// recorded in the report and the remaining subvolumes are still processed.
// Once ctx is done no further commands are started; the remaining directives
// are reported as failed with the context error. The returned error combines
// every failure.
func (r *Replicator) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Source:      r.source.Path(),
		Destination: r.destination.Path(),
		StartedAt:   r.now(),
	}

	var errs error
	for _, d := range r.PlanAll() {
		outcome := r.execute(ctx, d)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Err != nil {
			errs = multierr.Append(errs, outcome.Err)
		}
		if r.onOutcome != nil {
			r.onOutcome(outcome)
		}
	}

	report.FinishedAt = r.now()
	return report, errs
}

func (r *Replicator) execute(ctx context.Context, d Directive) Outcome {
	log := r.log.WithFields(logrus.Fields{
		"subvolume": d.Subvolume,
		"snapshot":  d.SnapshotName(),
	})

	if d.Action == ActionSkip {
		log.Infof("Skipping %s because %s were found", d.SnapshotName(), d.Reason)
		return Outcome{Directive: d}
	}

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Not starting transfer")
		return Outcome{Directive: d, Err: &TransferError{Directive: d, Err: err}}
	}

	if d.Parent != nil {
		log = log.WithField("parent", d.ParentName())
	}
	log.Infof("Starting %s transfer", d.Action)

	start := r.now()
	err := r.engine.Transfer(ctx, d.Transfer())
	outcome := Outcome{Directive: d, Duration: r.now().Sub(start)}
	if err != nil {
		outcome.Err = &TransferError{Directive: d, Err: err}
		log.WithError(err).Error("Replication failed")
		return outcome
	}

	log.WithField("duration", outcome.Duration).Info("Replication complete")
	return outcome
}
