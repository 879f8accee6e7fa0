// Package retention prunes old snapshots from a location.
package retention

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/blackwell-systems/snapferry/internal/location"
	"github.com/blackwell-systems/snapferry/internal/snapshot"
)

// DefaultMaxAge is the retention window used when none is configured.
const DefaultMaxAge = 24 * time.Hour

// Policy decides which snapshots are kept.
type Policy struct {
	// MaxAge is how long snapshots are kept. Zero disables age-based pruning.
	MaxAge time.Duration
	// KeepLast always keeps the newest N snapshots of each subvolume.
	KeepLast int
	// ProtectShared keeps the newest snapshot shared with the peer location,
	// which the next incremental backup needs as its parent.
	ProtectShared bool
}

// DefaultPolicy returns the policy used by the cleanup command.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:        DefaultMaxAge,
		KeepLast:      1,
		ProtectShared: true,
	}
}

// Reason explains why a snapshot ended up in a plan bucket.
type Reason string

const (
	ReasonWithinWindow Reason = "within retention window"
	ReasonKeepLast     Reason = "newest snapshot"
	ReasonShared       Reason = "incremental parent"
	ReasonUnparseable  Reason = "unparseable timestamp"
	ReasonExpired      Reason = "expired"
)

// Decision is the plan entry for one snapshot.
type Decision struct {
	Snapshot *snapshot.Snapshot
	Path     string
	Reason   Reason
}

// Plan splits a location's snapshots into those kept and those deleted.
type Plan struct {
	Location string
	Cutoff   time.Time
	Keep     []Decision
	Delete   []Decision
}

// NewPlan applies policy to every snapshot at loc. peer may be nil; when set
// and policy.ProtectShared is true, the newest snapshot of each subvolume
// shared with peer is kept.
func NewPlan(loc, peer *location.Location, policy Policy, now time.Time) *Plan {
	plan := &Plan{Location: loc.Path()}
	if policy.MaxAge > 0 {
		plan.Cutoff = now.Add(-policy.MaxAge)
	}

	for _, subvolume := range loc.Subvolumes() {
		snaps := loc.SnapshotsForSubvolume(subvolume)

		var protected *snapshot.Snapshot
		if policy.ProtectShared && peer != nil {
			if shared := loc.SharedSnapshots(peer, subvolume); len(shared) > 0 {
				protected = shared[len(shared)-1]
			}
		}

		for i, snap := range snaps {
			d := Decision{Snapshot: snap, Path: loc.SnapshotPath(snap)}
			fromNewest := len(snaps) - 1 - i

			switch {
			case fromNewest < policy.KeepLast:
				d.Reason = ReasonKeepLast
			case snap == protected:
				d.Reason = ReasonShared
			case policy.MaxAge <= 0:
				d.Reason = ReasonWithinWindow
			default:
				taken, err := snap.Time(now.Location())
				switch {
				case err != nil:
					d.Reason = ReasonUnparseable
				case taken.Before(plan.Cutoff):
					d.Reason = ReasonExpired
				default:
					d.Reason = ReasonWithinWindow
				}
			}

			if d.Reason == ReasonExpired {
				plan.Delete = append(plan.Delete, d)
			} else {
				plan.Keep = append(plan.Keep, d)
			}
		}
	}
	return plan
}

// Deleter removes a snapshot subvolume.
type Deleter interface {
	Delete(ctx context.Context, path string) error
}

// Result is the outcome of applying a plan.
type Result struct {
	Deleted []Decision
	Failed  []Failure
}

// Failure is a deletion that did not succeed.
type Failure struct {
	Decision Decision
	Err      error
}

// Cleaner deletes the snapshots a plan marks for deletion.
type Cleaner struct {
	deleter  Deleter
	log      logrus.FieldLogger
	onResult func(Decision, error)
}

// NewCleaner creates a Cleaner. log may be nil.
func NewCleaner(deleter Deleter, log logrus.FieldLogger) *Cleaner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cleaner{deleter: deleter, log: log}
}

// OnResult registers fn to be called after every deletion attempt.
func (c *Cleaner) OnResult(fn func(d Decision, err error)) *Cleaner {
	c.onResult = fn
	return c
}

// Apply deletes every snapshot in plan.Delete, continuing past failures.
// The returned error combines all failures.
func (c *Cleaner) Apply(ctx context.Context, plan *Plan) (*Result, error) {
	result := &Result{}
	var errs error

	for _, d := range plan.Delete {
		log := c.log.WithFields(logrus.Fields{
			"subvolume": d.Snapshot.Subvolume(),
			"snapshot":  d.Snapshot.Name(),
			"path":      d.Path,
		})

		err := ctx.Err()
		if err == nil {
			log.Info("Deleting expired snapshot")
			err = c.deleter.Delete(ctx, d.Path)
		}
		if err != nil {
			log.WithError(err).Error("Failed to delete snapshot")
			result.Failed = append(result.Failed, Failure{Decision: d, Err: err})
			errs = multierr.Append(errs, err)
		} else {
			result.Deleted = append(result.Deleted, d)
		}
		if c.onResult != nil {
			c.onResult(d, err)
		}
	}
	return result, errs
}
