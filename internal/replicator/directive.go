package replicator

import (
	"fmt"

	"github.com/blackwell-systems/snapferry/internal/btrfs"
	"github.com/blackwell-systems/snapferry/internal/snapshot"
)

// Action is the kind of work a Directive asks for.
type Action int

const (
	// ActionSkip means the destination already has the newest snapshot.
	ActionSkip Action = iota
	// ActionFull sends the snapshot with no parent.
	ActionFull
	// ActionIncremental sends the delta from a parent shared with the destination.
	ActionIncremental
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionFull:
		return "full"
	case ActionIncremental:
		return "incremental"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ReasonUpToDate is the skip reason when nothing new exists at the source.
const ReasonUpToDate = "no new snapshots"

// Directive is the replication decision for one subvolume.
type Directive struct {
	Action    Action
	Subvolume string
	// Snapshot is the newest source snapshot.
	Snapshot *snapshot.Snapshot
	// Parent is the newest snapshot shared with the destination, or nil.
	Parent *snapshot.Snapshot
	Reason string

	// SnapshotPath and ParentPath are paths under the source root.
	SnapshotPath string
	ParentPath   string
	// Destination is the destination root the snapshot is received into.
	Destination string
}

// Transfer converts the directive into a command-layer request.
func (d Directive) Transfer() btrfs.Transfer {
	return btrfs.Transfer{
		Snapshot:    d.SnapshotPath,
		Parent:      d.ParentPath,
		Destination: d.Destination,
	}
}

// ParentName returns the parent's name, or "" for a full transfer.
func (d Directive) ParentName() string {
	if d.Parent == nil {
		return ""
	}
	return d.Parent.Name()
}

// SnapshotName returns the target snapshot's name.
func (d Directive) SnapshotName() string {
	if d.Snapshot == nil {
		return ""
	}
	return d.Snapshot.Name()
}

func (d Directive) String() string {
	switch d.Action {
	case ActionSkip:
		return fmt.Sprintf("skip %s: %s", d.Subvolume, d.Reason)
	case ActionIncremental:
		return fmt.Sprintf("incremental %s: %s -> %s", d.Subvolume, d.ParentName(), d.SnapshotName())
	default:
		return fmt.Sprintf("full %s: %s", d.Subvolume, d.SnapshotName())
	}
}
