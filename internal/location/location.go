// Package location scans snapshot roots.
//
// A Location is a directory holding snapshot subvolumes for one or more
// subvolumes. Scanning a Location resolves every snapshot directory to its
// canonical snapshot.Snapshot through a shared snapshot.Registry, so the same
// snapshot found at two locations is the same object and each location can
// ask whether another location holds it.
package location

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/blackwell-systems/snapferry/internal/snapshot"
)

// ScanError reports a location root that could not be read.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("failed to scan location %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Location is an immutable view of the snapshots found under a root directory.
type Location struct {
	path      string
	id        string
	snapshots []*snapshot.Snapshot
}

// Scan lists the immediate subdirectories of path, resolves every snapshot
// name through reg and records the location on each snapshot. Entries that
// are not snapshot directories are skipped.
func Scan(fsys afero.Fs, path string, reg *snapshot.Registry) (*Location, error) {
	loc := &Location{
		path: path,
		id:   ID(path),
	}

	entries, err := afero.ReadDir(fsys, path)
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}

	for _, entry := range entries {
		if !isDir(fsys, path, entry) {
			continue
		}
		subvolume, timestamp, ok := snapshot.ParseName(entry.Name())
		if !ok {
			continue
		}
		snap := reg.Resolve(subvolume, timestamp, "")
		snap.AddLocation(loc.id)
		loc.snapshots = append(loc.snapshots, snap)
	}

	snapshot.Sort(loc.snapshots)
	return loc, nil
}

// isDir reports whether entry is a directory, following symlinks. ReadDir
// lstats entries, so a link to a snapshot directory needs a second stat.
// Dangling links are skipped.
func isDir(fsys afero.Fs, root string, entry os.FileInfo) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Mode()&os.ModeSymlink == 0 {
		return false
	}
	info, err := fsys.Stat(filepath.Join(root, entry.Name()))
	return err == nil && info.IsDir()
}

// ID returns the identifier snapshots use to refer to the location at path.
func ID(path string) string {
	return filepath.Clean(path)
}

// Path returns the root directory of the location.
func (l *Location) Path() string { return l.path }

// ID returns the identifier recorded on snapshots found here.
func (l *Location) ID() string { return l.id }

// Snapshots returns every snapshot at the location in ascending order.
func (l *Location) Snapshots() []*snapshot.Snapshot {
	out := make([]*snapshot.Snapshot, len(l.snapshots))
	copy(out, l.snapshots)
	return out
}

// Len returns the number of snapshots at the location.
func (l *Location) Len() int { return len(l.snapshots) }

// SnapshotsForSubvolume returns the snapshots of subvolume in ascending order.
func (l *Location) SnapshotsForSubvolume(subvolume string) []*snapshot.Snapshot {
	var out []*snapshot.Snapshot
	for _, snap := range l.snapshots {
		if snap.Subvolume() == subvolume {
			out = append(out, snap)
		}
	}
	return out
}

// Latest returns the most recent snapshot of subvolume.
func (l *Location) Latest(subvolume string) (*snapshot.Snapshot, bool) {
	snaps := l.SnapshotsForSubvolume(subvolume)
	if len(snaps) == 0 {
		return nil, false
	}
	return snaps[len(snaps)-1], true
}

// Subvolumes returns the distinct subvolumes with snapshots here, sorted.
func (l *Location) Subvolumes() []string {
	var out []string
	seen := make(map[string]bool)
	// snapshots are sorted by subvolume first, so out stays sorted
	for _, snap := range l.snapshots {
		if !seen[snap.Subvolume()] {
			seen[snap.Subvolume()] = true
			out = append(out, snap.Subvolume())
		}
	}
	return out
}

// Contains reports whether this exact snapshot instance was found here.
func (l *Location) Contains(snap *snapshot.Snapshot) bool {
	for _, s := range l.snapshots {
		if s == snap {
			return true
		}
	}
	return false
}

// SharedSnapshots returns the snapshots of subvolume found both here and at
// other, in ascending order. The last element is the most recent one shared.
func (l *Location) SharedSnapshots(other *Location, subvolume string) []*snapshot.Snapshot {
	var shared []*snapshot.Snapshot
	for _, snap := range l.SnapshotsForSubvolume(subvolume) {
		if snap.AtLocation(other.id) {
			shared = append(shared, snap)
		}
	}
	return shared
}

// SnapshotPath returns the full path of snap under this location's root.
func (l *Location) SnapshotPath(snap *snapshot.Snapshot) string {
	return filepath.Join(l.path, snap.DirName())
}
