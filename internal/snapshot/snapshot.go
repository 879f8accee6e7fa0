// Package snapshot models btrfs snapshots of named subvolumes.
//
// A Snapshot is identified by its subvolume, timestamp and optional
// classifier. Every reference to the same identity within a run must be the
// same *Snapshot; the Registry hands out those canonical instances. Snapshots
// remember which locations they were seen at by location ID, so locations
// never own snapshots and snapshots never keep locations alive.
package snapshot

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the fixed-width timestamp format used in snapshot names.
// Lexicographic order of formatted timestamps equals chronological order.
const TimestampLayout = "2006-01-02.15-04-05"

// Key is the identity of a snapshot.
type Key struct {
	Subvolume  string
	Timestamp  string
	Classifier string
}

// String renders the canonical name for the key.
func (k Key) String() string {
	if k.Classifier != "" {
		return k.Subvolume + "." + k.Classifier + "." + k.Timestamp
	}
	return k.Subvolume + "." + k.Timestamp
}

// Snapshot is a point-in-time copy of a subvolume.
type Snapshot struct {
	key Key

	mu        sync.RWMutex
	locations map[string]struct{}
}

func newSnapshot(key Key) *Snapshot {
	return &Snapshot{
		key:       key,
		locations: make(map[string]struct{}),
	}
}

// Subvolume returns the name of the subvolume the snapshot belongs to.
func (s *Snapshot) Subvolume() string { return s.key.Subvolume }

// Timestamp returns the raw timestamp string.
func (s *Snapshot) Timestamp() string { return s.key.Timestamp }

// Classifier returns the optional classifier, or "".
func (s *Snapshot) Classifier() string { return s.key.Classifier }

// Name returns the canonical rendered name, <subvolume>.<timestamp> or
// <subvolume>.<classifier>.<timestamp>.
func (s *Snapshot) Name() string { return s.key.String() }

// DirName returns the on-disk directory name used in btrfs command arguments.
func (s *Snapshot) DirName() string {
	if s.key.Classifier != "" {
		return s.key.Subvolume + "-" + s.key.Classifier + "-" + s.key.Timestamp
	}
	return s.key.Subvolume + "-" + s.key.Timestamp
}

// Time parses the timestamp in the given location. Timestamps are written
// in local time by the snapshot tooling, so callers normally pass time.Local.
func (s *Snapshot) Time(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s.key.Timestamp, loc)
}

// AddLocation records that the snapshot exists at the location with the given ID.
func (s *Snapshot) AddLocation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[id] = struct{}{}
}

// AtLocation reports whether the snapshot is known to exist at the location.
func (s *Snapshot) AtLocation(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.locations[id]
	return ok
}

// Locations returns the sorted IDs of every location holding the snapshot.
func (s *Snapshot) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.locations))
	for id := range s.locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// String implements fmt.Stringer.
func (s *Snapshot) String() string { return s.Name() }

// Compare orders snapshots by subvolume, then timestamp, then classifier.
// It returns -1, 0 or +1.
func Compare(a, b *Snapshot) int {
	if c := strings.Compare(a.key.Subvolume, b.key.Subvolume); c != 0 {
		return c
	}
	if c := strings.Compare(a.key.Timestamp, b.key.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.key.Classifier, b.key.Classifier)
}

// Less reports whether a orders before b.
func Less(a, b *Snapshot) bool { return Compare(a, b) < 0 }

// Sort sorts snapshots in ascending order.
func Sort(snaps []*Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return Less(snaps[i], snaps[j])
	})
}
