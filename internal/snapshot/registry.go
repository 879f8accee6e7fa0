package snapshot

import "sync"

// Registry maps identity keys to canonical Snapshot instances. A Registry is
// scoped to one run: create one, pass it to every location scan, and drop it
// when the run ends.
type Registry struct {
	mu    sync.Mutex
	snaps map[Key]*Snapshot
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{snaps: make(map[Key]*Snapshot)}
}

// Resolve returns the canonical Snapshot for the identity, creating it on
// first use. Repeated calls with the same identity return the same pointer.
// Safe for concurrent use.
func (r *Registry) Resolve(subvolume, timestamp, classifier string) *Snapshot {
	key := Key{Subvolume: subvolume, Timestamp: timestamp, Classifier: classifier}

	r.mu.Lock()
	defer r.mu.Unlock()

	if snap, ok := r.snaps[key]; ok {
		return snap
	}
	snap := newSnapshot(key)
	r.snaps[key] = snap
	return snap
}

// Len returns the number of distinct snapshots resolved so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// All returns every resolved snapshot in ascending order.
func (r *Registry) All() []*Snapshot {
	r.mu.Lock()
	all := make([]*Snapshot, 0, len(r.snaps))
	for _, snap := range r.snaps {
		all = append(all, snap)
	}
	r.mu.Unlock()

	Sort(all)
	return all
}
