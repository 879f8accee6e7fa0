package store

import "time"

// Run kinds.
const (
	KindBackup  = "backup"
	KindCleanup = "cleanup"
)

// Run statuses. Transfers and deletions use StatusOK, StatusFailed and
// StatusSkipped.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Run is one invocation of backup or cleanup.
type Run struct {
	ID          string
	Kind        string
	Source      string
	Destination string
	DryRun      bool
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Status      string
	Error       string
}

// Duration returns how long the run took, or zero if it has not finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Transfer records one replication directive.
type Transfer struct {
	ID        int64
	RunID     string
	Subvolume string
	Snapshot  string
	Parent    string // empty for full sends and skips without a parent
	Action    string // "skip", "full" or "incremental"
	Status    string
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// Deletion records one retention deletion.
type Deletion struct {
	ID        int64
	RunID     string
	Location  string
	Subvolume string
	Snapshot  string
	Path      string
	Status    string
	Error     string
	CreatedAt time.Time
}
