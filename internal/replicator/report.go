package replicator

import (
	"fmt"
	"time"
)

// TransferError reports a failed directive.
type TransferError struct {
	Directive Directive
	Err       error
}

func (e *TransferError) Error() string {
	if e.Directive.Parent != nil {
		return fmt.Sprintf("failed to replicate %s (parent %s): %v",
			e.Directive.SnapshotName(), e.Directive.ParentName(), e.Err)
	}
	return fmt.Sprintf("failed to replicate %s: %v", e.Directive.SnapshotName(), e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Outcome is the result of executing one directive.
type Outcome struct {
	Directive Directive
	Err       error
	Duration  time.Duration
}

// Status returns "skipped", "ok" or "failed".
func (o Outcome) Status() string {
	switch {
	case o.Err != nil:
		return "failed"
	case o.Directive.Action == ActionSkip:
		return "skipped"
	default:
		return "ok"
	}
}

// Report collects the outcomes of one replication run.
type Report struct {
	Source      string
	Destination string
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcomes    []Outcome
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns how many outcomes have the given status.
func (r *Report) Count(status string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status() == status {
			n++
		}
	}
	return n
}

// Failed returns the failed outcomes.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Status summarises the run: "ok", "partial" or "failed".
func (r *Report) Status() string {
	failed := r.Count("failed")
	switch {
	case failed == 0:
		return "ok"
	case failed == len(r.Outcomes):
		return "failed"
	default:
		return "partial"
	}
}
