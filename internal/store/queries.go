package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// NewRunID returns a new sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Run operations

// InsertRun records the start of a run. An empty ID is filled in with a new
// ULID, and an empty status with StatusRunning.
func (s *Store) InsertRun(run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO runs (id, kind, source, destination, dry_run, started_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		run.ID,
		run.Kind,
		run.Source,
		run.Destination,
		run.DryRun,
		formatTime(run.StartedAt),
		run.Status,
		run.Error,
	)
	return wrapErr(err, "failed to insert run %s", run.ID)
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(id, status string, finishedAt time.Time, errMsg string) error {
	query := `UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`
	result, err := s.db.Exec(query, status, formatTime(finishedAt), errMsg, id)
	if err != nil {
		return wrapErr(err, "failed to finish run %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

const runColumns = `id, kind, source, destination, dry_run, started_at, finished_at, status, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Source,
		&run.Destination,
		&run.DryRun,
		&startedAt,
		&finishedAt,
		&run.Status,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for run %s: %w", run.ID, err)
	}
	if finishedAt.Valid {
		run.FinishedAt, err = parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get run %s", id)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapErr(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Transfer operations

// InsertTransfer records a replication outcome and sets t.ID.
func (s *Store) InsertTransfer(t *Transfer) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO transfers
		(run_id, subvolume, snapshot, parent, action, status, error, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		t.RunID,
		t.Subvolume,
		t.Snapshot,
		t.Parent,
		t.Action,
		t.Status,
		t.Error,
		int64(t.Duration),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		return wrapErr(err, "failed to insert transfer of %s", t.Snapshot)
	}

	t.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transfer ID: %w", err)
	}
	return nil
}

const transferColumns = `id, run_id, subvolume, snapshot, parent, action, status, error, duration_ns, created_at`

func scanTransfer(row rowScanner) (*Transfer, error) {
	var t Transfer
	var duration int64
	var createdAt string

	err := row.Scan(
		&t.ID,
		&t.RunID,
		&t.Subvolume,
		&t.Snapshot,
		&t.Parent,
		&t.Action,
		&t.Status,
		&t.Error,
		&duration,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	t.Duration = time.Duration(duration)
	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for transfer %d: %w", t.ID, err)
	}
	return &t, nil
}

// ListTransfers returns the transfers of a run in insertion order.
func (s *Store) ListTransfers(runID string) ([]*Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE run_id = ? ORDER BY id`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, wrapErr(err, "failed to list transfers for run %s", runID)
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer row: %w", err)
		}
		transfers = append(transfers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}
	return transfers, nil
}

// LastSuccessfulTransfer returns the most recent successful full or
// incremental transfer of a subvolume. Returns nil if there is none.
func (s *Store) LastSuccessfulTransfer(subvolume string) (*Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE subvolume = ? AND status = ? AND action != 'skip'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	t, err := scanTransfer(s.db.QueryRow(query, subvolume, StatusOK))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get last transfer of %s", subvolume)
	}
	return t, nil
}

// Deletion operations

// InsertDeletion records a retention deletion and sets d.ID.
func (s *Store) InsertDeletion(d *Deletion) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO deletions
		(run_id, location, subvolume, snapshot, path, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		d.RunID,
		d.Location,
		d.Subvolume,
		d.Snapshot,
		d.Path,
		d.Status,
		d.Error,
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return wrapErr(err, "failed to insert deletion of %s", d.Path)
	}

	d.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get deletion ID: %w", err)
	}
	return nil
}

// ListDeletions returns the deletions of a run in insertion order.
func (s *Store) ListDeletions(runID string) ([]*Deletion, error) {
	query := `
		SELECT id, run_id, location, subvolume, snapshot, path, status, error, created_at
		FROM deletions
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, wrapErr(err, "failed to list deletions for run %s", runID)
	}
	defer rows.Close()

	var deletions []*Deletion
	for rows.Next() {
		var d Deletion
		var createdAt string
		err := rows.Scan(
			&d.ID,
			&d.RunID,
			&d.Location,
			&d.Subvolume,
			&d.Snapshot,
			&d.Path,
			&d.Status,
			&d.Error,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deletion row: %w", err)
		}

		d.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at for deletion %d: %w", d.ID, err)
		}
		deletions = append(deletions, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deletions: %w", err)
	}
	return deletions, nil
}
