package store

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// newTestStore creates an in-memory store with the schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	if err := s.CreateSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertRun(t *testing.T, s *Store, kind string, started time.Time) *Run {
	t.Helper()
	run := &Run{Kind: kind, Source: "/src", Destination: "/dst", StartedAt: started}
	if err := s.InsertRun(run); err != nil {
		t.Fatalf("InsertRun() failed: %v", err)
	}
	return run
}

func TestNew(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	if err := s.db.Ping(); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

func TestCreateSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"runs", "transfers", "deletions"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	// Idempotent.
	if err := s.CreateSchema(); err != nil {
		t.Errorf("second CreateSchema() failed: %v", err)
	}
}

func TestQueries_NoSchema_ReturnErrNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"ListRuns", func() error { _, err := s.ListRuns(10); return err }},
		{"GetRun", func() error { _, err := s.GetRun("x"); return err }},
		{"ListTransfers", func() error { _, err := s.ListTransfers("x"); return err }},
		{"ListDeletions", func() error { _, err := s.ListDeletions("x"); return err }},
		{"LastSuccessfulTransfer", func() error { _, err := s.LastSuccessfulTransfer("v"); return err }},
		{"InsertRun", func() error { return s.InsertRun(&Run{Kind: KindBackup}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, ErrNotInitialized) {
				t.Errorf("%s() error = %v; want ErrNotInitialized", tt.name, err)
			}
		})
	}
}

func TestErrNotInitialized_ErrorMessage(t *testing.T) {
	if !strings.Contains(ErrNotInitialized.Error(), "snapferry backup") {
		t.Errorf("ErrNotInitialized message %q should mention 'snapferry backup'", ErrNotInitialized.Error())
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	started := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	run := insertRun(t, s, KindBackup, started)

	if run.ID == "" {
		t.Fatal("InsertRun() should assign an ID")
	}
	if run.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", run.Status, StatusRunning)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.FinishedAt.IsZero() {
		t.Errorf("FinishedAt = %v, want zero", got.FinishedAt)
	}
	if got.Duration() != 0 {
		t.Errorf("Duration() = %v, want 0 for an unfinished run", got.Duration())
	}

	finished := started.Add(90 * time.Second)
	if err := s.FinishRun(run.ID, StatusPartial, finished, "failed to replicate v"); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	got, err = s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if got.Status != StatusPartial {
		t.Errorf("Status = %q, want %q", got.Status, StatusPartial)
	}
	if got.Error != "failed to replicate v" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", got.Duration())
	}
	if got.Kind != KindBackup || got.Source != "/src" || got.Destination != "/dst" {
		t.Errorf("unexpected run: %+v", got)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetRun("missing"); err == nil {
		t.Error("GetRun() should fail for an unknown ID")
	}
	if err := s.FinishRun("missing", StatusOK, time.Now(), ""); err == nil {
		t.Error("FinishRun() should fail for an unknown ID")
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := insertRun(t, s, KindBackup, base)
	second := insertRun(t, s, KindCleanup, base.Add(500*time.Millisecond))
	third := insertRun(t, s, KindBackup, base.Add(time.Second))

	tests := []struct {
		limit int
		want  []string
	}{
		{0, []string{third.ID, second.ID, first.ID}},
		{2, []string{third.ID, second.ID}},
		{10, []string{third.ID, second.ID, first.ID}},
	}

	for _, tt := range tests {
		runs, err := s.ListRuns(tt.limit)
		if err != nil {
			t.Fatalf("ListRuns(%d) failed: %v", tt.limit, err)
		}
		if len(runs) != len(tt.want) {
			t.Fatalf("ListRuns(%d) returned %d runs, want %d", tt.limit, len(runs), len(tt.want))
		}
		for i, run := range runs {
			if run.ID != tt.want[i] {
				t.Errorf("ListRuns(%d)[%d] = %s, want %s", tt.limit, i, run.ID, tt.want[i])
			}
		}
	}
}

func TestTransfers(t *testing.T) {
	s := newTestStore(t)
	run := insertRun(t, s, KindBackup, time.Now())

	transfers := []*Transfer{
		{RunID: run.ID, Subvolume: "v", Snapshot: "v.2024-01-02.00-00-00", Parent: "v.2024-01-01.00-00-00", Action: "incremental", Status: StatusOK, Duration: 3 * time.Second},
		{RunID: run.ID, Subvolume: "w", Snapshot: "w.2024-01-02.00-00-00", Action: "full", Status: StatusFailed, Error: "exit status 1"},
		{RunID: run.ID, Subvolume: "x", Snapshot: "x.2024-01-02.00-00-00", Parent: "x.2024-01-02.00-00-00", Action: "skip", Status: StatusSkipped},
	}
	for _, tr := range transfers {
		if err := s.InsertTransfer(tr); err != nil {
			t.Fatalf("InsertTransfer() failed: %v", err)
		}
		if tr.ID == 0 {
			t.Error("InsertTransfer() should set ID")
		}
	}

	got, err := s.ListTransfers(run.ID)
	if err != nil {
		t.Fatalf("ListTransfers() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListTransfers() returned %d, want 3", len(got))
	}
	if got[0].Parent != "v.2024-01-01.00-00-00" || got[0].Duration != 3*time.Second {
		t.Errorf("unexpected first transfer: %+v", got[0])
	}
	if got[1].Error != "exit status 1" {
		t.Errorf("Error = %q", got[1].Error)
	}

	other, err := s.ListTransfers("other")
	if err != nil {
		t.Fatalf("ListTransfers() failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("ListTransfers(other) returned %d, want 0", len(other))
	}
}

func TestInsertTransfer_UnknownRun(t *testing.T) {
	s := newTestStore(t)

	err := s.InsertTransfer(&Transfer{RunID: "missing", Subvolume: "v", Snapshot: "v.x", Action: "full", Status: StatusOK})
	if err == nil {
		t.Error("InsertTransfer() should fail for an unknown run")
	}
}

func TestLastSuccessfulTransfer(t *testing.T) {
	s := newTestStore(t)
	run := insertRun(t, s, KindBackup, time.Now())

	last, err := s.LastSuccessfulTransfer("v")
	if err != nil {
		t.Fatalf("LastSuccessfulTransfer() failed: %v", err)
	}
	if last != nil {
		t.Fatalf("LastSuccessfulTransfer() = %+v, want nil", last)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []*Transfer{
		{RunID: run.ID, Subvolume: "v", Snapshot: "v.1", Action: "full", Status: StatusOK, CreatedAt: base},
		{RunID: run.ID, Subvolume: "v", Snapshot: "v.2", Action: "incremental", Status: StatusOK, CreatedAt: base.Add(time.Hour)},
		{RunID: run.ID, Subvolume: "v", Snapshot: "v.3", Action: "incremental", Status: StatusFailed, CreatedAt: base.Add(2 * time.Hour)},
		{RunID: run.ID, Subvolume: "v", Snapshot: "v.2", Action: "skip", Status: StatusSkipped, CreatedAt: base.Add(3 * time.Hour)},
		{RunID: run.ID, Subvolume: "w", Snapshot: "w.9", Action: "full", Status: StatusOK, CreatedAt: base.Add(4 * time.Hour)},
	}
	for _, tr := range records {
		if err := s.InsertTransfer(tr); err != nil {
			t.Fatalf("InsertTransfer() failed: %v", err)
		}
	}

	last, err = s.LastSuccessfulTransfer("v")
	if err != nil {
		t.Fatalf("LastSuccessfulTransfer() failed: %v", err)
	}
	if last == nil || last.Snapshot != "v.2" {
		t.Errorf("LastSuccessfulTransfer() = %+v, want v.2", last)
	}
	if !last.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("CreatedAt = %v", last.CreatedAt)
	}
}

func TestDeletions(t *testing.T) {
	s := newTestStore(t)
	run := insertRun(t, s, KindCleanup, time.Now())

	records := []*Deletion{
		{RunID: run.ID, Location: "/src", Subvolume: "v", Snapshot: "v.1", Path: "/src/v-1", Status: StatusOK},
		{RunID: run.ID, Location: "/src", Subvolume: "v", Snapshot: "v.2", Path: "/src/v-2", Status: StatusFailed, Error: "busy"},
	}
	for _, d := range records {
		if err := s.InsertDeletion(d); err != nil {
			t.Fatalf("InsertDeletion() failed: %v", err)
		}
	}

	got, err := s.ListDeletions(run.ID)
	if err != nil {
		t.Fatalf("ListDeletions() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListDeletions() returned %d, want 2", len(got))
	}
	if got[0].Path != "/src/v-1" || got[1].Error != "busy" {
		t.Errorf("unexpected deletions: %+v, %+v", got[0], got[1])
	}
}

func TestNewRunID_Sortable(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()

	if len(a) != 26 {
		t.Errorf("len(NewRunID()) = %d, want 26", len(a))
	}
	if a >= b {
		t.Errorf("run IDs should sort by creation time: %s >= %s", a, b)
	}
}
