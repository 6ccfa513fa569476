package job

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// newTestStore uses a file-backed database: ":memory:" gives every pooled
// connection its own empty database, which breaks multi-connection tests.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreate(t *testing.T, store *SQLiteStore, filename string) *Job {
	t.Helper()
	j, err := store.Create(context.Background(), filename, 1200, ".pdf")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	j := mustCreate(t, store, "report.pdf")
	if j.ID == "" {
		t.Fatal("Create returned empty id")
	}

	got, err := store.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want %q", got.Filename, "report.pdf")
	}
	if got.FileSize != 1200 {
		t.Errorf("FileSize = %d, want 1200", got.FileSize)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt = %v, want nil for a fresh job", got.StartedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil for a fresh job", got.CompletedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
}

func TestMarkProcessing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := mustCreate(t, store, "doc.md")

	if err := store.MarkProcessing(ctx, j.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	got, err := store.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, StatusProcessing)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt is nil, want non-nil")
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt set before terminal state")
	}
}

func TestMarkProcessing_OnlyFromPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := mustCreate(t, store, "doc.md")

	if err := store.MarkProcessing(ctx, j.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	// Second claim must not succeed: the job already left pending.
	if err := store.MarkProcessing(ctx, j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second MarkProcessing err = %v, want ErrNotFound", err)
	}
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := mustCreate(t, store, "report.pdf")

	if err := store.MarkProcessing(ctx, j.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	m := Metrics{TextLength: 5400, ImagesCount: 3, ExtractorUsed: "pdf", ProcessingSeconds: 1.25}
	if err := store.Complete(ctx, j.ID, m, "/outputs/"+j.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := store.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.OutputPath != "/outputs/"+j.ID {
		t.Errorf("OutputPath = %q, want %q", got.OutputPath, "/outputs/"+j.ID)
	}
	if got.TextLength != 5400 || got.ImagesCount != 3 || got.ExtractorUsed != "pdf" {
		t.Errorf("metrics not persisted: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil, want non-nil")
	}
}

func TestComplete_RequiresProcessing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := mustCreate(t, store, "report.pdf")

	err := store.Complete(ctx, j.ID, Metrics{}, "/outputs/"+j.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Complete from pending err = %v, want ErrNotFound", err)
	}
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := mustCreate(t, store, "broken.xlsx")

	if err := store.MarkProcessing(ctx, j.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := store.Fail(ctx, j.ID, "corrupt workbook"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, err := store.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, StatusFailed)
	}
	if got.Error != "corrupt workbook" {
		t.Errorf("Error = %q, want %q", got.Error, "corrupt workbook")
	}
	if got.OutputPath != "" {
		t.Errorf("OutputPath = %q, want empty on failure", got.OutputPath)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil, want non-nil")
	}
}

func TestFail_EmptyMessageGetsDefault(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := mustCreate(t, store, "doc.docx")

	if err := store.Fail(ctx, j.ID, ""); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, err := store.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Error == "" {
		t.Error("failed job carries empty error_message")
	}
}

func TestFail_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := mustCreate(t, store, "doc.md")

	if err := store.MarkProcessing(ctx, j.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := store.Complete(ctx, j.ID, Metrics{}, "/outputs/"+j.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := store.Fail(ctx, j.ID, "too late"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fail after Complete err = %v, want ErrNotFound", err)
	}
}

func TestList_NewestFirstAndFiltered(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Insert with explicit timestamps so ordering is deterministic.
	base := time.Now().UTC().Add(-time.Hour)
	for i, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO jobs (id, status, filename, file_size, file_type, created_at)
			VALUES (?, 'pending', ?, 1, '.pdf', ?)
		`, name, name, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := store.MarkProcessing(ctx, "b.pdf"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	jobs, err := store.List(ctx, 10, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("List returned %d jobs, want 3", len(jobs))
	}
	if jobs[0].ID != "c.pdf" || jobs[2].ID != "a.pdf" {
		t.Errorf("List order = [%s %s %s], want newest first", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}

	jobs, err = store.List(ctx, 10, StatusProcessing)
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "b.pdf" {
		t.Errorf("List(processing) = %v, want only b.pdf", jobs)
	}

	jobs, err = store.List(ctx, 2, "")
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("List(limit=2) returned %d jobs", len(jobs))
	}
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	insert := func(id string, status Status, createdAt time.Time, completedAt any) {
		t.Helper()
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO jobs (id, status, filename, file_size, file_type, created_at, completed_at)
			VALUES (?, ?, ?, 1, '.pdf', ?, ?)
		`, id, status, id, createdAt, completedAt)
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	insert("old-completed", StatusCompleted, now.Add(-48*time.Hour), now.Add(-30*time.Hour))
	insert("fresh-completed", StatusCompleted, now.Add(-2*time.Hour), now.Add(-time.Hour))
	insert("abandoned-pending", StatusPending, now.Add(-48*time.Hour), nil)
	insert("fresh-pending", StatusPending, now.Add(-time.Minute), nil)
	insert("stuck-processing", StatusProcessing, now.Add(-48*time.Hour), nil)

	cutoff := now.Add(-24 * time.Hour)
	ids, err := store.DeleteExpired(ctx, cutoff, cutoff)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}

	want := map[string]bool{"old-completed": true, "abandoned-pending": true}
	if len(ids) != len(want) {
		t.Fatalf("DeleteExpired returned %v, want ids %v", ids, want)
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("DeleteExpired removed unexpected job %s", id)
		}
	}

	// Survivors stay put, including the stuck processing job.
	for _, id := range []string{"fresh-completed", "fresh-pending", "stuck-processing"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Errorf("Get(%s) after sweep: %v", id, err)
		}
	}

	// A second run right away is a no-op.
	ids, err = store.DeleteExpired(ctx, cutoff, cutoff)
	if err != nil {
		t.Fatalf("DeleteExpired (again): %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("second DeleteExpired returned %v, want none", ids)
	}
}

func TestConcurrentCreateAndClaim(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const n = 100
	ids := make([]string, n)
	var wg sync.WaitGroup
	errCh := make(chan error, n)

	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := store.Create(ctx, "file.pdf", 1, ".pdf")
			if err != nil {
				errCh <- err
				return
			}
			ids[i] = j.ID
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent Create: %v", err)
	}

	errCh = make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.MarkProcessing(ctx, ids[i]); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent MarkProcessing: %v", err)
	}

	jobs, err := store.List(ctx, n+10, StatusProcessing)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != n {
		t.Errorf("got %d processing jobs, want %d (lost update)", len(jobs), n)
	}
}
