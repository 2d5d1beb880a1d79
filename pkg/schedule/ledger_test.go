package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/vendor-sync/pkg/watermark"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := watermark.OpenDB(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ledger, err := NewLedger(db)
	if err != nil {
		t.Fatalf("NewLedger() error = %v", err)
	}
	return ledger
}

func TestRecordAndStatus(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	ranAt := time.Date(2024, 8, 11, 3, 0, 0, 0, time.UTC)
	next := ranAt.Add(24 * time.Hour)

	runID, err := ledger.RecordRun(ctx, "orders-daily", "orders", "success", "", ranAt, next)
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if runID == "" {
		t.Fatal("expected non-empty run ID")
	}

	run, err := ledger.Status(ctx, "orders-daily")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if run.RunID != runID {
		t.Errorf("RunID = %q, want %q", run.RunID, runID)
	}
	if run.TaskType != "orders" {
		t.Errorf("TaskType = %q, want orders", run.TaskType)
	}
	if run.LastStatus != "success" {
		t.Errorf("LastStatus = %q, want success", run.LastStatus)
	}
	if !run.LastRunAt.Equal(ranAt) {
		t.Errorf("LastRunAt = %v, want %v", run.LastRunAt, ranAt)
	}
	if !run.NextScheduled.Equal(next) {
		t.Errorf("NextScheduled = %v, want %v", run.NextScheduled, next)
	}
}

func TestRecordReplacesPreviousRun(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	first := time.Date(2024, 8, 10, 3, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	firstID, err := ledger.RecordRun(ctx, "orders-daily", "orders", "failed", "gateway timeout", first, time.Time{})
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	secondID, err := ledger.RecordRun(ctx, "orders-daily", "orders", "success", "", second, time.Time{})
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if firstID == secondID {
		t.Error("expected distinct run IDs")
	}

	run, err := ledger.Status(ctx, "orders-daily")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if run.RunID != secondID {
		t.Errorf("RunID = %q, want latest %q", run.RunID, secondID)
	}
	if run.LastStatus != "success" {
		t.Errorf("LastStatus = %q, want success", run.LastStatus)
	}
	if run.LastError != "" {
		t.Errorf("LastError = %q, want cleared", run.LastError)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Status(context.Background(), "never-ran")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Status() error = %v, want ErrNotFound", err)
	}
}

func TestAll(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	ranAt := time.Date(2024, 8, 11, 3, 0, 0, 0, time.UTC)

	if _, err := ledger.RecordRun(ctx, "refunds-daily", "refunds", "success", "", ranAt, time.Time{}); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if _, err := ledger.RecordRun(ctx, "orders-daily", "orders", "partial", "page 3 failed", ranAt, time.Time{}); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	runs, err := ledger.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Ordered by job name.
	if runs[0].JobName != "orders-daily" || runs[1].JobName != "refunds-daily" {
		t.Errorf("order = [%s, %s], want [orders-daily, refunds-daily]", runs[0].JobName, runs[1].JobName)
	}
}
