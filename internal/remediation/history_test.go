package remediation

import (
	"context"
	"testing"
	"time"

	"github.com/complyforge/complyforge/internal/compliance"
)

// =============================================================================
// Store Tests
// =============================================================================

func recordedExecution(findingID string, status Status, started time.Time, took time.Duration) *Execution {
	exec := NewExecution(autoFinding(findingID, "res-1", compliance.SeverityHigh), ExecuteOptions{})
	exec.Status = status
	exec.Success = status == StatusCompleted
	exec.StartedAt = started
	completed := started.Add(took)
	exec.CompletedAt = &completed
	return exec
}

// TestMemoryStore_RangeWindow verifies [start, end) semantics and ascending
// order by start time.
func TestMemoryStore_RangeWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	late := recordedExecution("f-late", StatusCompleted, base.Add(2*time.Hour), time.Minute)
	early := recordedExecution("f-early", StatusCompleted, base, time.Minute)
	mid := recordedExecution("f-mid", StatusFailed, base.Add(time.Hour), time.Minute)

	for _, exec := range []*Execution{late, early, mid} {
		if err := store.Append(ctx, exec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.Range(ctx, base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 executions in window, got %d", len(got))
	}
	if got[0].FindingID != "f-early" || got[1].FindingID != "f-mid" {
		t.Errorf("expected ascending start order, got %s, %s", got[0].FindingID, got[1].FindingID)
	}

	// End of the window is exclusive.
	for _, exec := range got {
		if exec.FindingID == "f-late" {
			t.Error("execution at the window end must be excluded")
		}
	}

	// Zero end means "now".
	all, err := store.Range(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected all 3 executions, got %d", len(all))
	}
}

// =============================================================================
// Tracker Tests
// =============================================================================

// TestHistoryTracker_Progress verifies the derived metrics over a mixed
// ledger.
func TestHistoryTracker_Progress(t *testing.T) {
	tracker := NewHistoryTracker(NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	executions := []*Execution{
		recordedExecution("f-1", StatusCompleted, base, 2*time.Minute),
		recordedExecution("f-2", StatusCompleted, base.Add(time.Minute), 4*time.Minute),
		recordedExecution("f-3", StatusFailed, base.Add(2*time.Minute), 3*time.Minute),
		recordedExecution("f-4", StatusRolledBack, base.Add(3*time.Minute), 3*time.Minute),
	}
	for _, exec := range executions {
		if err := tracker.Record(ctx, exec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	progress, err := tracker.Progress(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}

	if progress.TotalFindings != 4 {
		t.Errorf("expected 4 total, got %d", progress.TotalFindings)
	}
	if progress.Completed != 2 || progress.Failed != 1 || progress.RolledBack != 1 {
		t.Errorf("unexpected counts: %+v", progress)
	}
	if progress.AverageDuration != 3*time.Minute {
		t.Errorf("expected 3m average duration, got %s", progress.AverageDuration)
	}
}

// TestHistoryTracker_SinceFilter verifies the since filter excludes earlier
// executions.
func TestHistoryTracker_SinceFilter(t *testing.T) {
	tracker := NewHistoryTracker(NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)

	old := recordedExecution("f-old", StatusCompleted, base, time.Minute)
	recent := recordedExecution("f-recent", StatusCompleted, base.Add(90*time.Minute), time.Minute)
	for _, exec := range []*Execution{old, recent} {
		if err := tracker.Record(ctx, exec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	progress, err := tracker.Progress(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if progress.TotalFindings != 1 {
		t.Errorf("expected 1 execution since the cutoff, got %d", progress.TotalFindings)
	}
}

// TestHistoryTracker_History verifies History returns executions plus
// metrics for the same window.
func TestHistoryTracker_History(t *testing.T) {
	tracker := NewHistoryTracker(NewMemoryStore())
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	if err := tracker.Record(ctx, recordedExecution("f-1", StatusCompleted, base, time.Minute)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	history, err := tracker.History(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history.Executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(history.Executions))
	}
	if history.Metrics.Completed != 1 {
		t.Errorf("expected metrics over the same window, got %+v", history.Metrics)
	}
}
