package remediation

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/cloud"
)

// =============================================================================
// Snapshot Tests
// =============================================================================

// TestSnapshot_CaptureRestoreRoundTrip verifies a snapshot restores the
// exact captured properties.
func TestSnapshot_CaptureRestoreRoundTrip(t *testing.T) {
	client := seededClient("bucket-1", cloud.Properties{"encryption": "legacy", "versioning": false})
	store := NewSnapshotStore(client, zap.NewNop())
	ctx := context.Background()

	snap, err := store.Capture(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if snap.ID == "" {
		t.Error("snapshot must carry an ID")
	}

	// Drift the resource.
	if err := client.UpdateResource(ctx, "bucket-1", cloud.Properties{"encryption": "AES256", "versioning": true}); err != nil {
		t.Fatalf("UpdateResource failed: %v", err)
	}

	if err := store.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	res, err := client.GetResource(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	if res.Properties["encryption"] != "legacy" || res.Properties["versioning"] != false {
		t.Errorf("restore should revert to captured state, got %v", res.Properties)
	}
}

// TestSnapshot_Immutable verifies neither resource drift nor restore mutates
// a captured snapshot, so restoring twice is safe.
func TestSnapshot_Immutable(t *testing.T) {
	client := seededClient("bucket-1", cloud.Properties{"encryption": "legacy"})
	store := NewSnapshotStore(client, zap.NewNop())
	ctx := context.Background()

	snap, err := store.Capture(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	if err := client.UpdateResource(ctx, "bucket-1", cloud.Properties{"encryption": "AES256"}); err != nil {
		t.Fatalf("UpdateResource failed: %v", err)
	}
	if snap.Properties["encryption"] != "legacy" {
		t.Fatal("resource drift leaked into the captured snapshot")
	}

	for i := 0; i < 2; i++ {
		if err := store.Restore(ctx, snap); err != nil {
			t.Fatalf("Restore %d failed: %v", i+1, err)
		}
	}
	if snap.Properties["encryption"] != "legacy" {
		t.Error("restore mutated the snapshot")
	}

	stored, ok := store.Get(snap.ID)
	if !ok {
		t.Fatal("snapshot should be retrievable by ID")
	}
	if stored.Properties["encryption"] != "legacy" {
		t.Error("stored snapshot was mutated")
	}
}

// TestSnapshot_RestoreNil verifies restoring a nil snapshot is an error, not
// a panic.
func TestSnapshot_RestoreNil(t *testing.T) {
	store := NewSnapshotStore(cloud.NewMemoryClient(), zap.NewNop())
	if err := store.Restore(context.Background(), nil); err == nil {
		t.Fatal("expected an error for a nil snapshot")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

// TestValidate_AllChecksPass verifies the AND semantics over a healthy
// execution.
func TestValidate_AllChecksPass(t *testing.T) {
	client := seededClient("bucket-1", cloud.Properties{"encryption": "AES256"})
	engine := NewValidationEngine(client, zap.NewNop())

	exec := &Execution{
		ResourceID:    "bucket-1",
		Success:       true,
		StepsExecuted: []Step{{Description: "enabled encryption"}},
	}

	result := engine.Validate(context.Background(), exec)
	if !result.IsValid {
		t.Fatalf("expected valid result, got failure: %s", result.FailureReason)
	}
	if len(result.Checks) != 3 {
		t.Errorf("expected 3 checks, got %d", len(result.Checks))
	}
}

// TestValidate_SingleFailureInvalidates verifies one failed check flips the
// whole result and its description lands in the failure reason.
func TestValidate_SingleFailureInvalidates(t *testing.T) {
	client := seededClient("bucket-1", cloud.Properties{})
	engine := NewValidationEngine(client, zap.NewNop())

	exec := &Execution{
		ResourceID: "bucket-1",
		Success:    true,
		// no steps executed
	}

	result := engine.Validate(context.Background(), exec)
	if result.IsValid {
		t.Fatal("expected invalid result")
	}
	if result.FailureReason == "" {
		t.Error("failure reason must name the failing check")
	}
}

// TestValidate_UnreachableResource verifies the live re-check fails for a
// missing resource.
func TestValidate_UnreachableResource(t *testing.T) {
	engine := NewValidationEngine(cloud.NewMemoryClient(), zap.NewNop())

	exec := &Execution{
		ResourceID:    "gone",
		Success:       true,
		StepsExecuted: []Step{{Description: "did something"}},
	}

	result := engine.Validate(context.Background(), exec)
	if result.IsValid {
		t.Fatal("expected invalid result for an unreachable resource")
	}
}
