package cloud

import (
	"context"
	"errors"
	"testing"
)

// =============================================================================
// Isolation Tests
// =============================================================================

// TestMemoryClient_CopySemantics verifies callers cannot mutate stored state
// through returned or seeded values.
func TestMemoryClient_CopySemantics(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()

	seed := &Resource{
		ID:         "bucket-1",
		Type:       "storage_bucket",
		Properties: Properties{"encryption": "legacy"},
	}
	client.Seed(seed)

	// Mutating the seed value after the fact must not leak in.
	seed.Properties["encryption"] = "tampered"

	res, err := client.GetResource(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	if res.Properties["encryption"] != "legacy" {
		t.Errorf("seed mutation leaked into the store: %v", res.Properties)
	}

	// Mutating a fetched copy must not leak in either.
	res.Properties["encryption"] = "also-tampered"
	again, err := client.GetResource(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	if again.Properties["encryption"] != "legacy" {
		t.Errorf("fetched copy mutation leaked into the store: %v", again.Properties)
	}
}

// TestMemoryClient_UpdateAndCounters verifies updates land and the call
// counters track control-plane traffic.
func TestMemoryClient_UpdateAndCounters(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()

	client.Seed(&Resource{ID: "bucket-1", Properties: Properties{"encryption": ""}})

	if err := client.UpdateResource(ctx, "bucket-1", Properties{"encryption": "AES256"}); err != nil {
		t.Fatalf("UpdateResource failed: %v", err)
	}

	res, err := client.GetResource(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	if res.Properties["encryption"] != "AES256" {
		t.Errorf("update did not land: %v", res.Properties)
	}

	if client.GetCalls() != 1 {
		t.Errorf("expected 1 get, got %d", client.GetCalls())
	}
	if client.UpdateCalls() != 1 {
		t.Errorf("expected 1 update, got %d", client.UpdateCalls())
	}
}

// TestMemoryClient_NotFound verifies the sentinel error for unknown
// resources.
func TestMemoryClient_NotFound(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()

	if _, err := client.GetResource(ctx, "nope"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("expected ErrResourceNotFound, got %v", err)
	}
	if err := client.UpdateResource(ctx, "nope", Properties{}); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("expected ErrResourceNotFound, got %v", err)
	}
}

// =============================================================================
// Properties Tests
// =============================================================================

// TestProperties_Clone verifies clone isolation and nil handling.
func TestProperties_Clone(t *testing.T) {
	var nilProps Properties
	if nilProps.Clone() != nil {
		t.Error("cloning nil properties should stay nil")
	}

	props := Properties{"a": 1, "b": "two"}
	clone := props.Clone()
	clone["a"] = 99

	if props["a"] != 1 {
		t.Error("clone mutation leaked into the original")
	}
}
