package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/cloud"
)

// SnapshotStore captures and restores point-in-time resource configuration.
// Captured snapshots are never mutated; restore writes the captured
// properties back to the resource and leaves the snapshot intact.
type SnapshotStore struct {
	client cloud.ResourceClient
	logger *zap.Logger

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewSnapshotStore creates a snapshot store over the given control-plane
// client.
func NewSnapshotStore(client cloud.ResourceClient, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		client:    client,
		logger:    logger,
		snapshots: make(map[string]*Snapshot),
	}
}

// Capture reads the resource's current configuration and stores it as a new
// immutable snapshot.
func (s *SnapshotStore) Capture(ctx context.Context, resourceID string) (*Snapshot, error) {
	res, err := s.client.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot of %s: %w", resourceID, err)
	}

	snap := &Snapshot{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		CapturedAt: time.Now().UTC(),
		Properties: res.Properties.Clone(),
		Tags:       res.Tags,
	}

	s.mu.Lock()
	s.snapshots[snap.ID] = snap
	s.mu.Unlock()

	s.logger.Debug("snapshot captured",
		zap.String("snapshot_id", snap.ID),
		zap.String("resource_id", resourceID),
	)
	return snap, nil
}

// Restore writes the snapshot's captured properties back to the resource.
// The snapshot itself is never modified; restoring twice is safe.
func (s *SnapshotStore) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore called with nil snapshot")
	}

	if err := s.client.UpdateResource(ctx, snap.ResourceID, snap.Properties.Clone()); err != nil {
		return fmt.Errorf("restoring snapshot %s to %s: %w", snap.ID, snap.ResourceID, err)
	}

	s.logger.Info("snapshot restored",
		zap.String("snapshot_id", snap.ID),
		zap.String("resource_id", snap.ResourceID),
	)
	return nil
}

// Get returns a previously captured snapshot by ID.
func (s *SnapshotStore) Get(id string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	return snap, ok
}
