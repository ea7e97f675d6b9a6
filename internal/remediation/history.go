package remediation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists finished executions. The engine is storage-agnostic; the
// in-memory implementation backs tests and local mode, the Redis one backs
// deployments.
type Store interface {
	// Append records a terminal execution exactly once.
	Append(ctx context.Context, exec *Execution) error
	// Range returns executions whose start time falls in [start, end),
	// ordered by start time ascending. A zero end means "now".
	Range(ctx context.Context, start, end time.Time) ([]*Execution, error)
}

// MemoryStore is the trivial in-memory Store.
type MemoryStore struct {
	mu         sync.RWMutex
	executions []*Execution
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append records the execution.
func (s *MemoryStore) Append(ctx context.Context, exec *Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, exec)
	return nil
}

// Range returns executions started within the window.
func (s *MemoryStore) Range(ctx context.Context, start, end time.Time) ([]*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now().UTC().Add(time.Second)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Execution
	for _, exec := range s.executions {
		if !exec.StartedAt.Before(start) && exec.StartedAt.Before(end) {
			out = append(out, exec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// HistoryTracker is the durable ledger of past executions and the source of
// progress metrics and audit trails.
type HistoryTracker struct {
	store Store
}

// NewHistoryTracker creates a tracker over the given store.
func NewHistoryTracker(store Store) *HistoryTracker {
	return &HistoryTracker{store: store}
}

// Record appends a terminal execution to the ledger. Executions are
// immutable once recorded.
func (t *HistoryTracker) Record(ctx context.Context, exec *Execution) error {
	return t.store.Append(ctx, exec)
}

// History returns the executions in [start, end) plus derived metrics.
func (t *HistoryTracker) History(ctx context.Context, start, end time.Time) (*History, error) {
	executions, err := t.store.Range(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return &History{
		Executions: executions,
		Metrics:    computeProgress(executions),
	}, nil
}

// Progress summarizes recorded executions since the given time. A zero
// since covers the full ledger.
func (t *HistoryTracker) Progress(ctx context.Context, since time.Time) (Progress, error) {
	executions, err := t.store.Range(ctx, since, time.Time{})
	if err != nil {
		return Progress{}, err
	}
	return computeProgress(executions), nil
}

func computeProgress(executions []*Execution) Progress {
	p := Progress{TotalFindings: len(executions)}

	var totalDuration time.Duration
	var finished int
	for _, exec := range executions {
		switch exec.Status {
		case StatusCompleted:
			p.Completed++
		case StatusFailed:
			p.Failed++
		case StatusRolledBack:
			p.RolledBack++
		}
		if d := exec.Duration(); d > 0 {
			totalDuration += d
			finished++
		}
	}
	if finished > 0 {
		p.AverageDuration = totalDuration / time.Duration(finished)
	}
	return p
}
