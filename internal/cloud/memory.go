package cloud

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryClient is an in-memory ResourceClient used for local mode and tests.
// It counts get/update calls so tests can assert on control-plane traffic.
type MemoryClient struct {
	mu        sync.RWMutex
	resources map[string]*Resource

	getCalls    atomic.Int64
	updateCalls atomic.Int64
}

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		resources: make(map[string]*Resource),
	}
}

// Seed registers a resource, replacing any existing one with the same ID.
func (c *MemoryClient) Seed(res *Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[res.ID] = &Resource{
		ID:         res.ID,
		Type:       res.Type,
		Properties: res.Properties.Clone(),
		Tags:       cloneTags(res.Tags),
	}
}

// GetResource fetches a copy of the resource so callers cannot mutate the
// stored state through the returned pointer.
func (c *MemoryClient) GetResource(ctx context.Context, id string) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.getCalls.Add(1)

	c.mu.RLock()
	defer c.mu.RUnlock()

	res, ok := c.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	return &Resource{
		ID:         res.ID,
		Type:       res.Type,
		Properties: res.Properties.Clone(),
		Tags:       cloneTags(res.Tags),
	}, nil
}

// UpdateResource replaces the stored properties of the resource.
func (c *MemoryClient) UpdateResource(ctx context.Context, id string, props Properties) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.updateCalls.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.resources[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	res.Properties = props.Clone()
	return nil
}

// GetCalls returns the number of GetResource calls observed.
func (c *MemoryClient) GetCalls() int64 { return c.getCalls.Load() }

// UpdateCalls returns the number of UpdateResource calls observed.
func (c *MemoryClient) UpdateCalls() int64 { return c.updateCalls.Load() }

func cloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
