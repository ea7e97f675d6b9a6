// Package cloud provides the control-plane client used to read and write
// cloud resource configuration.
package cloud

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrUnsupportedKind  = errors.New("unsupported resource kind")
)

// Properties is the configuration bag of a resource as seen by the
// control plane.
type Properties map[string]any

// Clone returns a deep-enough copy for snapshot use. Nested maps of strings
// are copied; other values are treated as immutable.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		if m, ok := v.(map[string]string); ok {
			mc := make(map[string]string, len(m))
			for mk, mv := range m {
				mc[mk] = mv
			}
			out[k] = mc
			continue
		}
		out[k] = v
	}
	return out
}

// Resource is a point-in-time view of one cloud resource.
type Resource struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Properties Properties        `json:"properties"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// ResourceClient is the narrow contract against the cloud control plane.
// Implementations must be safe for concurrent use.
type ResourceClient interface {
	// GetResource fetches the current configuration of a resource.
	GetResource(ctx context.Context, id string) (*Resource, error)
	// UpdateResource writes the given properties back to the resource.
	UpdateResource(ctx context.Context, id string, props Properties) error
}
