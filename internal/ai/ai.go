// Package ai provides the optional text-generation collaborator used for
// AI-assisted remediation scripts, guidance text, and contextual
// prioritization. Call sites depend on the Service interface and never
// branch on presence: a disabled deployment gets the Noop implementation.
package ai

import (
	"context"
	"errors"

	"github.com/complyforge/complyforge/internal/compliance"
)

// ErrUnavailable is returned by the null implementation for operations that
// require a configured model.
var ErrUnavailable = errors.New("text generation service not configured")

// Service generates remediation scripts and guidance text.
type Service interface {
	// Available reports whether the service can produce output. The null
	// implementation returns false so strategy chains can skip it without
	// round-tripping an error.
	Available() bool

	// GenerateScript produces a remediation script for the finding in the
	// given scripting dialect (e.g. "bash").
	GenerateScript(ctx context.Context, finding compliance.Finding, dialect string) (string, error)

	// GenerateGuidance produces a natural-language remediation explanation.
	GenerateGuidance(ctx context.Context, finding compliance.Finding) (string, error)

	// PrioritizeWithContext re-ranks finding IDs given business context.
	// The returned slice orders finding IDs from most to least urgent.
	PrioritizeWithContext(ctx context.Context, findings []compliance.Finding, businessContext string) ([]string, error)
}

// Noop is the null-object Service used when no AI collaborator is configured.
type Noop struct{}

// NewNoop returns the null Service.
func NewNoop() Noop { return Noop{} }

func (Noop) Available() bool { return false }

func (Noop) GenerateScript(ctx context.Context, finding compliance.Finding, dialect string) (string, error) {
	return "", ErrUnavailable
}

func (Noop) GenerateGuidance(ctx context.Context, finding compliance.Finding) (string, error) {
	return "", ErrUnavailable
}

// PrioritizeWithContext preserves the input order, which keeps the planner's
// deterministic ordering intact when no model is configured.
func (Noop) PrioritizeWithContext(ctx context.Context, findings []compliance.Finding, businessContext string) ([]string, error) {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.ID)
	}
	return ids, nil
}
