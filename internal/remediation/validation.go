package remediation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/cloud"
)

// ValidationEngine decides whether a completed execution actually resolved
// its finding. IsValid is the logical AND of all checks.
type ValidationEngine struct {
	client cloud.ResourceClient
	logger *zap.Logger
}

// NewValidationEngine creates a validation engine. The client may be used
// for a live re-check of the remediated resource.
func NewValidationEngine(client cloud.ResourceClient, logger *zap.Logger) *ValidationEngine {
	return &ValidationEngine{client: client, logger: logger}
}

// Validate runs the validation battery against a completed execution.
func (v *ValidationEngine) Validate(ctx context.Context, exec *Execution) *ValidationResult {
	result := &ValidationResult{
		ValidatedAt: time.Now().UTC(),
	}

	result.Checks = append(result.Checks, ValidationCheck{
		Name:        "execution_succeeded",
		Description: "execution reported success",
		Passed:      exec.Success,
	})

	result.Checks = append(result.Checks, ValidationCheck{
		Name:        "steps_executed",
		Description: "at least one remediation step was executed",
		Passed:      len(exec.StepsExecuted) > 0,
	})

	// Live re-check: the remediated resource must still be readable. A
	// destroyed or inaccessible resource means the fix cannot be confirmed.
	if exec.ResourceID != "" && v.client != nil {
		_, err := v.client.GetResource(ctx, exec.ResourceID)
		result.Checks = append(result.Checks, ValidationCheck{
			Name:        "resource_reachable",
			Description: "remediated resource is readable after the change",
			Passed:      err == nil,
		})
		if err != nil {
			v.logger.Warn("post-remediation resource read failed",
				zap.String("resource_id", exec.ResourceID),
				zap.Error(err),
			)
		}
	}

	result.IsValid = true
	var failed []string
	for _, check := range result.Checks {
		if !check.Passed {
			result.IsValid = false
			failed = append(failed, check.Description)
		}
	}
	result.FailureReason = strings.Join(failed, "; ")

	return result
}
