package remediation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/ai"
	"github.com/complyforge/complyforge/internal/compliance"
)

// Guidance is the structured manual-remediation artifact produced when no
// automation path applies. Every finding ends in either an automated
// execution or one of these, never a silent skip.
type Guidance struct {
	Overview            string   `json:"overview"`
	Steps               []string `json:"steps"`
	Prerequisites       []string `json:"prerequisites,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	SkillLevel          string   `json:"skill_level"`
	RollbackOutline     string   `json:"rollback_outline"`
}

// numberedStep matches lines like "1. do the thing", "2) other thing",
// or "Step 3: final thing".
var numberedStep = regexp.MustCompile(`(?mi)^\s*(?:step\s+)?\d+[.):]\s*(.+)$`)

// guidanceBuilder builds Guidance artifacts, preferring AI-generated text
// when the collaborator is available and falling back to the finding's own
// guidance field.
type guidanceBuilder struct {
	texts  ai.Service
	logger *zap.Logger
}

func newGuidanceBuilder(texts ai.Service, logger *zap.Logger) *guidanceBuilder {
	return &guidanceBuilder{texts: texts, logger: logger}
}

// Build produces the manual-remediation guide for a finding.
func (b *guidanceBuilder) Build(ctx context.Context, finding compliance.Finding) *Guidance {
	text := finding.Guidance
	if b.texts.Available() {
		generated, err := b.texts.GenerateGuidance(ctx, finding)
		if err != nil {
			b.logger.Warn("guidance generation failed, using finding guidance",
				zap.String("finding_id", finding.ID),
				zap.Error(err),
			)
		} else {
			text = generated
		}
	}

	steps := ParseNumberedSteps(text)
	if len(steps) == 0 {
		steps = fallbackSteps(finding)
	}

	return &Guidance{
		Overview: fmt.Sprintf("Manual remediation required for %s on %s: %s",
			strings.Join(finding.ControlIDs, ", "), finding.ResourceID, finding.Title),
		Steps:               steps,
		Prerequisites:       prerequisitesFor(finding),
		RequiredPermissions: permissionsFor(finding),
		SkillLevel:          skillLevelFor(finding.Severity),
		RollbackOutline: fmt.Sprintf(
			"Record the current configuration of %s before changing it; to roll back, reapply the recorded configuration.",
			finding.ResourceID),
	}
}

// ParseNumberedSteps extracts ordered steps from free-text guidance.
func ParseNumberedSteps(text string) []string {
	matches := numberedStep.FindAllStringSubmatch(text, -1)
	steps := make([]string, 0, len(matches))
	for _, m := range matches {
		step := strings.TrimSpace(m[1])
		if step != "" {
			steps = append(steps, step)
		}
	}
	return steps
}

func fallbackSteps(finding compliance.Finding) []string {
	return []string{
		fmt.Sprintf("Review the violation on %s: %s", finding.ResourceID, finding.Description),
		fmt.Sprintf("Apply the configuration required by %s", strings.Join(finding.ControlIDs, ", ")),
		"Re-run the compliance scan to confirm the finding is resolved",
	}
}

func prerequisitesFor(finding compliance.Finding) []string {
	prereqs := []string{
		"Access to the cloud account owning the resource",
		"A maintenance window if the change may interrupt traffic",
	}
	if finding.InFamily(compliance.FamilyEncryption) {
		prereqs = append(prereqs, "A key-management key usable by the resource")
	}
	return prereqs
}

func permissionsFor(finding compliance.Finding) []string {
	switch {
	case finding.InFamily(compliance.FamilyNetwork):
		return []string{"network configuration write access"}
	case finding.InFamily(compliance.FamilyEncryption):
		return []string{"resource configuration write access", "key management read access"}
	case finding.InFamily(compliance.FamilyAccessControl):
		return []string{"identity and access management write access"}
	default:
		return []string{"resource configuration write access"}
	}
}

func skillLevelFor(sev compliance.Severity) string {
	switch sev {
	case compliance.SeverityCritical, compliance.SeverityHigh:
		return "advanced"
	case compliance.SeverityMedium:
		return "intermediate"
	default:
		return "basic"
	}
}
