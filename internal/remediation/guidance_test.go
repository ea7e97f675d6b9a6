package remediation

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/ai"
	"github.com/complyforge/complyforge/internal/compliance"
)

// =============================================================================
// Step Parsing Tests
// =============================================================================

// TestParseNumberedSteps verifies the supported numbering formats.
func TestParseNumberedSteps(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "dot numbering",
			text: "1. Open the console\n2. Disable public access",
			want: []string{"Open the console", "Disable public access"},
		},
		{
			name: "paren numbering",
			text: "1) First thing\n2) Second thing",
			want: []string{"First thing", "Second thing"},
		},
		{
			name: "step prefix with colon",
			text: "Step 1: Review the policy\nstep 2: Apply the fix",
			want: []string{"Review the policy", "Apply the fix"},
		},
		{
			name: "mixed prose",
			text: "Do the following.\n1. Real step\nSome commentary.\n2. Another step",
			want: []string{"Real step", "Another step"},
		},
		{
			name: "no numbering",
			text: "just prose without any steps",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNumberedSteps(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d steps, got %d: %v", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("step %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

// =============================================================================
// Guidance Builder Tests
// =============================================================================

// TestGuidanceBuilder_FindingFallback verifies the builder parses the
// finding's own guidance when no AI collaborator is available.
func TestGuidanceBuilder_FindingFallback(t *testing.T) {
	builder := newGuidanceBuilder(ai.NewNoop(), zap.NewNop())

	finding := manualFinding("f-1", "vm-1", compliance.SeverityCritical)
	guide := builder.Build(context.Background(), finding)

	if len(guide.Steps) != 2 {
		t.Fatalf("expected 2 steps from the finding guidance, got %d", len(guide.Steps))
	}
	if guide.SkillLevel != "advanced" {
		t.Errorf("critical findings demand advanced skill, got %q", guide.SkillLevel)
	}
	if !strings.Contains(guide.Overview, "vm-1") {
		t.Errorf("overview should name the resource: %s", guide.Overview)
	}
	if guide.RollbackOutline == "" {
		t.Error("guidance must always include a rollback outline")
	}
}

// TestGuidanceBuilder_GenericFallbackSteps verifies a finding with no
// guidance text still yields actionable steps.
func TestGuidanceBuilder_GenericFallbackSteps(t *testing.T) {
	builder := newGuidanceBuilder(ai.NewNoop(), zap.NewNop())

	finding := manualFinding("f-1", "vm-1", compliance.SeverityLow)
	finding.Guidance = ""

	guide := builder.Build(context.Background(), finding)
	if len(guide.Steps) == 0 {
		t.Fatal("builder must never produce an empty step list")
	}
	if guide.SkillLevel != "basic" {
		t.Errorf("low findings are basic skill, got %q", guide.SkillLevel)
	}
}

// TestGuidanceBuilder_AIPreferred verifies generated text wins over the
// finding's own guidance when the collaborator is available.
func TestGuidanceBuilder_AIPreferred(t *testing.T) {
	texts := &fakeTexts{
		available: true,
		guidance:  "1. Generated first step\n2. Generated second step\n3. Generated third step",
	}
	builder := newGuidanceBuilder(texts, zap.NewNop())

	guide := builder.Build(context.Background(), manualFinding("f-1", "vm-1", compliance.SeverityMedium))
	if len(guide.Steps) != 3 {
		t.Fatalf("expected 3 generated steps, got %d", len(guide.Steps))
	}
	if !strings.HasPrefix(guide.Steps[0], "Generated") {
		t.Errorf("expected generated text to win: %s", guide.Steps[0])
	}
}

// TestGuidance_FamilyPermissions verifies the permission hints follow the
// control family.
func TestGuidance_FamilyPermissions(t *testing.T) {
	builder := newGuidanceBuilder(ai.NewNoop(), zap.NewNop())

	network := builder.Build(context.Background(), manualFinding("f-1", "vm-1", compliance.SeverityMedium))
	if len(network.RequiredPermissions) != 1 || !strings.Contains(network.RequiredPermissions[0], "network") {
		t.Errorf("network finding should need network permissions, got %v", network.RequiredPermissions)
	}

	encryption := autoFinding("f-2", "bucket-1", compliance.SeverityMedium)
	encGuide := builder.Build(context.Background(), encryption)
	found := false
	for _, perm := range encGuide.RequiredPermissions {
		if strings.Contains(perm, "key management") {
			found = true
		}
	}
	if !found {
		t.Errorf("encryption finding should need key management access, got %v", encGuide.RequiredPermissions)
	}
}
