// Package compliance provides the finding schema and control mapping for cloud compliance scans
package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Severity represents finding severity, ordered from least to most severe.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison and sorting.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric ordering of the severity. Unknown severities rank
// below Low so malformed input never outranks a real finding.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at least as severe as floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() >= floor.Rank()
}

// RiskScore returns the risk weight used for plan risk-reduction math.
func (s Severity) RiskScore() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7.5
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 2.5
	default:
		return 0
	}
}

// ControlFamily groups related compliance controls (e.g. access control, encryption).
type ControlFamily string

const (
	FamilyAccessControl ControlFamily = "access_control"
	FamilyEncryption    ControlFamily = "encryption"
	FamilyNetwork       ControlFamily = "network"
	FamilyLogging       ControlFamily = "logging"
	FamilyTransport     ControlFamily = "transport"
)

// ActionKind is the closed set of declarative remediation action types.
type ActionKind string

const (
	ActionApplyPolicy          ActionKind = "apply_policy"
	ActionEnableEncryption     ActionKind = "enable_encryption"
	ActionEnforceTLSVersion    ActionKind = "enforce_tls_version"
	ActionConfigureLogging     ActionKind = "configure_logging"
	ActionConfigureNetworkRule ActionKind = "configure_network_rule"
)

// RemediationAction is a declarative remediation candidate attached to a finding.
type RemediationAction struct {
	Kind        ActionKind     `json:"kind"`
	Description string         `json:"description"`
	Command     string         `json:"command,omitempty"`
	ScriptRef   string         `json:"script_ref,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Finding represents a detected compliance violation on one cloud resource.
// Findings are produced by upstream scanning and consumed read-only by the
// remediation engine.
type Finding struct {
	// Core identification
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	Severity     Severity `json:"severity"`
	ResourceID   string   `json:"resource_id"`
	ResourceType string   `json:"resource_type"`

	// Control mapping
	ControlIDs      []string        `json:"control_ids"`
	ControlFamilies []ControlFamily `json:"control_families,omitempty"`

	// Content
	Title       string `json:"title"`
	Description string `json:"description"`
	Guidance    string `json:"guidance,omitempty"`

	// Remediation
	IsAutoRemediable   bool                `json:"is_auto_remediable"`
	RemediationActions []RemediationAction `json:"remediation_actions,omitempty"`

	// Timestamps
	DetectedAt time.Time `json:"detected_at"`

	// Deduplication
	DeduplicationKey string `json:"deduplication_key,omitempty"`

	// Raw data
	Raw  map[string]any    `json:"raw,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`
}

// GenerateDeduplicationKey generates a stable key from the violated controls,
// resource and source.
func (f *Finding) GenerateDeduplicationKey() string {
	components := []string{
		strings.Join(f.ControlIDs, ","),
		f.ResourceID,
		f.Source,
	}
	data := strings.Join(components, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// PrimaryControl returns the first mapped control ID, or empty.
func (f *Finding) PrimaryControl() string {
	if len(f.ControlIDs) == 0 {
		return ""
	}
	return f.ControlIDs[0]
}

// InFamily reports whether the finding maps to the given control family.
func (f *Finding) InFamily(fam ControlFamily) bool {
	for _, cf := range f.ControlFamilies {
		if cf == fam {
			return true
		}
	}
	return false
}

// HasDeclarativeActions reports whether the finding carries explicit
// remediation actions the engine can dispatch on.
func (f *Finding) HasDeclarativeActions() bool {
	return len(f.RemediationActions) > 0
}
