// Package remediation implements the remediation orchestration engine: plan
// generation, multi-strategy path resolution, coordinated execution with
// snapshot/rollback, post-execution validation, and history tracking.
//
// This module was consolidated from cf-remediation-agents.
package remediation

import (
	"errors"
	"time"

	"github.com/complyforge/complyforge/internal/cloud"
	"github.com/complyforge/complyforge/internal/compliance"
)

// Common errors.
var (
	ErrAutomationDisabled = errors.New("automated remediation is disabled by configuration")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrNotPending         = errors.New("execution is not pending approval")
	ErrApprovalRequired   = errors.New("execution requires approval before it can run")
	ErrBatchAborted       = errors.New("batch aborted")
)

// Status is the execution state machine. Transitions are monotonic: once an
// execution leaves Pending it never returns, and terminal states are final.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusInProgress Status = "in_progress"
	StatusValidating Status = "validating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack, StatusRejected:
		return true
	}
	return false
}

// Priority buckets derived from finding severity.
const (
	PriorityImmediate  = "Immediate"
	PriorityWithin24h  = "Within 24h"
	PriorityWithin7d   = "Within 7 days"
	PriorityWithin30d  = "Within 30 days"
	PriorityBestEffort = "Best effort"
)

// priorityRank orders priority buckets for sorting and timeline phases.
var priorityRank = map[string]int{
	PriorityImmediate:  0,
	PriorityWithin24h:  1,
	PriorityWithin7d:   2,
	PriorityWithin30d:  3,
	PriorityBestEffort: 4,
}

// PriorityForSeverity maps a severity to its priority bucket.
func PriorityForSeverity(sev compliance.Severity) string {
	switch sev {
	case compliance.SeverityCritical:
		return PriorityImmediate
	case compliance.SeverityHigh:
		return PriorityWithin24h
	case compliance.SeverityMedium:
		return PriorityWithin7d
	case compliance.SeverityLow:
		return PriorityWithin30d
	default:
		return PriorityBestEffort
	}
}

// EstimatedEffort returns the planning effort bucket for a severity and
// automation mode. Values are monotone in severity within each mode.
func EstimatedEffort(sev compliance.Severity, automated bool) time.Duration {
	if automated {
		switch sev {
		case compliance.SeverityCritical:
			return 30 * time.Minute
		case compliance.SeverityHigh:
			return 20 * time.Minute
		case compliance.SeverityMedium:
			return 15 * time.Minute
		default:
			return 10 * time.Minute
		}
	}
	switch sev {
	case compliance.SeverityCritical:
		return 4 * time.Hour
	case compliance.SeverityHigh:
		return 3 * time.Hour
	case compliance.SeverityMedium:
		return 2 * time.Hour
	default:
		return 1 * time.Hour
	}
}

// Step is one planned or executed remediation step.
type Step struct {
	Description string `json:"description"`
	Command     string `json:"command,omitempty"`
}

// RemediationItem is the planned unit of work for one finding.
type RemediationItem struct {
	FindingID           string              `json:"finding_id"`
	ControlID           string              `json:"control_id"`
	ResourceID          string              `json:"resource_id"`
	Severity            compliance.Severity `json:"severity"`
	Priority            string              `json:"priority"`
	Steps               []Step              `json:"steps"`
	ValidationSteps     []string            `json:"validation_steps,omitempty"`
	RollbackPlan        string              `json:"rollback_plan,omitempty"`
	DependsOn           []string            `json:"depends_on,omitempty"`
	AutomationAvailable bool                `json:"automation_available"`
	EstimatedEffort     time.Duration       `json:"estimated_effort"`
}

// TimelinePhase is one priority bucket of the plan timeline.
type TimelinePhase struct {
	Name       string        `json:"name"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Duration   time.Duration `json:"duration"`
	FindingIDs []string      `json:"finding_ids"`
}

// RemediationPlan is the prioritized, dependency-aware plan for a group of
// findings. Plans are created fresh per request and not persisted here.
type RemediationPlan struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	Items            []RemediationItem `json:"items"`
	TotalEffort      time.Duration     `json:"total_effort"`
	RiskReductionPct float64           `json:"risk_reduction_pct"`
	Summary          string            `json:"summary"`
	Timeline         []TimelinePhase   `json:"timeline"`
}

// Snapshot is an immutable capture of a resource's configuration at a point
// in time, used only for restore.
type Snapshot struct {
	ID         string            `json:"id"`
	ResourceID string            `json:"resource_id"`
	CapturedAt time.Time         `json:"captured_at"`
	Properties cloud.Properties  `json:"properties"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// ValidationCheck is one check in a validation battery.
type ValidationCheck struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
}

// ValidationResult is the outcome of post-execution validation.
type ValidationResult struct {
	IsValid       bool              `json:"is_valid"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Checks        []ValidationCheck `json:"checks"`
	ValidatedAt   time.Time         `json:"validated_at"`
}

// Execution is the mutable runtime record for applying one remediation item.
// It is mutated only by the coordinator that owns it and becomes immutable
// once appended to history.
type Execution struct {
	ID         string `json:"id"`
	FindingID  string `json:"finding_id"`
	ResourceID string `json:"resource_id"`
	Status     Status `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ErrorMessage string `json:"error_message,omitempty"`
	Error        string `json:"error,omitempty"`

	StepsExecuted  []Step   `json:"steps_executed,omitempty"`
	ChangesApplied []string `json:"changes_applied,omitempty"`
	DryRun         bool     `json:"dry_run"`
	Automated      bool     `json:"automated"`

	BeforeSnapshot *Snapshot `json:"before_snapshot,omitempty"`
	AfterSnapshot  *Snapshot `json:"after_snapshot,omitempty"`
	BackupID       string    `json:"backup_id,omitempty"`

	ApprovalRequired bool       `json:"approval_required"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	ApprovalComments string     `json:"approval_comments,omitempty"`

	Validation *ValidationResult `json:"validation,omitempty"`

	// ManualGuidance is populated when no automation path applied.
	ManualGuidance *Guidance `json:"manual_guidance,omitempty"`
}

// Duration returns the wall time of the execution, or zero while running.
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// ExecuteOptions configure a single execution.
type ExecuteOptions struct {
	DryRun          bool `json:"dry_run"`
	RequireApproval bool `json:"require_approval"`
	AutoValidate    bool `json:"auto_validate"`
	AutoRollback    bool `json:"auto_rollback"`
	Snapshot        bool `json:"snapshot"`
	UseAIScripts    bool `json:"use_ai_scripts"`
}

// PlanOptions configure plan generation.
type PlanOptions struct {
	MinimumSeverity        compliance.Severity        `json:"minimum_severity"`
	IncludeFamilies        []compliance.ControlFamily `json:"include_families,omitempty"`
	ExcludeFamilies        []compliance.ControlFamily `json:"exclude_families,omitempty"`
	IncludeOnlyAutomatable bool                       `json:"include_only_automatable"`
	GroupByResource        bool                       `json:"group_by_resource"`
	// BusinessContext, when set together with an available AI collaborator,
	// adds an advisory ranking to the plan summary. It never reorders items.
	BusinessContext string `json:"business_context,omitempty"`
}

// BatchOptions configure a batch run.
type BatchOptions struct {
	MaxConcurrent int            `json:"max_concurrent"`
	FailFast      bool           `json:"fail_fast"`
	Execute       ExecuteOptions `json:"execute"`
}

// BatchSummary is derived from the executions of a batch.
type BatchSummary struct {
	SuccessRate          float64                     `json:"success_rate"`
	RemediatedBySeverity map[compliance.Severity]int `json:"remediated_by_severity"`
	ControlFamilies      []compliance.ControlFamily  `json:"control_families,omitempty"`
}

// BatchResult aggregates the executions of one batch run.
type BatchResult struct {
	Succeeded      int          `json:"succeeded"`
	Failed         int          `json:"failed"`
	ManualRequired int          `json:"manual_required"`
	Skipped        int          `json:"skipped"`
	Executions     []*Execution `json:"executions"`
	Summary        BatchSummary `json:"summary"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// ApprovalResult is returned by ProcessApproval.
type ApprovalResult struct {
	ExecutionID string    `json:"execution_id"`
	Approved    bool      `json:"approved"`
	Approver    string    `json:"approver"`
	ProcessedAt time.Time `json:"processed_at"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
}

// Progress summarizes execution history.
type Progress struct {
	TotalFindings   int           `json:"total_findings"`
	Completed       int           `json:"completed"`
	InProgress      int           `json:"in_progress"`
	Failed          int           `json:"failed"`
	RolledBack      int           `json:"rolled_back"`
	AverageDuration time.Duration `json:"average_duration"`
}

// History is the result of a GetHistory query.
type History struct {
	Executions []*Execution `json:"executions"`
	Metrics    Progress     `json:"metrics"`
}
