package remediation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/compliance"
)

// Coordinator carries one execution through the state machine:
//
//	Pending -> InProgress -> Validating -> {Completed | Failed | RolledBack}
//
// with Approved/Rejected reachable only from Pending when an approval gate
// is configured. Terminal states are final.
type Coordinator struct {
	automationEnabled bool
	resolver          *PathResolver
	snapshots         *SnapshotStore
	validator         *ValidationEngine
	logger            *zap.Logger
}

// NewCoordinator creates an execution coordinator. automationEnabled is the
// injected fail-closed gate: when false every run lands in Failed with a
// configuration error.
func NewCoordinator(automationEnabled bool, resolver *PathResolver, snapshots *SnapshotStore, validator *ValidationEngine, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		automationEnabled: automationEnabled,
		resolver:          resolver,
		snapshots:         snapshots,
		validator:         validator,
		logger:            logger,
	}
}

// NewExecution creates the Pending runtime record for a finding.
func NewExecution(finding compliance.Finding, opts ExecuteOptions) *Execution {
	return &Execution{
		ID:               uuid.NewString(),
		FindingID:        finding.ID,
		ResourceID:       finding.ResourceID,
		Status:           StatusPending,
		StartedAt:        time.Now().UTC(),
		DryRun:           opts.DryRun,
		ApprovalRequired: opts.RequireApproval,
		Message:          "execution created",
	}
}

// Run advances the execution as far as it can go. It returns with the
// execution still Pending when an approval gate has not been satisfied (a
// suspend point, not an error). The returned error is the captured fault
// when the execution lands in Failed; callers can also inspect the record.
func (c *Coordinator) Run(ctx context.Context, exec *Execution, finding compliance.Finding, opts ExecuteOptions) (err error) {
	// An unhandled panic anywhere below lands the execution in Failed with
	// the panic captured, never past the coordinator.
	defer func() {
		if r := recover(); r != nil {
			fault := fmt.Errorf("panic during remediation: %v", r)
			c.fail(exec, fault)
			err = fault
		}
	}()

	if exec.Status.Terminal() {
		return nil
	}

	// Fail-closed safety gate: not retryable, independent of finding content.
	if !c.automationEnabled {
		c.fail(exec, ErrAutomationDisabled)
		return ErrAutomationDisabled
	}

	// Approval gate: a suspend point. Control returns to the caller and the
	// execution resumes via a separate approval + execute round trip.
	if exec.ApprovalRequired && exec.ApprovedAt == nil {
		exec.Message = "awaiting approval"
		c.logger.Info("execution awaiting approval",
			zap.String("execution_id", exec.ID),
			zap.String("finding_id", exec.FindingID),
		)
		return nil
	}

	if exec.DryRun {
		c.runDry(ctx, exec, finding)
		return nil
	}

	if err := c.runLive(ctx, exec, finding, opts); err != nil {
		return err
	}
	return nil
}

// runDry computes the steps that would run without touching cloud state.
// Dry runs never produce a snapshot.
func (c *Coordinator) runDry(ctx context.Context, exec *Execution, finding compliance.Finding) {
	steps, automated := c.resolver.ResolveSteps(ctx, finding)
	exec.StepsExecuted = steps
	exec.Automated = automated
	exec.Success = true
	exec.Message = fmt.Sprintf("dry run: %d step(s) would be executed", len(steps))
	c.finish(exec, StatusCompleted)
}

func (c *Coordinator) runLive(ctx context.Context, exec *Execution, finding compliance.Finding, opts ExecuteOptions) error {
	if opts.Snapshot {
		before, err := c.snapshots.Capture(ctx, finding.ResourceID)
		if err != nil {
			fault := fmt.Errorf("pre-change snapshot: %w", err)
			c.fail(exec, fault)
			return fault
		}
		exec.BeforeSnapshot = before
	}
	exec.BackupID = uuid.NewString()
	exec.Status = StatusInProgress

	result, err := c.resolver.Execute(ctx, finding, opts.UseAIScripts)
	if err != nil {
		c.fail(exec, err)
		return err
	}

	exec.StepsExecuted = result.Steps
	exec.ChangesApplied = result.Changes
	exec.Automated = result.Automated
	exec.ManualGuidance = result.Guidance

	if result.Strategy == StrategyManual {
		// Strategy exhausted: not a crash. The execution completes with the
		// guidance artifact and Success=false so callers can route it to a
		// human.
		exec.Success = false
		exec.Message = "manual remediation required; guidance attached"
		c.finish(exec, StatusCompleted)
		return nil
	}

	exec.Success = true
	exec.Message = fmt.Sprintf("remediation applied via %s (%d change(s))", result.Strategy, len(result.Changes))

	if opts.Snapshot {
		after, err := c.snapshots.Capture(ctx, finding.ResourceID)
		if err != nil {
			// The fix already landed; a missing after-snapshot is recorded,
			// not fatal.
			c.logger.Warn("post-change snapshot failed",
				zap.String("execution_id", exec.ID),
				zap.Error(err),
			)
		} else {
			exec.AfterSnapshot = after
		}
	}

	if opts.AutoValidate {
		return c.validate(ctx, exec, opts)
	}

	c.finish(exec, StatusCompleted)
	return nil
}

// validate runs post-execution validation and, when configured, rolls back
// an invalid outcome. "Ran successfully" and "confirmed fixed" stay distinct
// in the record.
func (c *Coordinator) validate(ctx context.Context, exec *Execution, opts ExecuteOptions) error {
	exec.Status = StatusValidating
	exec.Validation = c.validator.Validate(ctx, exec)

	if exec.Validation.IsValid {
		c.finish(exec, StatusCompleted)
		return nil
	}

	if opts.AutoRollback && exec.BeforeSnapshot != nil {
		if err := c.snapshots.Restore(ctx, exec.BeforeSnapshot); err != nil {
			// Rollback errors are captured on the record, not thrown past
			// the coordinator.
			exec.ErrorMessage = "rollback failed"
			exec.Error = err.Error()
			exec.Message = fmt.Sprintf("validation failed (%s); rollback failed: %v",
				exec.Validation.FailureReason, err)
			c.finish(exec, StatusFailed)
			return nil
		}
		exec.Success = false
		exec.Message = fmt.Sprintf("validation failed (%s); changes rolled back", exec.Validation.FailureReason)
		c.finish(exec, StatusRolledBack)
		return nil
	}

	exec.Message = fmt.Sprintf("execution completed but validation failed: %s", exec.Validation.FailureReason)
	c.finish(exec, StatusCompleted)
	return nil
}

func (c *Coordinator) fail(exec *Execution, fault error) {
	exec.Success = false
	exec.ErrorMessage = fault.Error()
	exec.Error = fmt.Sprintf("%+v", fault)
	exec.Message = fmt.Sprintf("remediation failed: %v", fault)
	c.finish(exec, StatusFailed)
}

func (c *Coordinator) finish(exec *Execution, status Status) {
	now := time.Now().UTC()
	exec.Status = status
	exec.CompletedAt = &now
	c.logger.Info("execution finished",
		zap.String("execution_id", exec.ID),
		zap.String("finding_id", exec.FindingID),
		zap.String("status", string(status)),
		zap.Bool("success", exec.Success),
	)
}
