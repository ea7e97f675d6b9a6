package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/ai"
	"github.com/complyforge/complyforge/internal/compliance"
	"github.com/complyforge/complyforge/internal/config"
	"github.com/complyforge/complyforge/internal/observability"
)

// activeExecution pairs a live execution with the inputs needed to resume it
// after an approval round trip. running marks the entry as claimed by a
// coordinator run; an execution is only ever driven by one caller at a time.
type activeExecution struct {
	exec    *Execution
	finding compliance.Finding
	opts    ExecuteOptions
	running bool
}

// Engine is the remediation orchestration facade consumed in-process by the
// transport layer. It owns the active-execution set and the history ledger;
// both are safe for concurrent use by many coordinator runs.
type Engine struct {
	cfg       config.RemediationConfig
	planner   *PlanGenerator
	resolver  *PathResolver
	scheduler *BatchScheduler
	coord     *Coordinator
	tracker   *HistoryTracker
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu     sync.RWMutex
	active map[string]*activeExecution
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Remediation config.RemediationConfig
	Resolver    *PathResolver
	Snapshots   *SnapshotStore
	Validator   *ValidationEngine
	Texts       ai.Service
	Store       Store
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewEngine creates the engine. Store defaults to in-memory and Texts to the
// null object when absent.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	texts := cfg.Texts
	if texts == nil {
		texts = ai.NewNoop()
	}

	e := &Engine{
		cfg:      cfg.Remediation,
		resolver: cfg.Resolver,
		planner:  NewPlanGenerator(cfg.Resolver, texts, cfg.Logger),
		coord: NewCoordinator(cfg.Remediation.AutomatedRemediationEnabled,
			cfg.Resolver, cfg.Snapshots, cfg.Validator, cfg.Logger),
		tracker: NewHistoryTracker(store),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		active:  make(map[string]*activeExecution),
	}
	e.scheduler = NewBatchScheduler(e.runOne, cfg.Logger)
	return e
}

// GeneratePlan builds a remediation plan for the findings.
func (e *Engine) GeneratePlan(ctx context.Context, findings []compliance.Finding, opts PlanOptions) (*RemediationPlan, error) {
	plan, err := e.planner.GeneratePlan(ctx, findings, opts)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.PlansGenerated.Inc()
	}
	return plan, nil
}

// ExecuteOne remediates a single finding. With an approval gate configured
// the returned execution is suspended in Pending; advance it with
// ProcessApproval followed by ExecuteApproved.
func (e *Engine) ExecuteOne(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
	return e.runOne(ctx, finding, opts)
}

// runOne is the per-finding lifecycle shared by single and batch execution.
func (e *Engine) runOne(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
	exec := NewExecution(finding, opts)

	e.mu.Lock()
	e.active[exec.ID] = &activeExecution{exec: exec, finding: finding, opts: opts, running: true}
	e.mu.Unlock()

	err := e.coord.Run(ctx, exec, finding, opts)
	e.finalize(ctx, exec)
	e.release(exec.ID)
	return exec, err
}

// release clears the running claim on a still-active entry, making a
// suspended execution resumable. Finalized entries are already gone.
func (e *Engine) release(executionID string) {
	e.mu.Lock()
	if entry, ok := e.active[executionID]; ok {
		entry.running = false
	}
	e.mu.Unlock()
}

// ExecuteApproved resumes a previously approved execution. The entry is
// claimed under the lock before the coordinator runs, so concurrent resume
// attempts for the same execution get ErrNotPending instead of a second run.
func (e *Engine) ExecuteApproved(ctx context.Context, executionID string) (*Execution, error) {
	e.mu.Lock()
	entry, ok := e.active[executionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if entry.exec.ApprovalRequired && entry.exec.ApprovedAt == nil {
		e.mu.Unlock()
		return entry.exec, fmt.Errorf("%w: %s", ErrApprovalRequired, executionID)
	}
	if entry.running {
		e.mu.Unlock()
		return entry.exec, fmt.Errorf("%w: %s", ErrNotPending, executionID)
	}
	entry.running = true
	e.mu.Unlock()

	err := e.coord.Run(ctx, entry.exec, entry.finding, entry.opts)
	e.finalize(ctx, entry.exec)
	e.release(executionID)
	return entry.exec, err
}

// ProcessApproval records an approval decision for a suspended execution.
// Approval only flips the gate; execution resumes via ExecuteApproved. The
// call is idempotent per execution: the first decision wins and repeats
// return the recorded state.
func (e *Engine) ProcessApproval(ctx context.Context, executionID string, approved bool, approver, comments string) (*ApprovalResult, error) {
	e.mu.Lock()
	entry, ok := e.active[executionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	exec := entry.exec

	if !exec.ApprovalRequired || exec.Status.Terminal() && exec.Status != StatusRejected {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotPending, executionID)
	}

	if exec.ApprovedAt != nil || exec.Status == StatusRejected {
		// Already decided; report the recorded state.
		result := &ApprovalResult{
			ExecutionID: executionID,
			Approved:    exec.Status == StatusApproved,
			Approver:    exec.ApprovedBy,
			ProcessedAt: *exec.ApprovedAt,
			Status:      exec.Status,
			Message:     "approval already recorded",
		}
		e.mu.Unlock()
		return result, nil
	}

	now := time.Now().UTC()
	exec.ApprovedBy = approver
	exec.ApprovedAt = &now
	exec.ApprovalComments = comments

	if approved {
		exec.Status = StatusApproved
		exec.Message = fmt.Sprintf("approved by %s", approver)
	} else {
		exec.Status = StatusRejected
		exec.Success = false
		exec.Message = fmt.Sprintf("rejected by %s", approver)
		exec.CompletedAt = &now
	}
	e.mu.Unlock()

	if exec.Status == StatusRejected {
		e.finalize(ctx, exec)
	}

	e.logger.Info("approval processed",
		zap.String("execution_id", executionID),
		zap.Bool("approved", approved),
		zap.String("approver", approver),
	)
	return &ApprovalResult{
		ExecutionID: executionID,
		Approved:    approved,
		Approver:    approver,
		ProcessedAt: now,
		Status:      exec.Status,
		Message:     exec.Message,
	}, nil
}

// ExecuteBatch remediates many findings under the configured concurrency cap.
func (e *Engine) ExecuteBatch(ctx context.Context, findings []compliance.Finding, opts BatchOptions) (*BatchResult, error) {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = e.cfg.MaxConcurrentRemediations
	}
	result, err := e.scheduler.RunBatch(ctx, findings, opts)
	if e.metrics != nil && result != nil {
		e.metrics.BatchesRun.Inc()
	}
	return result, err
}

// GetProgress summarizes execution history since the given time, plus the
// currently in-flight executions. A zero since covers the full ledger.
func (e *Engine) GetProgress(ctx context.Context, since time.Time) (Progress, error) {
	progress, err := e.tracker.Progress(ctx, since)
	if err != nil {
		return Progress{}, err
	}

	e.mu.RLock()
	for _, entry := range e.active {
		if !entry.exec.Status.Terminal() {
			progress.InProgress++
			progress.TotalFindings++
		}
	}
	e.mu.RUnlock()
	return progress, nil
}

// GetHistory returns recorded executions in [start, end) with metrics.
func (e *Engine) GetHistory(ctx context.Context, start, end time.Time) (*History, error) {
	return e.tracker.History(ctx, start, end)
}

// ActiveExecutions returns the live executions, including those suspended on
// approval.
func (e *Engine) ActiveExecutions() []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Execution, 0, len(e.active))
	for _, entry := range e.active {
		out = append(out, entry.exec)
	}
	return out
}

// finalize moves a terminal execution from the active set to history exactly
// once. Suspended executions stay active.
func (e *Engine) finalize(ctx context.Context, exec *Execution) {
	if !exec.Status.Terminal() {
		return
	}

	e.mu.Lock()
	_, wasActive := e.active[exec.ID]
	delete(e.active, exec.ID)
	e.mu.Unlock()
	if !wasActive {
		return
	}

	if err := e.tracker.Record(ctx, exec); err != nil {
		// History must not lose terminal executions silently; surface loudly
		// and keep the execution value available to the caller.
		e.logger.Error("failed to record execution history",
			zap.String("execution_id", exec.ID),
			zap.Error(err),
		)
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(string(exec.Status)).Inc()
		if d := exec.Duration(); d > 0 {
			e.metrics.ExecutionDuration.Observe(d.Seconds())
		}
		if exec.Status == StatusRolledBack {
			e.metrics.RollbacksTotal.Inc()
		}
	}
}
