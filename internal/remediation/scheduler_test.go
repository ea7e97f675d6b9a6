package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/compliance"
)

// =============================================================================
// Test Helpers
// =============================================================================

func batchFindings(n int) []compliance.Finding {
	findings := make([]compliance.Finding, 0, n)
	for i := 0; i < n; i++ {
		findings = append(findings, autoFinding(
			fmt.Sprintf("f-%03d", i),
			fmt.Sprintf("res-%03d", i),
			compliance.SeverityHigh,
		))
	}
	return findings
}

func succeedRun(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
	exec := NewExecution(finding, opts)
	now := time.Now().UTC()
	exec.Status = StatusCompleted
	exec.Success = true
	exec.CompletedAt = &now
	return exec, nil
}

// =============================================================================
// Conservation Tests
// =============================================================================

// TestRunBatch_Conservation verifies the batch returns exactly one execution
// per input finding, in order, even when some runs fail.
func TestRunBatch_Conservation(t *testing.T) {
	findings := batchFindings(20)

	run := func(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
		if finding.ID == "f-007" || finding.ID == "f-013" {
			exec := NewExecution(finding, opts)
			now := time.Now().UTC()
			exec.Status = StatusFailed
			exec.CompletedAt = &now
			return exec, errors.New("induced failure")
		}
		return succeedRun(ctx, finding, opts)
	}

	scheduler := NewBatchScheduler(run, zap.NewNop())
	result, err := scheduler.RunBatch(context.Background(), findings, BatchOptions{MaxConcurrent: 4})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if len(result.Executions) != len(findings) {
		t.Fatalf("expected %d executions, got %d", len(findings), len(result.Executions))
	}
	for i, exec := range result.Executions {
		if exec == nil {
			t.Fatalf("execution %d is nil", i)
		}
		if exec.FindingID != findings[i].ID {
			t.Errorf("execution %d: expected finding %s, got %s", i, findings[i].ID, exec.FindingID)
		}
	}

	if result.Succeeded != 18 {
		t.Errorf("expected 18 succeeded, got %d", result.Succeeded)
	}
	if result.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", result.Failed)
	}
	if result.Summary.SuccessRate != 90 {
		t.Errorf("expected 90%% success rate, got %.1f", result.Summary.SuccessRate)
	}
	if result.Summary.RemediatedBySeverity[compliance.SeverityHigh] != 18 {
		t.Errorf("expected 18 high-severity remediations, got %d",
			result.Summary.RemediatedBySeverity[compliance.SeverityHigh])
	}
}

// TestRunBatch_ManualOutcomeCounted verifies a completed-without-success
// (manual guidance) execution is reported as ManualRequired, not folded into
// Skipped or Failed.
func TestRunBatch_ManualOutcomeCounted(t *testing.T) {
	findings := batchFindings(3)

	run := func(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
		if finding.ID == "f-001" {
			exec := NewExecution(finding, opts)
			now := time.Now().UTC()
			exec.Status = StatusCompleted
			exec.Success = false
			exec.Message = "manual remediation required"
			exec.CompletedAt = &now
			return exec, nil
		}
		return succeedRun(ctx, finding, opts)
	}

	scheduler := NewBatchScheduler(run, zap.NewNop())
	result, err := scheduler.RunBatch(context.Background(), findings, BatchOptions{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if result.Succeeded != 2 {
		t.Errorf("expected 2 succeeded, got %d", result.Succeeded)
	}
	if result.ManualRequired != 1 {
		t.Errorf("expected 1 manual-required, got %d", result.ManualRequired)
	}
	if result.Failed != 0 || result.Skipped != 0 {
		t.Errorf("manual outcome miscounted: failed=%d skipped=%d", result.Failed, result.Skipped)
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

// TestRunBatch_ConcurrencyBound verifies the in-flight run count never
// exceeds MaxConcurrent.
func TestRunBatch_ConcurrencyBound(t *testing.T) {
	const limit = 3
	var inFlight, peak atomic.Int64
	var mu sync.Mutex

	run := func(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		mu.Lock()
		if current > peak.Load() {
			peak.Store(current)
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)
		return succeedRun(ctx, finding, opts)
	}

	scheduler := NewBatchScheduler(run, zap.NewNop())
	result, err := scheduler.RunBatch(context.Background(), batchFindings(24), BatchOptions{MaxConcurrent: limit})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if result.Succeeded != 24 {
		t.Errorf("expected 24 succeeded, got %d", result.Succeeded)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("concurrency bound violated: peak %d > limit %d", got, limit)
	}
}

// TestRunBatch_ZeroConcurrencyDefaultsToOne verifies MaxConcurrent <= 0 does
// not deadlock.
func TestRunBatch_ZeroConcurrencyDefaultsToOne(t *testing.T) {
	scheduler := NewBatchScheduler(succeedRun, zap.NewNop())

	result, err := scheduler.RunBatch(context.Background(), batchFindings(3), BatchOptions{})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if result.Succeeded != 3 {
		t.Errorf("expected 3 succeeded, got %d", result.Succeeded)
	}
}

// =============================================================================
// FailFast Tests
// =============================================================================

// TestRunBatch_FailFast verifies the first fault aborts the batch: the error
// wraps ErrBatchAborted, every finding still gets an execution, and findings
// never launched are counted as skipped.
func TestRunBatch_FailFast(t *testing.T) {
	findings := batchFindings(30)
	var launched atomic.Int64

	run := func(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
		launched.Add(1)
		if finding.ID == "f-000" {
			exec := NewExecution(finding, opts)
			now := time.Now().UTC()
			exec.Status = StatusFailed
			exec.CompletedAt = &now
			return exec, errors.New("induced failure")
		}
		time.Sleep(2 * time.Millisecond)
		return succeedRun(ctx, finding, opts)
	}

	scheduler := NewBatchScheduler(run, zap.NewNop())
	result, err := scheduler.RunBatch(context.Background(), findings, BatchOptions{
		MaxConcurrent: 1,
		FailFast:      true,
	})

	if !errors.Is(err, ErrBatchAborted) {
		t.Fatalf("expected ErrBatchAborted, got %v", err)
	}
	if len(result.Executions) != len(findings) {
		t.Fatalf("expected %d executions, got %d", len(findings), len(result.Executions))
	}
	if result.Failed != 1 {
		t.Errorf("expected exactly 1 failed, got %d", result.Failed)
	}
	if result.Skipped == 0 {
		t.Error("expected unlaunched findings to be counted as skipped")
	}
	if got := launched.Load(); got == int64(len(findings)) {
		t.Error("fail-fast should have stopped launching new runs")
	}

	// Conservation holds under abort as well.
	seen := make(map[string]bool)
	for _, exec := range result.Executions {
		if seen[exec.FindingID] {
			t.Errorf("duplicate execution for finding %s", exec.FindingID)
		}
		seen[exec.FindingID] = true
	}
	if len(seen) != len(findings) {
		t.Errorf("expected %d distinct findings, got %d", len(findings), len(seen))
	}
}

// TestRunBatch_NoFailFastRunsToCompletion verifies failures without FailFast
// do not abort the batch or surface an error.
func TestRunBatch_NoFailFastRunsToCompletion(t *testing.T) {
	findings := batchFindings(10)
	var launched atomic.Int64

	run := func(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error) {
		launched.Add(1)
		exec := NewExecution(finding, opts)
		now := time.Now().UTC()
		exec.Status = StatusFailed
		exec.CompletedAt = &now
		return exec, errors.New("induced failure")
	}

	scheduler := NewBatchScheduler(run, zap.NewNop())
	result, err := scheduler.RunBatch(context.Background(), findings, BatchOptions{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("RunBatch without FailFast must not return an error, got %v", err)
	}

	if got := launched.Load(); got != int64(len(findings)) {
		t.Errorf("expected all %d findings launched, got %d", len(findings), got)
	}
	if result.Failed != len(findings) {
		t.Errorf("expected %d failed, got %d", len(findings), result.Failed)
	}
}
