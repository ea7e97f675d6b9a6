package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/compliance"
)

// runFunc executes one finding end to end and returns its execution record.
// The record is returned even when the run failed.
type runFunc func(ctx context.Context, finding compliance.Finding, opts ExecuteOptions) (*Execution, error)

// BatchScheduler fans findings out over a bounded pool of coordinator runs.
// The result always enumerates exactly one execution per input finding,
// in input order.
type BatchScheduler struct {
	run    runFunc
	logger *zap.Logger
}

// NewBatchScheduler creates a scheduler over the given per-finding run
// function.
func NewBatchScheduler(run runFunc, logger *zap.Logger) *BatchScheduler {
	return &BatchScheduler{run: run, logger: logger}
}

// RunBatch executes the findings with at most opts.MaxConcurrent in flight.
// With FailFast set, the first fault cancels remaining work and is returned;
// findings not yet launched are recorded as skipped. Without FailFast every
// failure is captured in its execution and the batch runs to completion.
func (s *BatchScheduler) RunBatch(ctx context.Context, findings []compliance.Finding, opts BatchOptions) (*BatchResult, error) {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		semaphore = make(chan struct{}, maxConcurrent)
	)
	executions := make([]*Execution, len(findings))

	started := time.Now().UTC()

	for i, finding := range findings {
		// Stop launching once cancelled; in-flight runs observe the
		// cancellation at their next external call.
		if batchCtx.Err() != nil {
			executions[i] = abortedExecution(finding, opts.Execute)
			continue
		}

		select {
		case semaphore <- struct{}{}:
		case <-batchCtx.Done():
			executions[i] = abortedExecution(finding, opts.Execute)
			continue
		}

		wg.Add(1)
		go func(idx int, f compliance.Finding) {
			defer wg.Done()
			defer func() { <-semaphore }()

			exec, err := s.run(batchCtx, f, opts.Execute)
			if exec == nil {
				// The run function must always return a record; synthesize
				// one so the batch never drops a finding.
				exec = abortedExecution(f, opts.Execute)
				if err != nil {
					exec.ErrorMessage = err.Error()
					exec.Message = fmt.Sprintf("remediation failed: %v", err)
					exec.Status = StatusFailed
				}
			}

			mu.Lock()
			executions[idx] = exec
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()

			if err != nil && opts.FailFast {
				s.logger.Warn("fail-fast: aborting batch",
					zap.String("finding_id", f.ID),
					zap.Error(err),
				)
				cancel()
			}
		}(i, finding)
	}

	wg.Wait()

	result := summarizeBatch(executions, findings, started)
	s.logger.Info("batch finished",
		zap.Int("findings", len(findings)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)

	if opts.FailFast && firstErr != nil {
		return result, fmt.Errorf("%w: %v", ErrBatchAborted, firstErr)
	}
	return result, nil
}

// abortedExecution records a finding the batch never ran.
func abortedExecution(finding compliance.Finding, opts ExecuteOptions) *Execution {
	exec := NewExecution(finding, opts)
	now := time.Now().UTC()
	exec.Status = StatusFailed
	exec.CompletedAt = &now
	exec.ErrorMessage = ErrBatchAborted.Error()
	exec.Message = "skipped: batch aborted before this finding ran"
	return exec
}

func summarizeBatch(executions []*Execution, findings []compliance.Finding, started time.Time) *BatchResult {
	result := &BatchResult{
		Executions: executions,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	result.Summary.RemediatedBySeverity = make(map[compliance.Severity]int)

	byID := make(map[string]compliance.Finding, len(findings))
	for _, f := range findings {
		byID[f.ID] = f
	}
	familySeen := make(map[compliance.ControlFamily]bool)

	for _, exec := range executions {
		switch {
		case exec.Success:
			result.Succeeded++
			if f, ok := byID[exec.FindingID]; ok {
				result.Summary.RemediatedBySeverity[f.Severity]++
				for _, fam := range f.ControlFamilies {
					if !familySeen[fam] {
						familySeen[fam] = true
						result.Summary.ControlFamilies = append(result.Summary.ControlFamilies, fam)
					}
				}
			}
		case exec.Status == StatusCompleted:
			// Completed without success is the manual-guidance outcome: the
			// finding needs an operator, not a retry.
			result.ManualRequired++
		case exec.Status == StatusFailed || exec.Status == StatusRolledBack:
			if exec.ErrorMessage == ErrBatchAborted.Error() {
				result.Skipped++
			} else {
				result.Failed++
			}
		default:
			// Everything else (suspended on approval, rejected) counts as
			// skipped: the batch neither fixed nor broke them.
			result.Skipped++
		}
	}

	if len(executions) > 0 {
		result.Summary.SuccessRate = float64(result.Succeeded) / float64(len(executions)) * 100
	}
	return result
}
