package remediation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/ai"
	"github.com/complyforge/complyforge/internal/cloud"
	"github.com/complyforge/complyforge/internal/compliance"
	"github.com/complyforge/complyforge/internal/script"
)

// DomainPlan is an opaque plan built by the domain remediation service.
type DomainPlan struct {
	FindingID string         `json:"finding_id"`
	Actions   []string       `json:"actions"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DomainResult is the outcome of a domain-service execution.
type DomainResult struct {
	Success        bool     `json:"success"`
	AppliedActions []string `json:"applied_actions"`
	Errors         []string `json:"errors,omitempty"`
}

// DomainService is the external "can this be auto-remediated" collaborator.
// It manipulates resource configuration directly through its own control-plane
// access.
type DomainService interface {
	CanAutoRemediate(ctx context.Context, finding compliance.Finding) (bool, error)
	BuildPlan(ctx context.Context, finding compliance.Finding) (*DomainPlan, error)
	Execute(ctx context.Context, plan *DomainPlan, dryRun bool) (*DomainResult, error)
}

// PathResult is what a resolved remediation path produced.
type PathResult struct {
	Steps     []Step
	Changes   []string
	Automated bool
	Guidance  *Guidance
	Strategy  string
}

// Strategy names recorded on execution messages.
const (
	StrategyAIScript    = "ai_script"
	StrategyDomain      = "domain_service"
	StrategyDeclarative = "declarative"
	StrategyManual      = "manual"
)

// PathResolver selects and runs the remediation strategy for a finding.
// The chain is evaluated in cost/risk order and the first success wins:
// AI-assisted script, domain remediation service, declarative actions,
// manual guidance. It never silently skips a finding.
type PathResolver struct {
	texts    ai.Service
	scripts  script.Executor
	domain   DomainService
	client   cloud.ResourceClient
	guidance *guidanceBuilder

	dialect    string
	scriptOpts script.Options
	logger     *zap.Logger
}

// ResolverConfig wires a PathResolver.
type ResolverConfig struct {
	Texts      ai.Service
	Scripts    script.Executor
	Domain     DomainService
	Client     cloud.ResourceClient
	Dialect    string
	ScriptOpts script.Options
	Logger     *zap.Logger
}

// NewPathResolver creates a resolver. Texts may be the ai.Noop null object;
// Domain and Scripts may be nil when those collaborators are absent.
func NewPathResolver(cfg ResolverConfig) *PathResolver {
	texts := cfg.Texts
	if texts == nil {
		texts = ai.NewNoop()
	}
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = "bash"
	}
	return &PathResolver{
		texts:      texts,
		scripts:    cfg.Scripts,
		domain:     cfg.Domain,
		client:     cfg.Client,
		guidance:   newGuidanceBuilder(texts, cfg.Logger),
		dialect:    dialect,
		scriptOpts: cfg.ScriptOpts,
		logger:     cfg.Logger,
	}
}

// ResolveSteps computes the steps that would run for a finding without
// executing anything. Used for planning and dry runs. IsAutoRemediable alone
// marks a finding automated: the execution chain may still satisfy it through
// the domain service or a generated script when no declarative actions exist.
func (r *PathResolver) ResolveSteps(ctx context.Context, finding compliance.Finding) ([]Step, bool) {
	if finding.IsAutoRemediable {
		if !finding.HasDeclarativeActions() {
			return []Step{{
				Description: "Apply automated remediation for " + finding.Title,
			}}, true
		}
		steps := make([]Step, 0, len(finding.RemediationActions))
		for _, action := range finding.RemediationActions {
			steps = append(steps, Step{
				Description: action.Description,
				Command:     action.Command,
			})
		}
		return steps, true
	}

	guide := r.guidance.Build(ctx, finding)
	steps := make([]Step, 0, len(guide.Steps))
	for _, s := range guide.Steps {
		steps = append(steps, Step{Description: s})
	}
	return steps, false
}

// Execute runs the strategy chain with side effects.
func (r *PathResolver) Execute(ctx context.Context, finding compliance.Finding, useAIScripts bool) (*PathResult, error) {
	// 1. AI-assisted script path. Any failure here is a recoverable, logged
	// degradation, never a hard failure of the remediation.
	if useAIScripts && r.texts.Available() && r.scripts != nil {
		if result, ok := r.tryAIScript(ctx, finding); ok {
			return result, nil
		}
	}

	// 2. Domain remediation service path.
	if r.domain != nil {
		result, handled, err := r.tryDomainService(ctx, finding)
		if err != nil {
			return nil, err
		}
		if handled {
			return result, nil
		}
	}

	// 3. Legacy declarative action path.
	if finding.HasDeclarativeActions() {
		return r.runDeclarativeActions(ctx, finding)
	}

	// 4. Manual fallback.
	guide := r.guidance.Build(ctx, finding)
	steps := make([]Step, 0, len(guide.Steps))
	for _, s := range guide.Steps {
		steps = append(steps, Step{Description: s})
	}
	return &PathResult{
		Steps:     steps,
		Automated: false,
		Guidance:  guide,
		Strategy:  StrategyManual,
	}, nil
}

// tryAIScript attempts the AI script path. The second return value reports
// whether the path succeeded; on false the caller falls through.
func (r *PathResolver) tryAIScript(ctx context.Context, finding compliance.Finding) (*PathResult, bool) {
	scriptText, err := r.texts.GenerateScript(ctx, finding, r.dialect)
	if err != nil {
		r.logger.Warn("AI script generation failed, falling through",
			zap.String("finding_id", finding.ID),
			zap.Error(err),
		)
		return nil, false
	}

	res, err := r.scripts.Execute(ctx, scriptText, r.scriptOpts)
	if err != nil || res == nil || !res.Success {
		r.logger.Warn("AI script execution failed, falling through",
			zap.String("finding_id", finding.ID),
			zap.Error(err),
		)
		return nil, false
	}

	return &PathResult{
		Steps: []Step{{
			Description: fmt.Sprintf("executed generated %s remediation script", r.dialect),
			Command:     scriptText,
		}},
		Changes:   res.Changes,
		Automated: true,
		Strategy:  StrategyAIScript,
	}, true
}

// tryDomainService attempts the domain-service path. handled=false means the
// service declined the finding and the caller falls through; a declined
// finding is not an error. A failure after the service accepted the finding
// is a hard execution fault.
func (r *PathResolver) tryDomainService(ctx context.Context, finding compliance.Finding) (result *PathResult, handled bool, err error) {
	can, err := r.domain.CanAutoRemediate(ctx, finding)
	if err != nil {
		r.logger.Warn("domain service availability check failed, falling through",
			zap.String("finding_id", finding.ID),
			zap.Error(err),
		)
		return nil, false, nil
	}
	if !can {
		return nil, false, nil
	}

	plan, err := r.domain.BuildPlan(ctx, finding)
	if err != nil {
		return nil, false, fmt.Errorf("domain service plan for %s: %w", finding.ID, err)
	}

	res, err := r.domain.Execute(ctx, plan, false)
	if err != nil {
		return nil, false, fmt.Errorf("domain service execution for %s: %w", finding.ID, err)
	}
	if !res.Success {
		return nil, false, fmt.Errorf("domain service execution for %s failed: %v", finding.ID, res.Errors)
	}

	steps := make([]Step, 0, len(res.AppliedActions))
	for _, action := range res.AppliedActions {
		steps = append(steps, Step{Description: action})
	}
	return &PathResult{
		Steps:     steps,
		Changes:   res.AppliedActions,
		Automated: true,
		Strategy:  StrategyDomain,
	}, true, nil
}

// runDeclarativeActions dispatches each declared action through the action
// registry. A failing action is an execution fault.
func (r *PathResolver) runDeclarativeActions(ctx context.Context, finding compliance.Finding) (*PathResult, error) {
	result := &PathResult{
		Automated: true,
		Strategy:  StrategyDeclarative,
	}

	for _, action := range finding.RemediationActions {
		changes, err := dispatchAction(ctx, r.client, finding, action)
		if err != nil {
			return nil, fmt.Errorf("action %s for %s: %w", action.Kind, finding.ID, err)
		}
		result.Steps = append(result.Steps, Step{
			Description: action.Description,
			Command:     action.Command,
		})
		result.Changes = append(result.Changes, changes...)
	}

	return result, nil
}
