package remediation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/complyforge/complyforge/internal/ai"
	"github.com/complyforge/complyforge/internal/compliance"
)

// PlanGenerator turns a set of findings into a prioritized remediation plan.
// For a fixed finding set and options the output item order is deterministic.
type PlanGenerator struct {
	resolver *PathResolver
	texts    ai.Service
	logger   *zap.Logger
}

// NewPlanGenerator creates a plan generator.
func NewPlanGenerator(resolver *PathResolver, texts ai.Service, logger *zap.Logger) *PlanGenerator {
	if texts == nil {
		texts = ai.NewNoop()
	}
	return &PlanGenerator{resolver: resolver, texts: texts, logger: logger}
}

// GeneratePlan filters, orders, and links the findings into a plan.
func (g *PlanGenerator) GeneratePlan(ctx context.Context, findings []compliance.Finding, opts PlanOptions) (*RemediationPlan, error) {
	included := filterFindings(findings, opts)

	// Severity descending, automatable first, estimated duration ascending.
	// Finding ID breaks remaining ties so repeated calls agree.
	sort.Slice(included, func(i, j int) bool {
		a, b := included[i], included[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.IsAutoRemediable != b.IsAutoRemediable {
			return a.IsAutoRemediable
		}
		da := EstimatedEffort(a.Severity, a.IsAutoRemediable)
		db := EstimatedEffort(b.Severity, b.IsAutoRemediable)
		if da != db {
			return da < db
		}
		return a.ID < b.ID
	})

	items := make([]RemediationItem, 0, len(included))
	for _, finding := range included {
		steps, automated := g.resolver.ResolveSteps(ctx, finding)
		item := RemediationItem{
			FindingID:           finding.ID,
			ControlID:           finding.PrimaryControl(),
			ResourceID:          finding.ResourceID,
			Severity:            finding.Severity,
			Priority:            PriorityForSeverity(finding.Severity),
			Steps:               steps,
			AutomationAvailable: automated,
			EstimatedEffort:     EstimatedEffort(finding.Severity, automated),
			ValidationSteps: []string{
				fmt.Sprintf("Re-scan %s and confirm %s passes", finding.ResourceID, finding.PrimaryControl()),
			},
			RollbackPlan: fmt.Sprintf("Restore the pre-change snapshot of %s", finding.ResourceID),
		}
		item.DependsOn = dependenciesFor(finding, included)
		items = append(items, item)
	}

	items = orderItems(items, opts.GroupByResource)

	plan := &RemediationPlan{
		GeneratedAt: time.Now().UTC(),
		Items:       items,
		Timeline:    buildTimeline(items),
	}
	for _, item := range items {
		plan.TotalEffort += item.EstimatedEffort
	}
	plan.RiskReductionPct = riskReduction(included, findings)
	plan.Summary = g.buildSummary(ctx, plan, included, opts)

	g.logger.Info("remediation plan generated",
		zap.Int("findings_in", len(findings)),
		zap.Int("items", len(items)),
		zap.Float64("risk_reduction_pct", plan.RiskReductionPct),
	)
	return plan, nil
}

// filterFindings applies the severity floor, family in/exclude sets and the
// automatable-only filter.
func filterFindings(findings []compliance.Finding, opts PlanOptions) []compliance.Finding {
	var out []compliance.Finding
	for _, f := range findings {
		if opts.MinimumSeverity != "" && !f.Severity.AtLeast(opts.MinimumSeverity) {
			continue
		}
		if opts.IncludeOnlyAutomatable && !f.IsAutoRemediable {
			continue
		}
		if len(opts.IncludeFamilies) > 0 && !inAnyFamily(f, opts.IncludeFamilies) {
			continue
		}
		if len(opts.ExcludeFamilies) > 0 && inAnyFamily(f, opts.ExcludeFamilies) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func inAnyFamily(f compliance.Finding, families []compliance.ControlFamily) bool {
	for _, fam := range families {
		if f.InFamily(fam) {
			return true
		}
	}
	return false
}

// dependenciesFor links the finding to every other included finding on the
// same resource with equal or higher severity. A finding never depends on
// itself.
func dependenciesFor(finding compliance.Finding, included []compliance.Finding) []string {
	var deps []string
	for _, other := range included {
		if other.ID == finding.ID || other.ResourceID != finding.ResourceID {
			continue
		}
		if other.Severity.Rank() >= finding.Severity.Rank() {
			deps = append(deps, other.ID)
		}
	}
	sort.Strings(deps)
	return deps
}

// orderItems produces the final item order: resource-then-priority when
// grouping by resource, priority bucket alone otherwise. Sorting is stable
// over the deterministic pre-sort.
func orderItems(items []RemediationItem, groupByResource bool) []RemediationItem {
	if groupByResource {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].ResourceID != items[j].ResourceID {
				return items[i].ResourceID < items[j].ResourceID
			}
			return priorityRank[items[i].Priority] < priorityRank[items[j].Priority]
		})
		return items
	}
	sort.SliceStable(items, func(i, j int) bool {
		return priorityRank[items[i].Priority] < priorityRank[items[j].Priority]
	})
	return items
}

// buildTimeline buckets items into back-to-back phases by priority group,
// starting now. A phase's duration is the sum of its items' effort.
func buildTimeline(items []RemediationItem) []TimelinePhase {
	order := []string{PriorityImmediate, PriorityWithin24h, PriorityWithin7d, PriorityWithin30d, PriorityBestEffort}
	byPriority := make(map[string][]RemediationItem)
	for _, item := range items {
		byPriority[item.Priority] = append(byPriority[item.Priority], item)
	}

	var phases []TimelinePhase
	cursor := time.Now().UTC()
	for _, priority := range order {
		group := byPriority[priority]
		if len(group) == 0 {
			continue
		}
		phase := TimelinePhase{
			Name:  priority,
			Start: cursor,
		}
		for _, item := range group {
			phase.Duration += item.EstimatedEffort
			phase.FindingIDs = append(phase.FindingIDs, item.FindingID)
		}
		phase.End = phase.Start.Add(phase.Duration)
		cursor = phase.End
		phases = append(phases, phase)
	}
	return phases
}

// riskReduction computes included risk over total risk as a percentage.
func riskReduction(included, all []compliance.Finding) float64 {
	var includedRisk, totalRisk float64
	for _, f := range all {
		totalRisk += f.Severity.RiskScore()
	}
	for _, f := range included {
		includedRisk += f.Severity.RiskScore()
	}
	if totalRisk == 0 {
		return 0
	}
	return includedRisk / totalRisk * 100
}

// buildSummary renders the executive summary. When business context and an
// AI collaborator are present, the model's ranking is appended as an
// advisory note; it never changes item order.
func (g *PlanGenerator) buildSummary(ctx context.Context, plan *RemediationPlan, included []compliance.Finding, opts PlanOptions) string {
	counts := make(map[string]int)
	automated := 0
	for _, item := range plan.Items {
		counts[item.Priority]++
		if item.AutomationAvailable {
			automated++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d remediation items (%d automatable), estimated effort %s, projected risk reduction %.1f%%.",
		len(plan.Items), automated, plan.TotalEffort, plan.RiskReductionPct)
	for _, priority := range []string{PriorityImmediate, PriorityWithin24h, PriorityWithin7d, PriorityWithin30d, PriorityBestEffort} {
		if counts[priority] > 0 {
			fmt.Fprintf(&sb, " %s: %d.", priority, counts[priority])
		}
	}

	if opts.BusinessContext != "" && g.texts.Available() {
		ranked, err := g.texts.PrioritizeWithContext(ctx, included, opts.BusinessContext)
		if err != nil {
			g.logger.Warn("contextual prioritization failed", zap.Error(err))
		} else if len(ranked) > 0 {
			fmt.Fprintf(&sb, " Contextual priority (advisory): %s.", strings.Join(ranked, ", "))
		}
	}

	return sb.String()
}

// ExportYAML renders the plan as YAML for operator review.
func (p *RemediationPlan) ExportYAML() ([]byte, error) {
	return yaml.Marshal(p)
}
