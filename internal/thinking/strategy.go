// Package thinking implements the reasoning engine: strategies emit step
// sequences, each step is resolved through the cache or the dispatcher, and
// finished processes are persisted with an optional visualization.
package thinking

import (
	"fmt"
	"strings"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cogitohq/cogito/pkg/types"
)

// Strategy names form the fixed set of reasoning styles.
const (
	StrategyChainOfThought  = "chain_of_thought"
	StrategyTreeOfThoughts  = "tree_of_thoughts"
	StrategyFirstPrinciples = "first_principles"
)

// StepPlan describes one planned step before execution.
type StepPlan struct {
	Description string
	Kind        string
}

// Strategy generates the step sequence for a problem and composes each
// step's prompt from the reasoning so far.
type Strategy interface {
	Name() string
	SystemPrompt() string
	Plan(problem string) []StepPlan
	BuildPrompt(problem string, plan StepPlan, prior []types.ThinkingStep) string
	Visualize(steps []types.ThinkingStep) *types.Visualization
}

// strategies holds constructed strategy instances keyed by name. Instances
// are stateless, so one per name serves every process.
var strategies = gocache.New(gocache.NoExpiration, gocache.NoExpiration)

// strategyByName returns the named strategy, constructing it on first use.
func strategyByName(name string) (Strategy, error) {
	if cached, ok := strategies.Get(name); ok {
		return cached.(Strategy), nil
	}

	var s Strategy
	switch name {
	case StrategyChainOfThought:
		s = &chainOfThought{}
	case StrategyTreeOfThoughts:
		s = &treeOfThoughts{}
	case StrategyFirstPrinciples:
		s = &firstPrinciples{}
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	strategies.SetDefault(name, s)
	return s, nil
}

// SelectStrategy picks a strategy from the problem's texture when no model
// profile pins one: causal "why" problems get first principles, structurally
// complex ones get tree of thoughts, everything else chains.
func SelectStrategy(problem string) string {
	lower := strings.ToLower(problem)

	causal := 0
	for _, kw := range []string{"why", "fundamental", "principle", "assumption", "root cause"} {
		causal += strings.Count(lower, kw)
	}
	if causal >= 2 {
		return StrategyFirstPrinciples
	}

	complexity := 0
	if len(problem) > 400 {
		complexity += 2
	} else if len(problem) > 150 {
		complexity++
	}
	complexity += strings.Count(problem, "\n")
	complexity += strings.Count(problem, "?") - 1
	for _, kw := range []string{"compare", "trade-off", "tradeoff", "alternatives", "options", "design", "versus", " vs "} {
		if strings.Contains(lower, kw) {
			complexity += 2
		}
	}
	if complexity >= 4 {
		return StrategyTreeOfThoughts
	}
	return StrategyChainOfThought
}

// priorReasoning renders completed steps as context for the next prompt.
func priorReasoning(prior []types.ThinkingStep) string {
	if len(prior) == 0 {
		return "(none yet)"
	}
	var sb strings.Builder
	for _, step := range prior {
		fmt.Fprintf(&sb, "Step %d (%s):\n%s\n\n", step.ID, step.Description, step.Reasoning)
	}
	return strings.TrimSpace(sb.String())
}

// linearVisualization chains steps in emission order.
func linearVisualization(steps []types.ThinkingStep, kind string) *types.Visualization {
	vis := &types.Visualization{}
	for i, step := range steps {
		vis.Nodes = append(vis.Nodes, types.VisualizationNode{
			ID:    step.ID,
			Label: step.Description,
			Kind:  kind,
		})
		if i > 0 {
			vis.Edges = append(vis.Edges, types.VisualizationEdge{
				From:     steps[i-1].ID,
				To:       step.ID,
				Relation: "then",
			})
		}
	}
	return vis
}

type chainOfThought struct{}

func (chainOfThought) Name() string { return StrategyChainOfThought }

func (chainOfThought) SystemPrompt() string {
	return "You are a careful reasoner. Work through the current step only, " +
		"building on the reasoning so far. Be explicit about intermediate results."
}

func (chainOfThought) Plan(problem string) []StepPlan {
	plan := []StepPlan{
		{Description: "Understand the problem and restate it precisely", Kind: "analysis"},
		{Description: "Break the problem into ordered sub-problems", Kind: "decomposition"},
		{Description: "Work through each sub-problem in sequence", Kind: "derivation"},
	}
	if len(problem) > 200 {
		plan = append(plan, StepPlan{Description: "Resolve interactions between the sub-results", Kind: "derivation"})
	}
	return append(plan,
		StepPlan{Description: "Verify the chain of reasoning for gaps", Kind: "verification"},
		StepPlan{Description: "State the conclusion", Kind: "conclusion"},
	)
}

func (chainOfThought) BuildPrompt(problem string, plan StepPlan, prior []types.ThinkingStep) string {
	return fmt.Sprintf("Problem:\n%s\n\nReasoning so far:\n%s\n\nCurrent step: %s",
		problem, priorReasoning(prior), plan.Description)
}

func (chainOfThought) Visualize(steps []types.ThinkingStep) *types.Visualization {
	return linearVisualization(steps, "chain")
}

type treeOfThoughts struct{}

func (treeOfThoughts) Name() string { return StrategyTreeOfThoughts }

func (treeOfThoughts) SystemPrompt() string {
	return "You are exploring a branching solution space. Hold multiple " +
		"candidate lines of reasoning and commit only after comparing them."
}

func (treeOfThoughts) Plan(string) []StepPlan {
	return []StepPlan{
		{Description: "Generate distinct candidate approaches", Kind: "branch"},
		{Description: "Evaluate the strengths and failure modes of each branch", Kind: "evaluate"},
		{Description: "Expand the most promising branch in depth", Kind: "expand"},
		{Description: "Prune weak branches and compare survivors", Kind: "prune"},
		{Description: "Synthesize the best path into an answer", Kind: "conclusion"},
	}
}

func (treeOfThoughts) BuildPrompt(problem string, plan StepPlan, prior []types.ThinkingStep) string {
	return fmt.Sprintf("Problem:\n%s\n\nExploration so far:\n%s\n\nCurrent step: %s",
		problem, priorReasoning(prior), plan.Description)
}

// Visualize fans the branch step out of the root and funnels survivors into
// the conclusion.
func (treeOfThoughts) Visualize(steps []types.ThinkingStep) *types.Visualization {
	vis := &types.Visualization{}
	for _, step := range steps {
		vis.Nodes = append(vis.Nodes, types.VisualizationNode{
			ID:    step.ID,
			Label: step.Description,
			Kind:  "tree",
		})
	}
	for i := 1; i < len(steps); i++ {
		relation := "explores"
		if i == len(steps)-1 {
			relation = "synthesizes"
		}
		vis.Edges = append(vis.Edges, types.VisualizationEdge{
			From:     steps[i-1].ID,
			To:       steps[i].ID,
			Relation: relation,
		})
	}
	return vis
}

type firstPrinciples struct{}

func (firstPrinciples) Name() string { return StrategyFirstPrinciples }

func (firstPrinciples) SystemPrompt() string {
	return "You reason from first principles. Strip away assumptions, " +
		"identify what is fundamentally true, and rebuild the answer from there."
}

func (firstPrinciples) Plan(string) []StepPlan {
	return []StepPlan{
		{Description: "Identify the fundamental truths underlying the problem", Kind: "foundation"},
		{Description: "Surface and challenge the embedded assumptions", Kind: "challenge"},
		{Description: "Rebuild the problem from the fundamentals", Kind: "rebuild"},
		{Description: "Derive the solution from the rebuilt model", Kind: "conclusion"},
	}
}

func (firstPrinciples) BuildPrompt(problem string, plan StepPlan, prior []types.ThinkingStep) string {
	return fmt.Sprintf("Problem:\n%s\n\nGroundwork so far:\n%s\n\nCurrent step: %s",
		problem, priorReasoning(prior), plan.Description)
}

func (firstPrinciples) Visualize(steps []types.ThinkingStep) *types.Visualization {
	return linearVisualization(steps, "principles")
}
