package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cogitohq/cogito/internal/config"
	"github.com/cogitohq/cogito/internal/metrics"
	"github.com/cogitohq/cogito/pkg/types"
)

// Dispatcher resolves one stage request to a response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error)
}

// Stage is one resolved pipeline stage.
type Stage struct {
	Index        int
	Name         string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Orchestrator runs stage sequences. Stages never run concurrently; each
// run is isolated and carries its own token.
type Orchestrator struct {
	dispatcher Dispatcher
	systems    map[string][]Stage
	stageDelay time.Duration
	logger     *slog.Logger
}

// Options configures the orchestrator.
type Options struct {
	Dispatcher Dispatcher
	Config     config.PipelineConfig
	Logger     *slog.Logger
}

// New creates an orchestrator from the configured reasoning systems.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	delay := opts.Config.StageDelay
	if delay <= 0 {
		delay = time.Second
	}

	systems := make(map[string][]Stage, len(opts.Config.Systems))
	for name, stageCfgs := range opts.Config.Systems {
		stages := make([]Stage, 0, len(stageCfgs))
		for i, sc := range stageCfgs {
			stages = append(stages, Stage{
				Index:        i,
				Name:         sc.Name,
				SystemPrompt: sc.SystemPrompt,
				Temperature:  sc.Temperature,
				MaxTokens:    sc.MaxTokens,
			})
		}
		systems[name] = stages
	}

	return &Orchestrator{
		dispatcher: opts.Dispatcher,
		systems:    systems,
		stageDelay: delay,
		logger:     opts.Logger,
	}
}

// Systems lists the configured reasoning system names.
func (o *Orchestrator) Systems() []string {
	out := make([]string, 0, len(o.systems))
	for name := range o.systems {
		out = append(out, name)
	}
	return out
}

// StagesFor returns the stage list of one system.
func (o *Orchestrator) StagesFor(system string) ([]Stage, bool) {
	stages, ok := o.systems[system]
	return stages, ok
}

// Run executes the named system's stages in order against the query. A
// stage failure aborts the run; completed intermediates are preserved in
// the failure result.
func (o *Orchestrator) Run(ctx context.Context, system, query string) (*types.PipelineResult, error) {
	stages, ok := o.systems[system]
	if !ok {
		return nil, fmt.Errorf("unknown reasoning system %q", system)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("reasoning system %q has no stages", system)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	result := &types.PipelineResult{
		Token: types.InterStageToken{
			OriginalQuery: query,
			Phase:         types.PhasePreprocessing,
		},
	}
	start := time.Now()
	prevOutput := ""

	for i, stage := range stages {
		if i > 0 {
			// Minimum separation between stages.
			select {
			case <-ctx.Done():
				return o.fail(result, start, ctx.Err()), nil
			case <-time.After(o.stageDelay):
			}
		}

		prompt := o.buildPrompt(query, prevOutput, &result.Token, stage)
		stageStart := time.Now()
		resp, err := o.dispatcher.Dispatch(ctx, &types.LLMRequest{
			Prompt:       prompt,
			SystemPrompt: stage.SystemPrompt,
			Temperature:  stage.Temperature,
			MaxTokens:    stage.MaxTokens,
		})
		elapsed := time.Since(stageStart)
		metrics.PipelineStageLatency.WithLabelValues(system, stage.Name).Observe(elapsed.Seconds())

		if err != nil {
			o.logger.Warn("pipeline stage failed",
				"system", system, "stage", stage.Name, "index", i, "error", err)
			return o.fail(result, start, fmt.Errorf("stage %d (%s): %w", i, stage.Name, err)), nil
		}

		output := ensureStageMarker(resp.Text, i)
		accumulate(&result.Token, i, len(stages), output)

		result.Intermediates = append(result.Intermediates, types.StageOutput{
			Index:     i,
			Name:      stage.Name,
			Output:    output,
			Usage:     resp.Usage,
			LatencyMs: elapsed.Milliseconds(),
		})
		result.TotalUsage.Add(resp.Usage)
		prevOutput = output
	}

	result.Success = true
	result.FinalOutput = result.Intermediates[len(result.Intermediates)-1].Output
	result.TotalLatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

func (o *Orchestrator) fail(result *types.PipelineResult, start time.Time, err error) *types.PipelineResult {
	result.Success = false
	result.Error = err.Error()
	result.TotalLatencyMs = time.Since(start).Milliseconds()
	return result
}

// buildPrompt composes a stage prompt: original query, previous output,
// token state, and the stage's role directive.
func (o *Orchestrator) buildPrompt(query, prevOutput string, token *types.InterStageToken, stage Stage) string {
	var sb strings.Builder
	sb.WriteString("Original query:\n" + query + "\n\n")
	if prevOutput != "" {
		sb.WriteString("Previous stage output:\n" + prevOutput + "\n\n")
	}
	sb.WriteString(renderToken(token))
	sb.WriteString("\nYour role in this stage: " + stage.Name + ".\n")
	sb.WriteString("Label any findings with ENTITIES:, THEMES:, RELATIONSHIPS:, CONCLUSIONS:, NEXT FOCUS: lines where applicable.")
	return sb.String()
}

// ensureStageMarker guarantees the output opens with a stage-identifying
// marker so downstream consumers can attribute text to its stage.
func ensureStageMarker(output string, index int) string {
	marker := fmt.Sprintf("STAGE %d ANALYSIS:", index+1)
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(strings.ToUpper(trimmed), "STAGE ") {
		return trimmed
	}
	return marker + "\n" + trimmed
}
