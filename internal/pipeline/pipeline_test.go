package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogitohq/cogito/internal/config"
	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/types"
)

type scriptedDispatcher struct {
	calls   atomic.Int32
	outputs []string
	err     error
	errAt   int // 1-based call index to fail at; 0 = never
}

func (s *scriptedDispatcher) Dispatch(_ context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	call := int(s.calls.Add(1))
	if s.errAt > 0 && call == s.errAt {
		return nil, s.err
	}
	out := "analysis output"
	if call <= len(s.outputs) {
		out = s.outputs[call-1]
	}
	return &types.LLMResponse{
		Text:  out,
		Model: "m",
		Usage: types.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func threeStageConfig() config.PipelineConfig {
	return config.PipelineConfig{
		StageDelay: 5 * time.Millisecond,
		Systems: map[string][]config.StageConfig{
			"analytical": {
				{Name: "extractor", SystemPrompt: "extract entities"},
				{Name: "analyst", SystemPrompt: "analyze relationships"},
				{Name: "synthesizer", SystemPrompt: "draw conclusions"},
			},
		},
	}
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	d := &scriptedDispatcher{outputs: []string{
		"STAGE 1 ANALYSIS:\nENTITIES: cache, queue\nTHEMES: latency",
		"STAGE 2 ANALYSIS:\nRELATIONSHIPS: cache reduces queue depth\nNEXT FOCUS: eviction",
		"STAGE 3 ANALYSIS:\nCONCLUSIONS: tune the eviction policy",
	}}
	o := New(Options{Dispatcher: d, Config: threeStageConfig()})

	result, err := o.Run(context.Background(), "analytical", "how do the parts interact")
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Intermediates, 3)
	assert.Equal(t, []int{0, 1, 2}, result.Token.CompletedStages)
	assert.Equal(t, result.Intermediates[2].Output, result.FinalOutput)
	assert.Equal(t, 45, result.TotalUsage.TotalTokens)

	// Token accumulated across all stages.
	assert.Equal(t, []string{"cache", "queue"}, result.Token.Entities)
	assert.Equal(t, []string{"latency"}, result.Token.Themes)
	assert.Equal(t, []string{"cache reduces queue depth"}, result.Token.Relationships)
	assert.Equal(t, []string{"tune the eviction policy"}, result.Token.Conclusions)
	assert.Equal(t, "eviction", result.Token.NextFocus)
	assert.Equal(t, types.PhaseReasoning, result.Token.Phase)
}

func TestRunEnforcesStageSeparation(t *testing.T) {
	cfg := threeStageConfig()
	cfg.StageDelay = 40 * time.Millisecond
	o := New(Options{Dispatcher: &scriptedDispatcher{}, Config: cfg})

	start := time.Now()
	result, err := o.Run(context.Background(), "analytical", "q")
	require.NoError(t, err)
	require.True(t, result.Success)

	// Two inter-stage delays for three stages.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestStageFailurePreservesIntermediates(t *testing.T) {
	d := &scriptedDispatcher{
		errAt: 2,
		err: &cogitoerrors.AllProvidersFailedError{
			Attempts: 3,
			LastErr:  cogitoerrors.NewTransportError("p", "m", "down"),
		},
	}
	o := New(Options{Dispatcher: d, Config: threeStageConfig()})

	result, err := o.Run(context.Background(), "analytical", "q")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Empty(t, result.FinalOutput)
	assert.Contains(t, result.Error, "analyst")
	require.Len(t, result.Intermediates, 1)
	assert.Equal(t, "extractor", result.Intermediates[0].Name)
	assert.Equal(t, []int{0}, result.Token.CompletedStages)
}

func TestRunRejectsUnknownSystemAndEmptyQuery(t *testing.T) {
	o := New(Options{Dispatcher: &scriptedDispatcher{}, Config: threeStageConfig()})

	_, err := o.Run(context.Background(), "no-such-system", "q")
	assert.Error(t, err)

	_, err = o.Run(context.Background(), "analytical", "  ")
	assert.Error(t, err)
}

func TestMarkerPrependedWhenAbsent(t *testing.T) {
	assert.Equal(t, "STAGE 2 ANALYSIS:\nraw text", ensureStageMarker("raw text", 1))
	assert.Equal(t, "STAGE 1 ANALYSIS: already marked", ensureStageMarker("STAGE 1 ANALYSIS: already marked", 0))
}

func TestPromptCarriesQueryPreviousOutputAndToken(t *testing.T) {
	var prompts []string
	d := &scriptedDispatcher{outputs: []string{
		"ENTITIES: alpha",
		"plain",
		"plain",
	}}
	o := New(Options{Dispatcher: d, Config: threeStageConfig()})
	// Wrap dispatcher to capture prompts.
	o.dispatcher = dispatchFunc(func(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
		prompts = append(prompts, req.Prompt)
		return d.Dispatch(ctx, req)
	})

	result, err := o.Run(context.Background(), "analytical", "the original question")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, prompts, 3)

	assert.Contains(t, prompts[0], "the original question")
	assert.NotContains(t, prompts[0], "Previous stage output")
	assert.Contains(t, prompts[1], "Previous stage output")
	assert.Contains(t, prompts[1], "entities: alpha")
	assert.Contains(t, prompts[2], "Your role in this stage: synthesizer")
}

type dispatchFunc func(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error)

func (f dispatchFunc) Dispatch(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	return f(ctx, req)
}

func TestPhaseAdvancesWithStageIndex(t *testing.T) {
	assert.Equal(t, types.PhasePreprocessing, phaseForStage(0, 3))
	assert.Equal(t, types.PhaseProcessing, phaseForStage(1, 3))
	assert.Equal(t, types.PhaseReasoning, phaseForStage(2, 3))
	assert.Equal(t, types.PhaseReasoning, phaseForStage(0, 1))
}

func TestAccumulateDeduplicates(t *testing.T) {
	token := types.InterStageToken{}
	accumulate(&token, 0, 2, "ENTITIES: cache, Cache, queue")
	accumulate(&token, 1, 2, "ENTITIES: CACHE, dispatcher")

	assert.Equal(t, []string{"cache", "queue", "dispatcher"}, token.Entities)
}
