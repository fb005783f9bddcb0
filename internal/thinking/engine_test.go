package thinking

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogitohq/cogito/internal/cache"
	"github.com/cogitohq/cogito/internal/config"
	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/types"
)

type fakeDispatcher struct {
	calls atomic.Int32
	fn    func(req *types.LLMRequest) (*types.LLMResponse, error)
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(req)
	}
	return &types.LLMResponse{
		Text:  "reasoned: " + req.Prompt[:min(24, len(req.Prompt))],
		Model: "m",
		Usage: types.TokenUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}, nil
}

func testConfig() config.ThinkingConfig {
	return config.ThinkingConfig{
		DefaultModel: "balanced",
		MaxSteps:     10,
		Models: []config.ModelProfile{
			{Name: "balanced", Strategy: StrategyChainOfThought, TokenMultiplier: 1.0},
			{Name: "explorer", Strategy: StrategyTreeOfThoughts, TokenMultiplier: 1.5},
			{Name: "adaptive", TokenMultiplier: 1.0},
		},
	}
}

func newEngine(t *testing.T, d Dispatcher, c *cache.Cache) *Engine {
	t.Helper()
	history, err := NewHistory(t.TempDir())
	require.NoError(t, err)
	return NewEngine(Options{
		Dispatcher: d,
		Cache:      c,
		History:    history,
		Config:     testConfig(),
	})
}

func TestProcessCompletesAllSteps(t *testing.T) {
	d := &fakeDispatcher{}
	e := newEngine(t, d, nil)

	proc, err := e.Process(context.Background(), "what is 2+2", "balanced", ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.ProcessCompleted, proc.Status)
	assert.NotEmpty(t, proc.ProcessID)
	assert.Equal(t, "balanced", proc.ModelName)
	require.Len(t, proc.Steps, 5)
	for i, step := range proc.Steps {
		assert.Equal(t, i+1, step.ID)
		assert.Equal(t, types.StepCompleted, step.Status)
		assert.NotEmpty(t, step.Reasoning)
		assert.Equal(t, 10, step.Tokens)
	}
	assert.GreaterOrEqual(t, proc.DurationMs, int64(0))
}

func TestCompletedDurationEndsAtLastStep(t *testing.T) {
	d := &fakeDispatcher{fn: func(req *types.LLMRequest) (*types.LLMResponse, error) {
		time.Sleep(30 * time.Millisecond)
		return &types.LLMResponse{
			Text:  "reasoned",
			Model: "m",
			Usage: types.TokenUsage{TotalTokens: 10},
		}, nil
	}}
	e := newEngine(t, d, nil)

	start := time.Now()
	proc, err := e.Process(context.Background(), "what is 2+2", "balanced", ProcessOptions{MaxSteps: 2})
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, types.ProcessCompleted, proc.Status)
	require.NotEmpty(t, proc.Steps)

	last := proc.Steps[len(proc.Steps)-1]
	assert.Equal(t, last.CreatedAt.Sub(proc.StartedAt).Milliseconds(), proc.DurationMs)
	// The final step's resolution time is not part of the duration.
	assert.Less(t, proc.DurationMs, elapsed.Milliseconds())
}

func TestProcessRejectsEmptyProblem(t *testing.T) {
	e := newEngine(t, &fakeDispatcher{}, nil)
	_, err := e.Process(context.Background(), "   ", "balanced", ProcessOptions{})
	assert.Error(t, err)
}

func TestUnknownModelFallsBackToDefault(t *testing.T) {
	e := newEngine(t, &fakeDispatcher{}, nil)

	proc, err := e.Process(context.Background(), "simple question", "no-such-model", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "balanced", proc.ModelName)
	assert.Equal(t, types.ProcessCompleted, proc.Status)
}

func TestMaxStepsCapsThePlan(t *testing.T) {
	e := newEngine(t, &fakeDispatcher{}, nil)

	proc, err := e.Process(context.Background(), "short", "balanced", ProcessOptions{MaxSteps: 2})
	require.NoError(t, err)
	assert.Len(t, proc.Steps, 2)
	assert.Equal(t, types.ProcessCompleted, proc.Status)
}

func TestStepFailureMarksProcessError(t *testing.T) {
	d := &fakeDispatcher{fn: func(req *types.LLMRequest) (*types.LLMResponse, error) {
		return nil, &cogitoerrors.AllProvidersFailedError{
			Attempts: 3,
			LastErr:  cogitoerrors.NewTransportError("p", "m", "down"),
		}
	}}
	e := newEngine(t, d, nil)

	proc, err := e.Process(context.Background(), "doomed question", "balanced", ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.ProcessError, proc.Status)
	assert.NotEmpty(t, proc.Error)
	// The failing step is preserved with error status.
	require.Len(t, proc.Steps, 1)
	assert.Equal(t, types.StepError, proc.Steps[0].Status)
}

func TestStepsServedFromCacheOnRepeat(t *testing.T) {
	d := &fakeDispatcher{}
	c := cache.New(cache.Options{})
	e := newEngine(t, d, c)
	ctx := context.Background()

	first, err := e.Process(ctx, "repeatable question", "balanced", ProcessOptions{})
	require.NoError(t, err)
	callsAfterFirst := d.calls.Load()
	assert.Equal(t, int32(len(first.Steps)), callsAfterFirst)

	second, err := e.Process(ctx, "repeatable question", "balanced", ProcessOptions{})
	require.NoError(t, err)

	// Identical prompts resolve from cache without new dispatches.
	assert.Equal(t, callsAfterFirst, d.calls.Load())
	for _, step := range second.Steps {
		assert.True(t, step.Cached)
	}
	assert.Equal(t, first.Steps[0].Reasoning, second.Steps[0].Reasoning)
}

func TestVisualizationGeneratedOnRequest(t *testing.T) {
	e := newEngine(t, &fakeDispatcher{}, nil)

	proc, err := e.Process(context.Background(), "draw me", "balanced", ProcessOptions{Visualize: true})
	require.NoError(t, err)
	require.NotNil(t, proc.Visualization)
	assert.Len(t, proc.Visualization.Nodes, len(proc.Steps))
	assert.Len(t, proc.Visualization.Edges, len(proc.Steps)-1)

	plain, err := e.Process(context.Background(), "no drawing", "balanced", ProcessOptions{})
	require.NoError(t, err)
	assert.Nil(t, plain.Visualization)
}

func TestHistoryPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	history, err := NewHistory(dir)
	require.NoError(t, err)

	e := NewEngine(Options{Dispatcher: &fakeDispatcher{}, History: history, Config: testConfig()})
	proc, err := e.Process(context.Background(), "remember me", "balanced", ProcessOptions{})
	require.NoError(t, err)

	reloaded, err := NewHistory(dir)
	require.NoError(t, err)

	got, ok := reloaded.Get(proc.ProcessID)
	require.True(t, ok)
	assert.Equal(t, "remember me", got.Problem)
	assert.Equal(t, types.ProcessCompleted, got.Status)
	assert.Len(t, reloaded.List(0), 1)
}

func TestSelectStrategyHeuristics(t *testing.T) {
	tests := []struct {
		name    string
		problem string
		want    string
	}{
		{"plain question", "what is the time complexity of quicksort", StrategyChainOfThought},
		{"causal question", "why does this fail? challenge the fundamental assumption behind the root cause", StrategyFirstPrinciples},
		{"comparison", "compare the design alternatives and trade-offs for a distributed cache versus a local one", StrategyTreeOfThoughts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.problem))
		})
	}
}

func TestAutoSelectionWhenProfileHasNoStrategy(t *testing.T) {
	e := newEngine(t, &fakeDispatcher{}, nil)

	proc, err := e.Process(context.Background(), "what is the time complexity of quicksort", "adaptive", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "adaptive", proc.ModelName)
	assert.Equal(t, types.ProcessCompleted, proc.Status)
}
