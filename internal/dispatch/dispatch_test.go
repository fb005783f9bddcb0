package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogitohq/cogito/internal/events"
	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/provider"
	"github.com/cogitohq/cogito/pkg/types"
)

// fakeClient counts calls and returns scripted results.
type fakeClient struct {
	mu    sync.Mutex
	name  string
	calls int
	fn    func(call int) (*types.LLMResponse, error)
}

func (f *fakeClient) Name() string       { return f.name }
func (f *fakeClient) InstanceID() string { return f.name + "-1" }

func (f *fakeClient) Query(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeClient) Probe(ctx context.Context) error { return nil }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeeding(name, text string) *fakeClient {
	return &fakeClient{name: name, fn: func(int) (*types.LLMResponse, error) {
		return &types.LLMResponse{Text: text, Model: "m", Provider: name,
			Usage: types.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}}, nil
	}}
}

func failing(name string, err error) *fakeClient {
	return &fakeClient{name: name, fn: func(int) (*types.LLMResponse, error) {
		return nil, err
	}}
}

func newDispatcher(t *testing.T, maxRetries int) *Dispatcher {
	t.Helper()
	d := New(Options{MaxRetries: maxRetries})
	d.sleep = func(context.Context, time.Duration) {}
	return d
}

func register(d *Dispatcher, c *fakeClient, priority int, weight float64) {
	d.Register(provider.Descriptor{
		Name:       c.name,
		Priority:   priority,
		Weight:     weight,
		MaxTimeout: time.Second,
		Client:     c,
	})
}

func TestDispatchUsesHighestPriorityFirst(t *testing.T) {
	d := newDispatcher(t, 3)
	low := succeeding("low", "from low")
	high := succeeding("high", "from high")
	register(d, low, 1, 1)
	register(d, high, 10, 1)

	resp, err := d.Dispatch(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from high", resp.Text)
	assert.Equal(t, 0, low.callCount())
}

func TestDispatchFallsBackOnFailure(t *testing.T) {
	d := newDispatcher(t, 3)
	primary := failing("primary", cogitoerrors.NewTransportError("primary", "m", "down"))
	backup := succeeding("backup", "from backup")
	register(d, primary, 10, 1)
	register(d, backup, 1, 1)

	resp, err := d.Dispatch(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Text)
	assert.Equal(t, 1, primary.callCount())

	stats, ok := d.Stats("primary")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestDispatchAllProvidersFailed(t *testing.T) {
	d := newDispatcher(t, 2)
	a := failing("a", cogitoerrors.NewTransportError("a", "m", "down"))
	b := failing("b", cogitoerrors.NewTransportError("b", "m", "down"))
	register(d, a, 2, 1)
	register(d, b, 1, 1)

	_, err := d.Dispatch(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.Error(t, err)

	var apf *cogitoerrors.AllProvidersFailedError
	require.True(t, errors.As(err, &apf))
	// 2 retry rounds across 2 providers.
	assert.Equal(t, 4, apf.Attempts)
	assert.Equal(t, 2, a.callCount())
	assert.Equal(t, 2, b.callCount())
}

func TestDispatchRecoversOnLaterRound(t *testing.T) {
	d := newDispatcher(t, 3)
	flaky := &fakeClient{name: "flaky", fn: func(call int) (*types.LLMResponse, error) {
		if call < 2 {
			return nil, cogitoerrors.NewRateLimitError("flaky", "m", "slow down")
		}
		return &types.LLMResponse{Text: "recovered", Model: "m",
			Usage: types.TokenUsage{TotalTokens: 2}}, nil
	}}
	register(d, flaky, 1, 1)

	resp, err := d.Dispatch(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 2, flaky.callCount())
}

func TestRankingPrefersSuccessRateWithinPriority(t *testing.T) {
	d := newDispatcher(t, 1)
	healthy := succeeding("healthy", "ok")
	shaky := succeeding("shaky", "ok")
	register(d, shaky, 5, 9)
	register(d, healthy, 5, 1)

	// Equal priorities, no history: weight decides and shaky leads.
	assert.Equal(t, []string{"shaky", "healthy"}, d.Ranked())

	d.recordFailure("shaky")
	d.recordSuccess("healthy", 10*time.Millisecond)
	d.Rerank()

	assert.Equal(t, []string{"healthy", "shaky"}, d.Ranked())
}

func TestRankingIsStableForEqualProviders(t *testing.T) {
	d := newDispatcher(t, 1)
	for _, name := range []string{"first", "second", "third"} {
		register(d, succeeding(name, "ok"), 1, 1)
	}

	before := d.Ranked()
	d.Rerank()
	assert.Equal(t, before, d.Ranked())
	assert.Equal(t, []string{"first", "second", "third"}, before)
}

func TestAuthErrorDoesNotCountAsFailure(t *testing.T) {
	d := newDispatcher(t, 1)
	locked := failing("locked", cogitoerrors.NewAuthError("locked", "m", "bad key"))
	ok := succeeding("ok", "served")
	register(d, locked, 10, 1)
	register(d, ok, 1, 1)

	resp, err := d.Dispatch(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "served", resp.Text)

	stats, _ := d.Stats("locked")
	assert.Equal(t, int64(0), stats.Failures)
}

func TestDispatchEmitsEvents(t *testing.T) {
	bus := events.NewBus()
	var mu sync.Mutex
	var kinds []events.Kind
	bus.SubscribeAll(func(ev events.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	d := New(Options{MaxRetries: 1, Bus: bus})
	d.sleep = func(context.Context, time.Duration) {}
	register(d, failing("bad", cogitoerrors.NewTransportError("bad", "m", "down")), 2, 1)
	register(d, succeeding("good", "ok"), 1, 1)

	_, err := d.Dispatch(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Kind{events.KindQueryError, events.KindQuerySuccess}, kinds)
}

func TestRunningMeanLatency(t *testing.T) {
	d := newDispatcher(t, 1)
	register(d, succeeding("p", "ok"), 1, 1)

	d.recordSuccess("p", 100*time.Millisecond)
	d.recordSuccess("p", 300*time.Millisecond)

	stats, _ := d.Stats("p")
	assert.Equal(t, int64(2), stats.Successes)
	assert.Equal(t, 200*time.Millisecond, stats.AvgResponseTime)
	assert.False(t, stats.LastSuccess.IsZero())
}

func TestUnregisterRemovesProvider(t *testing.T) {
	d := newDispatcher(t, 1)
	register(d, succeeding("p", "ok"), 1, 1)
	d.Unregister("p")

	assert.Empty(t, d.Ranked())
	_, ok := d.Stats("p")
	assert.False(t, ok)

	_, err := d.Dispatch(context.Background(), &types.LLMRequest{Prompt: "hi"})
	assert.Error(t, err)
}
