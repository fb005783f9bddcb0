package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/provider"
	"github.com/cogitohq/cogito/pkg/types"
)

type recordingObserver struct {
	mu      sync.Mutex
	records []provider.CallRecord
}

func (r *recordingObserver) ObserveCall(rec provider.CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingObserver) last(t *testing.T) provider.CallRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.records)
	return r.records[len(r.records)-1]
}

func newOpenAIClient(t *testing.T, url string, obs provider.Observer) provider.Client {
	t.Helper()
	c, err := NewOpenAI(provider.Config{
		Name:    "openai-test",
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "gpt-4o-mini",
	}, Deps{Observer: obs})
	require.NoError(t, err)
	return c
}

func TestOpenAIQuerySuccess(t *testing.T) {
	var gotBody openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "the answer"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 3,
				"total_tokens":      15,
			},
		})
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := newOpenAIClient(t, srv.URL, obs)

	resp, err := c.Query(context.Background(), &types.LLMRequest{
		Prompt:       "what is the answer",
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Text)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "openai-test", resp.Provider)

	// System prompt folds into the first message.
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "be brief", gotBody.Messages[0].Content)
	assert.Equal(t, "user", gotBody.Messages[1].Role)

	rec := obs.last(t)
	assert.Equal(t, "openai-test", rec.Provider)
	assert.Empty(t, rec.ErrorType)
	assert.Equal(t, 15, rec.Tokens)
}

func TestOpenAIEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "a fairly long answer to count"}},
			},
		})
	}))
	defer srv.Close()

	c := newOpenAIClient(t, srv.URL, nil)
	resp, err := c.Query(context.Background(), &types.LLMRequest{Prompt: "count my tokens please"})
	require.NoError(t, err)
	assert.Positive(t, resp.Usage.PromptTokens)
	assert.Positive(t, resp.Usage.CompletionTokens)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantType  string
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, cogitoerrors.TypeAuthentication, false},
		{"rate limited", http.StatusTooManyRequests, cogitoerrors.TypeRateLimit, true},
		{"server error", http.StatusInternalServerError, cogitoerrors.TypeTransport, true},
		{"bad request", http.StatusBadRequest, cogitoerrors.TypeInvalidRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "upstream says no"},
				})
			}))
			defer srv.Close()

			obs := &recordingObserver{}
			c := newOpenAIClient(t, srv.URL, obs)

			_, err := c.Query(context.Background(), &types.LLMRequest{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.wantType, cogitoerrors.ErrorType(err))
			assert.Equal(t, tt.retryable, cogitoerrors.IsRetryable(err))
			assert.Equal(t, tt.wantType, obs.last(t).ErrorType)
		})
	}
}

func TestOpenAIHTMLBodyIsContentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer srv.Close()

	c := newOpenAIClient(t, srv.URL, nil)
	_, err := c.Query(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, cogitoerrors.TypeContent, cogitoerrors.ErrorType(err))
	assert.False(t, cogitoerrors.IsRetryable(err))
}

func TestOpenAIRejectsInvalidRequest(t *testing.T) {
	c := newOpenAIClient(t, "http://unused.invalid", nil)

	_, err := c.Query(context.Background(), &types.LLMRequest{})
	require.Error(t, err)
	assert.Equal(t, cogitoerrors.TypeInvalidRequest, cogitoerrors.ErrorType(err))

	_, err = c.Query(context.Background(), &types.LLMRequest{
		Prompt:   "both",
		Messages: []types.ChatMessage{{Role: "user", Content: "set"}},
	})
	require.Error(t, err)
}

func TestAnthropicQuerySuccess(t *testing.T) {
	var gotBody anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-sonnet-4-5",
			"content": []map[string]any{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
			"usage": map[string]any{"input_tokens": 9, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	c, err := NewAnthropic(provider.Config{
		Name:    "anthropic-test",
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "claude-sonnet-4-5",
	}, Deps{})
	require.NoError(t, err)

	resp, err := c.Query(context.Background(), &types.LLMRequest{
		Prompt:       "combine the parts",
		SystemPrompt: "stay terse",
	})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", resp.Text)
	assert.Equal(t, 13, resp.Usage.TotalTokens)

	// The system prompt rides the dedicated field, not the message list.
	assert.Equal(t, "stay terse", gotBody.System)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Positive(t, gotBody.MaxTokens)
}

func TestAnthropicEmptyContentIsContentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"content": []map[string]any{}})
	}))
	defer srv.Close()

	c, err := NewAnthropic(provider.Config{APIKey: "k", BaseURL: srv.URL}, Deps{})
	require.NoError(t, err)

	_, err = c.Query(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, cogitoerrors.TypeContent, cogitoerrors.ErrorType(err))
}

func TestRegistryCreatesKnownTypes(t *testing.T) {
	r := NewRegistry()

	c, err := r.Create(provider.Config{Name: "p1", Type: "openai", APIKey: "k"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "p1", c.Name())
	assert.NotEmpty(t, c.InstanceID())

	other, err := r.Create(provider.Config{Name: "p2", Type: "openai", APIKey: "k"}, Deps{})
	require.NoError(t, err)
	assert.NotEqual(t, c.InstanceID(), other.InstanceID())

	_, err = r.Create(provider.Config{Name: "p3", Type: "imaginary", APIKey: "k"}, Deps{})
	assert.Error(t, err)
}

func TestRegistryRequiresAPIKey(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(provider.Config{Name: "p", Type: "anthropic"}, Deps{})
	assert.Error(t, err)
}
