package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/provider"
	"github.com/cogitohq/cogito/pkg/types"
)

const (
	openAIName           = "openai"
	openAIDefaultBaseURL = "https://api.openai.com/v1"
)

// openAIClient speaks the OpenAI-compatible chat completions API. Many
// gateways expose this shape, so BaseURL is the only thing that changes
// between vendors.
type openAIClient struct {
	name       string
	instanceID string
	apiKey     string
	baseURL    string
	model      string
	userAgent  string
	deps       Deps
}

// NewOpenAI creates an OpenAI-compatible client.
func NewOpenAI(cfg provider.Config, deps Deps) (provider.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider %q: api key is required", cfg.Name)
	}
	deps.fill(cfg.Timeout)

	name := cfg.Name
	if name == "" {
		name = openAIName
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}

	return &openAIClient{
		name:       name,
		instanceID: uuid.NewString(),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      cfg.Model,
		userAgent:  cfg.UserAgent,
		deps:       deps,
	}, nil
}

func (c *openAIClient) Name() string       { return c.name }
func (c *openAIClient) InstanceID() string { return c.instanceID }

type openAIRequest struct {
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *openAIClient) Query(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	start := time.Now()
	resp, err := c.query(ctx, req)
	tokens := 0
	if resp != nil {
		tokens = resp.Usage.TotalTokens
	}
	observe(c.deps.Observer, c.name, c.instanceID, c.effectiveModel(req), start, tokens, err)
	return resp, err
}

func (c *openAIClient) effectiveModel(req *types.LLMRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *openAIClient) query(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, cogitoerrors.NewInvalidRequestError(c.name, req.Model, err.Error())
	}
	model := c.effectiveModel(req)

	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    req.EffectiveMessages(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	httpResp, err := c.deps.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(c.name, model, err)
	}
	raw, err := readBody(httpResp)
	if err != nil {
		return nil, cogitoerrors.NewTransportError(c.name, model, err.Error())
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.mapError(httpResp.StatusCode, model, raw)
	}
	if looksLikeHTML(raw) {
		return nil, cogitoerrors.NewContentError(c.name, model, "provider returned HTML instead of JSON")
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, cogitoerrors.NewContentError(c.name, model, fmt.Sprintf("unparseable response: %v", err))
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, cogitoerrors.NewContentError(c.name, model, "response contained no text")
	}

	resp := &types.LLMResponse{
		Text:      parsed.Choices[0].Message.Content,
		Model:     firstNonEmpty(parsed.Model, model),
		LatencyMs: time.Since(start).Milliseconds(),
		Provider:  c.name,
		Usage: types.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	fillUsage(resp, req, c.deps.Estimator)
	return resp, nil
}

// mapError converts an OpenAI error payload to the standard taxonomy.
func (c *openAIClient) mapError(status int, model string, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	message := http.StatusText(status)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	return cogitoerrors.MapHTTPStatus(c.name, model, status, message)
}

func (c *openAIClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.deps.HTTPClient.Do(httpReq)
	if err != nil {
		return classifyTransport(c.name, c.model, err)
	}
	raw, _ := readBody(resp)
	if resp.StatusCode != http.StatusOK {
		return c.mapError(resp.StatusCode, c.model, raw)
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
