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
	anthropicName            = "anthropic"
	anthropicDefaultBaseURL  = "https://api.anthropic.com"
	anthropicAPIVersion      = "2023-06-01"
	anthropicDefaultMaxToken = 4096
)

// anthropicClient speaks the Anthropic messages API. The system prompt
// travels in a dedicated field rather than as a message.
type anthropicClient struct {
	name       string
	instanceID string
	apiKey     string
	baseURL    string
	model      string
	userAgent  string
	deps       Deps
}

// NewAnthropic creates an Anthropic messages client.
func NewAnthropic(cfg provider.Config, deps Deps) (provider.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic provider %q: api key is required", cfg.Name)
	}
	deps.fill(cfg.Timeout)

	name := cfg.Name
	if name == "" {
		name = anthropicName
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}

	return &anthropicClient{
		name:       name,
		instanceID: uuid.NewString(),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      cfg.Model,
		userAgent:  cfg.UserAgent,
		deps:       deps,
	}, nil
}

func (c *anthropicClient) Name() string       { return c.name }
func (c *anthropicClient) InstanceID() string { return c.instanceID }

type anthropicRequest struct {
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	System      string              `json:"system,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicClient) Query(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	start := time.Now()
	resp, err := c.query(ctx, req)
	tokens := 0
	if resp != nil {
		tokens = resp.Usage.TotalTokens
	}
	observe(c.deps.Observer, c.name, c.instanceID, c.effectiveModel(req), start, tokens, err)
	return resp, err
}

func (c *anthropicClient) effectiveModel(req *types.LLMRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *anthropicClient) query(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, cogitoerrors.NewInvalidRequestError(c.name, req.Model, err.Error())
	}
	model := c.effectiveModel(req)

	wire := anthropicRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		System:    req.SystemPrompt,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = anthropicDefaultMaxToken
	}
	if req.Temperature > 0 {
		t := req.Temperature
		wire.Temperature = &t
	}
	// System messages are carried in the system field, not the message list.
	for _, msg := range req.EffectiveMessages() {
		if msg.Role == "system" {
			if wire.System == "" {
				wire.System = msg.Content
			}
			continue
		}
		wire.Messages = append(wire.Messages, msg)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
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

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, cogitoerrors.NewContentError(c.name, model, fmt.Sprintf("unparseable response: %v", err))
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, cogitoerrors.NewContentError(c.name, model, "response contained no text")
	}

	resp := &types.LLMResponse{
		Text:      sb.String(),
		Model:     firstNonEmpty(parsed.Model, model),
		LatencyMs: time.Since(start).Milliseconds(),
		Provider:  c.name,
		Usage: types.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}
	fillUsage(resp, req, c.deps.Estimator)
	return resp, nil
}

func (c *anthropicClient) mapError(status int, model string, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := http.StatusText(status)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	return cogitoerrors.MapHTTPStatus(c.name, model, status, message)
}

func (c *anthropicClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

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
