package types

import "fmt"

// TokenUsage reports token consumption for a single provider call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Normalize enforces total = prompt + completion, recomputing the total when
// the provider reported an inconsistent or missing value.
func (u *TokenUsage) Normalize() {
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// Add accumulates another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// LLMResponse is the unified response produced by a provider client.
type LLMResponse struct {
	Text      string     `json:"text"`
	Model     string     `json:"model"`
	Usage     TokenUsage `json:"token_usage"`
	LatencyMs int64      `json:"latency_ms"`

	// Cached marks responses served from the cache layer instead of a
	// live provider call.
	Cached bool `json:"cached,omitempty"`

	// Provider is the name of the provider that produced the response.
	Provider string `json:"provider,omitempty"`
}

// Validate checks the usage arithmetic invariant.
func (r *LLMResponse) Validate() error {
	if r.Usage.TotalTokens != r.Usage.PromptTokens+r.Usage.CompletionTokens {
		return fmt.Errorf("token usage total %d != prompt %d + completion %d",
			r.Usage.TotalTokens, r.Usage.PromptTokens, r.Usage.CompletionTokens)
	}
	return nil
}
