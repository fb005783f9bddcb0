// Package types defines the unified request, response, and artifact shapes
// shared by all cogito subsystems. Provider-specific wire formats are
// translated to and from these types at the provider boundary.
package types

import (
	"fmt"
)

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMRequest is the unified request passed to the dispatcher and providers.
// Exactly one of Prompt or Messages is authoritative. When SystemPrompt is
// set it is prepended as the first message with role "system".
type LLMRequest struct {
	Prompt       string        `json:"prompt,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Model        string        `json:"model"`
	Temperature  float64       `json:"temperature,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
}

// Validate checks that the request carries usable content.
func (r *LLMRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	hasPrompt := r.Prompt != ""
	hasMessages := len(r.Messages) > 0
	if !hasPrompt && !hasMessages {
		return fmt.Errorf("request requires a prompt or messages")
	}
	if hasPrompt && hasMessages {
		return fmt.Errorf("request must set exactly one of prompt or messages")
	}
	if hasMessages {
		for i, m := range r.Messages {
			if m.Content == "" {
				return fmt.Errorf("message %d has empty content", i)
			}
		}
	}
	return nil
}

// EffectiveMessages normalizes the request into a message list, folding the
// prompt and system prompt into messages when present.
func (r *LLMRequest) EffectiveMessages() []ChatMessage {
	out := make([]ChatMessage, 0, len(r.Messages)+2)
	if r.SystemPrompt != "" {
		out = append(out, ChatMessage{Role: "system", Content: r.SystemPrompt})
	}
	if r.Prompt != "" {
		out = append(out, ChatMessage{Role: "user", Content: r.Prompt})
		return out
	}
	return append(out, r.Messages...)
}

// ContentText returns the user-facing text of the request for estimation
// and fingerprinting purposes.
func (r *LLMRequest) ContentText() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	var total int
	for _, m := range r.Messages {
		total += len(m.Content) + 1
	}
	buf := make([]byte, 0, total)
	for i, m := range r.Messages {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, m.Content...)
	}
	return string(buf)
}

// Clone returns a deep copy of the request.
func (r *LLMRequest) Clone() *LLMRequest {
	if r == nil {
		return nil
	}
	cp := *r
	if len(r.Messages) > 0 {
		cp.Messages = make([]ChatMessage, len(r.Messages))
		copy(cp.Messages, r.Messages)
	}
	return &cp
}
