// Package provider defines the public interface for LLM provider clients.
// Each provider (OpenAI-compatible, Anthropic, etc.) implements this
// interface to handle request translation and API communication.
package provider

import (
	"context"
	"time"

	"github.com/cogitohq/cogito/pkg/types"
)

// Client is the uniform request/response contract to one LLM endpoint.
// Implementations must be safe for concurrent use; per-call state is never
// shared between invocations.
type Client interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// InstanceID returns a stable unique id for this client instance,
	// used for tracing and health reporting.
	InstanceID() string

	// Query sends a request and returns the unified response with
	// populated token counts and latency.
	Query(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error)

	// Probe issues a minimal health-check request.
	Probe(ctx context.Context) error
}

// Descriptor registers a client with the dispatcher. Immutable after
// registration; removal is explicit.
type Descriptor struct {
	Name       string
	Priority   int
	Weight     float64
	MaxTimeout time.Duration
	Client     Client
}

// Config contains provider-specific construction settings.
type Config struct {
	Name      string
	Type      string
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	UserAgent string
}

// CallRecord is the per-call observation emitted to the health monitor.
type CallRecord struct {
	Provider   string
	InstanceID string
	Model      string
	Latency    time.Duration
	Tokens     int
	ErrorType  string // empty on success
	Timestamp  time.Time
}

// Observer receives per-call records. The health monitor implements this.
type Observer interface {
	ObserveCall(rec CallRecord)
}

// NopObserver discards all records.
type NopObserver struct{}

// ObserveCall implements Observer.
func (NopObserver) ObserveCall(CallRecord) {}
