// Package provider implements the HTTP clients behind the public
// provider.Client interface: an OpenAI-compatible chat completions client
// and an Anthropic messages client, plus the factory registry that
// constructs them from configuration.
package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/provider"
	"github.com/cogitohq/cogito/pkg/types"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20
)

// Estimator supplies token counts when a provider omits usage.
type Estimator interface {
	Estimate(text string) int
}

// wordEstimator is the fallback when no estimator is injected.
type wordEstimator struct{}

func (wordEstimator) Estimate(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Deps are the cross-cutting collaborators shared by all clients.
type Deps struct {
	HTTPClient *http.Client
	Estimator  Estimator
	Observer   provider.Observer
}

func (d *Deps) fill(timeout time.Duration) {
	if d.HTTPClient == nil {
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		d.HTTPClient = &http.Client{Timeout: timeout}
	}
	if d.Estimator == nil {
		d.Estimator = wordEstimator{}
	}
	if d.Observer == nil {
		d.Observer = provider.NopObserver{}
	}
}

// readBody reads a size-capped response body.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

// looksLikeHTML reports whether a body is an HTML page rather than JSON.
// Proxies and gateways return these on upstream failure.
func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

// classifyTransport maps a round-trip error to the standard taxonomy.
func classifyTransport(providerName, model string, err error) *cogitoerrors.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return cogitoerrors.NewTimeoutError(providerName, model, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		e := cogitoerrors.NewTimeoutError(providerName, model, err.Error())
		e.Retryable = false
		return e
	}
	return cogitoerrors.NewTransportError(providerName, model, err.Error())
}

// observe emits the per-call record.
func observe(obs provider.Observer, name, instanceID, model string, start time.Time, tokens int, err error) {
	obs.ObserveCall(provider.CallRecord{
		Provider:   name,
		InstanceID: instanceID,
		Model:      model,
		Latency:    time.Since(start),
		Tokens:     tokens,
		ErrorType:  cogitoerrors.ErrorType(err),
		Timestamp:  time.Now(),
	})
}

// fillUsage estimates token counts when the provider omitted them.
func fillUsage(resp *types.LLMResponse, req *types.LLMRequest, est Estimator) {
	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		resp.Usage.PromptTokens = est.Estimate(req.ContentText())
		resp.Usage.CompletionTokens = est.Estimate(resp.Text)
	}
	resp.Usage.Normalize()
}
