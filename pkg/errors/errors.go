// Package errors defines unified error types for cogito operations.
// All provider-specific errors are mapped to these standard error types.
package errors

import (
	"fmt"
	"net/http"
)

// Common error types as constants for consistency.
const (
	TypeAuthentication = "authentication_error"
	TypeRateLimit      = "rate_limit_error"
	TypeTimeout        = "timeout_error"
	TypeTransport      = "transport_error"
	TypeContent        = "content_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeInternal       = "internal_error"
	TypeQueueFull      = "queue_full_error"
	TypeCacheFull      = "cache_full_error"
)

// ProviderError represents a standardized error from an LLM provider call.
// It carries the retryable bit that drives queue retries and dispatcher
// fallback decisions.
type ProviderError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// NewAuthError creates a credential-rejected error (401). Not retryable.
func NewAuthError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429). Retryable.
func NewRateLimitError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewTimeoutError creates a timeout error (408). Retryable.
func NewTimeoutError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewTransportError creates a network-level error. Retryable.
func NewTransportError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeTransport,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewContentError marks a provider response that was not usable text
// (HTML error pages, empty bodies). Not retryable against the same provider.
func NewContentError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeContent,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewInvalidRequestError creates an invalid request error (400). Not retryable.
func NewInvalidRequestError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewInternalError creates an internal error (500).
func NewInternalError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternal,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// MapHTTPStatus converts an HTTP status into the standard error for it.
// 5xx and 429 are retryable; other 4xx are authoritative and are not.
func MapHTTPStatus(provider, model string, status int, message string) *ProviderError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAuthError(provider, model, message)
	case status == http.StatusTooManyRequests:
		return NewRateLimitError(provider, model, message)
	case status == http.StatusRequestTimeout:
		return NewTimeoutError(provider, model, message)
	case status >= 500:
		e := NewTransportError(provider, model, message)
		e.StatusCode = status
		return e
	default:
		e := NewInvalidRequestError(provider, model, message)
		e.StatusCode = status
		return e
	}
}
