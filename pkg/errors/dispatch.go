package errors

import (
	"errors"
	"fmt"
)

// AllProvidersFailedError is raised by the dispatcher after every retry
// round has been exhausted. It preserves the last provider error observed.
type AllProvidersFailedError struct {
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap exposes the last provider error for errors.Is/As chains.
func (e *AllProvidersFailedError) Unwrap() error {
	return e.LastErr
}

// ErrQueueFull is returned by TrySubmit when a queue is above its
// high-water mark.
var ErrQueueFull = &ProviderError{
	Message:   "request queue is full",
	Type:      TypeQueueFull,
	Retryable: true,
}

// ErrServiceMissing is raised by the registry for lookups of services that
// were never registered. It is fatal at startup.
var ErrServiceMissing = errors.New("service not registered")

// IsRetryable reports whether the error carries a retryable bit.
// Unclassified errors are treated as retryable transport failures.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// ErrorType extracts the taxonomy type of an error, defaulting to
// TypeInternal for unclassified errors. Nil yields the empty string.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type
	}
	var apf *AllProvidersFailedError
	if errors.As(err, &apf) {
		return "all_providers_failed"
	}
	return TypeInternal
}
