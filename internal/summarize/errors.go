package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// APIError is a failed chat-completions exchange.
type APIError struct {
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("chat completion: status %d: %v", e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("chat completion: status %d: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("chat completion: %v", e.Err)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the exchange may succeed when repeated.
func (e *APIError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	if e.Status == 0 {
		return e.Err != nil
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
