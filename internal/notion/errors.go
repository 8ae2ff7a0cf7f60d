package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is wrapped by RemoteServiceError while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// RemoteServiceError is any failure talking to the workspace API.
type RemoteServiceError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteServiceError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("notion %s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("notion %s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("notion %s: %v", e.Op, e.Err)
	}
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed: transport
// failures, 429 and 5xx. Other 4xx and malformed payloads are terminal.
func (e *RemoteServiceError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if e.Status == 0 {
		return e.Err != nil
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var rse *RemoteServiceError
	return errors.As(err, &rse) && rse.Status == http.StatusUnauthorized
}

// countsAsFailure decides what trips the breaker: only errors that point
// at the remote side being unhealthy.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var rse *RemoteServiceError
	if errors.As(err, &rse) {
		return rse.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
