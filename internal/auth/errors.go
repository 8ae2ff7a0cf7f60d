package auth

import (
	"fmt"
	"net/http"
)

// Reasons carried by AuthError. They double as the status endpoint's
// "reason" field.
const (
	ReasonNoToken        = "no_token"
	ReasonInvalidToken   = "invalid_token"
	ReasonInvalidState   = "invalid_state"
	ReasonExchangeFailed = "exchange_failed"
	ReasonIdentityFailed = "identity_failed"
)

// AuthError means the caller is not (or no longer) authenticated.
type AuthError struct {
	Reason string
	// Status and Body carry the provider response when there was one.
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "authentication failed: " + e.Reason
	if e.Status != 0 {
		msg += fmt.Sprintf(" (provider status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status a handler should answer with.
func (e *AuthError) HTTPStatus() int {
	if e.Reason == ReasonInvalidState {
		return http.StatusBadRequest
	}
	return http.StatusUnauthorized
}

// Message is a short human-readable explanation for API responses.
func (e *AuthError) Message() string {
	switch e.Reason {
	case ReasonNoToken:
		return "No token found for user"
	case ReasonInvalidToken:
		return "Token invalid or revoked"
	case ReasonInvalidState:
		return "Login session is missing, expired or already used"
	case ReasonExchangeFailed:
		return "Authorization code could not be exchanged"
	case ReasonIdentityFailed:
		return "Could not fetch the user behind the token"
	default:
		return "Authentication failed"
	}
}
