package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/logging"
	"github.com/teemow/noted/internal/notion"
	"github.com/teemow/noted/internal/publish"
	"github.com/teemow/noted/internal/summarize"
)

// Error codes in JSON error bodies.
const (
	codeValidation  = "validation_error"
	codeUpstream    = "upstream_error"
	codeStorage     = "storage_error"
	codeTimeout     = "timeout"
	codeRateLimited = "rate_limited"
	codeUnavailable = "unavailable"
	codeInternal    = "internal_error"
)

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Reason string `json:"reason,omitempty"`
}

// requestError is a malformed or incomplete request body.
type requestError struct {
	Field   string
	Message string
}

func (e *requestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// classify maps an error to its HTTP status and response body.
func classify(err error) (int, ErrorResponse) {
	var (
		authErr    *auth.AuthError
		reqErr     *requestError
		pubErr     *publish.ValidationError
		sumErr     *summarize.ValidationError
		credErr    *credential.ValidationError
		remoteErr  *notion.RemoteServiceError
		apiErr     *summarize.APIError
		storageErr *credential.StorageError
	)

	switch {
	case errors.As(err, &authErr):
		return authErr.HTTPStatus(), ErrorResponse{Error: authErr.Reason, Detail: authErr.Message(), Reason: authErr.Reason}
	case errors.As(err, &reqErr), errors.As(err, &pubErr), errors.As(err, &sumErr), errors.As(err, &credErr):
		return http.StatusBadRequest, ErrorResponse{Error: codeValidation, Detail: err.Error()}
	case errors.As(err, &remoteErr):
		if errors.Is(err, notion.ErrCircuitOpen) {
			return http.StatusServiceUnavailable, ErrorResponse{Error: codeUnavailable, Detail: "Notion is temporarily unavailable, try again shortly"}
		}
		return http.StatusBadGateway, ErrorResponse{Error: codeUpstream, Detail: remoteErr.Error()}
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, ErrorResponse{Error: codeUpstream, Detail: apiErr.Error()}
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, ErrorResponse{Error: codeStorage, Detail: "credential storage failed"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: codeTimeout, Detail: "request timed out"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: codeInternal, Detail: "internal server error"}
	}
}

// writeError logs err and answers with its mapped status.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, body := classify(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "request failed",
		logging.RequestID(requestIDFrom(r.Context())),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		logging.Err(err),
	)

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
