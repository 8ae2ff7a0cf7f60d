package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/noted/internal/logging"
)

// AuditEventType names a security-relevant step of the login lifecycle.
type AuditEventType string

const (
	AuditEventLoginStarted AuditEventType = "login_started"
	AuditEventTokenIssued  AuditEventType = "token_issued"
	AuditEventAuthFailure  AuditEventType = "auth_failure"
	AuditEventInvalidState AuditEventType = "invalid_state"
	AuditEventTokenRevoked AuditEventType = "token_revoked"
	AuditEventLogout       AuditEventType = "logout"
)

// AuditEvent is one audit record. User ids are hashed before logging.
type AuditEvent struct {
	Timestamp   time.Time
	EventType   AuditEventType
	UserID      string
	WorkspaceID string
	State       string
	Success     bool
	Error       string
}

// AuditLogger writes audit events as structured log lines.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger}
}

// LogEvent records event. A nil logger discards it.
func (a *AuditLogger) LogEvent(event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	level := slog.LevelInfo
	switch {
	case !event.Success:
		level = slog.LevelWarn
	case event.EventType == AuditEventTokenRevoked:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(event.EventType)),
		slog.Time("timestamp", event.Timestamp),
		slog.Bool("success", event.Success),
	}
	if event.UserID != "" {
		attrs = append(attrs, logging.UserHash(event.UserID))
	}
	if event.WorkspaceID != "" {
		attrs = append(attrs, logging.Workspace(event.WorkspaceID))
	}
	if event.State != "" {
		attrs = append(attrs, slog.String("state_hash", logging.StateHash(event.State)))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, event.Error))
	}

	a.logger.LogAttrs(context.Background(), level, "audit_event", attrs...)
}
