package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/noted/internal/instrumentation"
)

// ErrNotFound is returned by Get when no credential exists for the user.
var ErrNotFound = errors.New("credential not found")

// Credential is a stored access token bound to one user and workspace.
type Credential struct {
	UserID      string
	AccessToken string
	WorkspaceID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Summary is the listing view of a credential. It never carries the token.
type Summary struct {
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is a durable userID → Credential map.
type Store interface {
	// Store upserts the credential for userID. A second call replaces the
	// token and workspace, keeps CreatedAt and bumps UpdatedAt.
	Store(ctx context.Context, userID, accessToken, workspaceID string) error

	// Get returns the credential for userID or ErrNotFound.
	Get(ctx context.Context, userID string) (*Credential, error)

	// Delete removes the credential. Deleting an absent user succeeds.
	Delete(ctx context.Context, userID string) error

	// List returns all credentials ordered by CreatedAt, then UserID.
	List(ctx context.Context) ([]Summary, error)

	// Expire removes credentials not updated within olderThan and returns
	// the number removed.
	Expire(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// StorageError wraps a failure of the underlying persistence engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("credential store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError reports a rejected argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func validateStore(userID, accessToken string) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if accessToken == "" {
		return &ValidationError{Field: "access_token", Message: "must not be empty"}
	}
	return nil
}

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	key     []byte
	metrics *instrumentation.Metrics
}

// Option configures a Store.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEncryptionKey enables AES-256-GCM encryption of access tokens at rest.
// The key must be 32 bytes; an empty key leaves encryption disabled.
func WithEncryptionKey(key []byte) Option {
	return func(o *options) { o.key = key }
}

// WithMetrics records credential_store_operations_total for every call.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
