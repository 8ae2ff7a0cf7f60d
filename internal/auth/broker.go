package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/logging"
	"github.com/teemow/noted/internal/notion"
)

// UnknownWorkspace is stored when the token response names no workspace.
const UnknownWorkspace = "unknown"

// Config describes the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string

	PendingTTL    time.Duration
	CompletionTTL time.Duration
}

// TokenResponse is the provider's answer to a code exchange.
type TokenResponse struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	BotID         string `json:"bot_id,omitempty"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	WorkspaceName string `json:"workspace_name,omitempty"`
	WorkspaceIcon string `json:"workspace_icon,omitempty"`
}

// Identity is the user behind an access token.
type Identity struct {
	ID            string
	Name          string
	Email         string
	WorkspaceID   string
	WorkspaceName string
}

// IdentityFetcher resolves an access token to its user.
type IdentityFetcher interface {
	Me(ctx context.Context, token string) (*notion.User, error)
}

// Broker drives logins and token validation.
type Broker struct {
	cfg        Config
	oauth      *oauth2.Config
	states     StateStore
	creds      credential.Store
	identity   IdentityFetcher
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	audit      *AuditLogger
	logger     *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

func WithHTTPClient(hc *http.Client) Option {
	return func(b *Broker) { b.httpClient = hc }
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

func WithAuditLogger(a *AuditLogger) Option {
	return func(b *Broker) { b.audit = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// NewBroker wires a Broker. Zero TTLs fall back to the defaults.
func NewBroker(cfg Config, states StateStore, creds credential.Store, identity IdentityFetcher, opts ...Option) *Broker {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.CompletionTTL <= 0 {
		cfg.CompletionTTL = DefaultCompletionTTL
	}

	b := &Broker{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		states:   states,
		creds:    creds,
		identity: identity,
		httpClient: &http.Client{
			Timeout:   notion.DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.audit == nil {
		b.audit = NewAuditLogger(b.logger)
	}
	return b
}

// BuildAuthorizationURL returns the consent URL for state.
func (b *Broker) BuildAuthorizationURL(state string) string {
	return b.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("owner", "user"))
}

// BeginLogin registers a fresh pending login and returns its consent URL.
func (b *Broker) BeginLogin(ctx context.Context) (string, string, error) {
	state, err := NewState()
	if err != nil {
		return "", "", err
	}
	if err := b.states.PutPending(ctx, state, b.cfg.PendingTTL); err != nil {
		return "", "", fmt.Errorf("failed to register login: %w", err)
	}

	b.audit.LogEvent(AuditEvent{EventType: AuditEventLoginStarted, State: state, Success: true})
	return b.BuildAuthorizationURL(state), state, nil
}

// CompleteLogin finishes the flow started by BeginLogin. The pending state
// is consumed before the code is redeemed, so a replayed or forged callback
// never reaches the token endpoint.
func (b *Broker) CompleteLogin(ctx context.Context, state, code string) (*Identity, error) {
	ok, err := b.states.TakePending(ctx, state)
	if err != nil {
		return nil, err
	}
	if state == "" || !ok {
		b.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultInvalidState)
		b.audit.LogEvent(AuditEvent{EventType: AuditEventInvalidState, State: state, Error: "unknown, expired or reused state"})
		return nil, &AuthError{Reason: ReasonInvalidState}
	}

	id, err := b.completeExchange(ctx, code)
	if err != nil {
		b.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		b.audit.LogEvent(AuditEvent{EventType: AuditEventAuthFailure, State: state, Error: err.Error()})
		return nil, err
	}

	if err := b.states.PutCompleted(ctx, state, id.ID, b.cfg.CompletionTTL); err != nil {
		// The credential is stored; only the polling shortcut is lost.
		b.logger.Warn("failed to record completed login", logging.Err(err))
	}

	b.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	b.audit.LogEvent(AuditEvent{EventType: AuditEventTokenIssued, UserID: id.ID, WorkspaceID: id.WorkspaceID, Success: true})
	return id, nil
}

func (b *Broker) completeExchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := b.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	id, err := b.FetchIdentity(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	id.WorkspaceID = tok.WorkspaceID
	id.WorkspaceName = tok.WorkspaceName

	if err := b.creds.Store(ctx, id.ID, tok.AccessToken, tok.WorkspaceID); err != nil {
		return nil, err
	}
	return id, nil
}

type exchangeRequest struct {
	GrantType   string `json:"grant_type"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// ExchangeCode redeems an authorization code at the token endpoint using
// HTTP Basic client authentication and a JSON body.
func (b *Broker) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Err: errors.New("missing authorization code")}
	}

	ctx, span := instrumentation.StartRemoteSpan(ctx, instrumentation.ServiceNotion, instrumentation.OperationTokenExchange)
	defer span.End()
	start := time.Now()

	tok, err := b.exchange(ctx, code)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	b.metrics.RecordRemoteOperation(ctx, instrumentation.ServiceNotion, instrumentation.OperationTokenExchange, status, time.Since(start))
	return tok, err
}

func (b *Broker) exchange(ctx context.Context, code string) (*TokenResponse, error) {
	body, err := json.Marshal(exchangeRequest{
		GrantType:   "authorization_code",
		Code:        code,
		RedirectURI: b.cfg.RedirectURI,
	})
	if err != nil {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Err: err}
	}
	req.SetBasicAuth(b.cfg.ClientID, b.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Notion-Version", notion.APIVersion)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Status: resp.StatusCode, Body: string(raw)}
	}

	var tok TokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Status: resp.StatusCode, Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &AuthError{Reason: ReasonExchangeFailed, Status: resp.StatusCode, Err: errors.New("token response without access_token")}
	}
	if tok.WorkspaceID == "" {
		tok.WorkspaceID = UnknownWorkspace
	}

	b.logger.Debug("exchanged authorization code", "token", logging.SanitizeToken(tok.AccessToken), logging.Workspace(tok.WorkspaceID))
	return &tok, nil
}

// FetchIdentity returns the user behind token.
func (b *Broker) FetchIdentity(ctx context.Context, token string) (*Identity, error) {
	u, err := b.identity.Me(ctx, token)
	if err != nil {
		ae := &AuthError{Reason: ReasonIdentityFailed, Err: err}
		var rse *notion.RemoteServiceError
		if errors.As(err, &rse) {
			ae.Status, ae.Body = rse.Status, rse.Body
		}
		return nil, ae
	}
	return &Identity{ID: u.ID, Name: u.Name, Email: u.Email()}, nil
}

// Validate checks that userID's stored token still works. Any failed
// identity check, after the client's own retries, deletes the credential
// and is reported as ReasonInvalidToken. Only cancellation by the caller
// leaves the credential in place.
func (b *Broker) Validate(ctx context.Context, userID string) (*Identity, error) {
	cred, err := b.creds.Get(ctx, userID)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, &AuthError{Reason: ReasonNoToken}
	}
	if err != nil {
		return nil, err
	}

	id, err := b.FetchIdentity(ctx, cred.AccessToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if delErr := b.creds.Delete(ctx, userID); delErr != nil {
			b.logger.Error("failed to delete invalid credential", logging.UserHash(userID), logging.Err(delErr))
		}
		b.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultRevoked)
		b.audit.LogEvent(AuditEvent{EventType: AuditEventTokenRevoked, UserID: userID, WorkspaceID: cred.WorkspaceID, Success: true, Error: err.Error()})

		ae := &AuthError{Reason: ReasonInvalidToken, Err: err}
		var idErr *AuthError
		if errors.As(err, &idErr) {
			ae.Status, ae.Body, ae.Err = idErr.Status, idErr.Body, idErr.Err
		}
		return nil, ae
	}

	id.WorkspaceID = cred.WorkspaceID
	return id, nil
}

// Logout deletes userID's credential. Logging out twice is not an error.
func (b *Broker) Logout(ctx context.Context, userID string) error {
	if err := b.creds.Delete(ctx, userID); err != nil {
		return err
	}
	b.audit.LogEvent(AuditEvent{EventType: AuditEventLogout, UserID: userID, Success: true})
	return nil
}

// CompletedUser returns, once, the user bound to a finished login.
func (b *Broker) CompletedUser(ctx context.Context, state string) (string, bool, error) {
	if state == "" {
		return "", false, nil
	}
	return b.states.TakeCompleted(ctx, state)
}
