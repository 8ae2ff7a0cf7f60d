package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/notion"
	"github.com/teemow/noted/internal/notion/notiontest"
	"github.com/teemow/noted/internal/publish"
	"github.com/teemow/noted/internal/summarize"
)

type fakeSummarizer struct {
	err error
}

func (f *fakeSummarizer) Summarize(_ context.Context, apiKey, content string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "summary of " + content + " with " + apiKey, nil
}

func (f *fakeSummarizer) SummarizeAndCategorize(_ context.Context, _, title, _ string) (summarize.Result, error) {
	if f.err != nil {
		return summarize.Result{}, f.err
	}
	return summarize.Result{Summary: "about " + title, Category: "Sports"}, nil
}

type fixture struct {
	notion     *notiontest.Server
	creds      *credential.MemoryStore
	summarizer *fakeSummarizer
	server     *Server
	handler    http.Handler
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	srv := notiontest.NewServer(t)
	srv.SetClientCredentials("client-id", "client-secret")

	client := notion.NewClient(
		notion.WithBaseURL(srv.BaseURL()),
		notion.WithRetry(2, func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)
	creds := credential.NewMemoryStore()
	states := auth.NewMemoryStateStore(0, nil)
	t.Cleanup(func() { _ = states.Close() })

	broker := auth.NewBroker(auth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:8000/auth/notion/callback",
		AuthURL:      "https://api.notion.com/v1/oauth/authorize",
		TokenURL:     srv.TokenURL(),
	}, states, creds, client)

	summarizer := &fakeSummarizer{}
	sc, err := NewServerContext(context.Background(), Services{
		Broker:      broker,
		Publisher:   publish.NewCoordinator(creds, hierarchy.NewResolver(client), client),
		Summarizer:  summarizer,
		Credentials: creds,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	cfg := Config{BaseURL: "http://localhost:8000", Version: "test"}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(sc, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	return &fixture{notion: srv, creds: creds, summarizer: summarizer, server: s, handler: s.Handler()}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// login drives the browser part of the flow and returns the state.
func (f *fixture) login(t *testing.T, code string) string {
	t.Helper()
	f.notion.AddGrant(code, notiontest.Grant{
		AccessToken:   "tok-" + code,
		WorkspaceID:   "ws-1",
		WorkspaceName: "Ada's Workspace",
		User:          notion.User{ID: "user-1", Name: "Ada"},
	})

	rec := f.do(t, http.MethodGet, "/auth/notion/login", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	rec = f.do(t, http.MethodGet, "/auth/notion/callback?code="+code+"&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return state
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Noted backend is running"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(headerRequestID))
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/notion/login?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeInto[LoginResponse](t, rec)
	assert.Contains(t, login.AuthURL, "owner=user")
	assert.Len(t, login.State, 43)

	state := f.login(t, "code-1")

	cred, err := f.creds.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-code-1", cred.AccessToken)

	rec = f.do(t, http.MethodGet, "/oauth/check-completion?state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"has_user":true,"user_id":"user-1"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/oauth/check-completion?state="+url.QueryEscape(state), nil)
	assert.JSONEq(t, `{"has_user":false,"user_id":null}`, rec.Body.String(), "completion is reported once")
}

func TestCallback_SuccessPage(t *testing.T) {
	f := newFixture(t)
	f.notion.AddGrant("code-1", notiontest.Grant{
		AccessToken: "tok", WorkspaceID: "ws-1", WorkspaceName: "<b>Ada</b>",
		User: notion.User{ID: "0123456789abcdef0123456789abcdef"},
	})
	login := decodeInto[LoginResponse](t, f.do(t, http.MethodGet, "/auth/notion/login?format=json", nil))

	rec := f.do(t, http.MethodGet, "/auth/notion/callback?code=code-1&state="+url.QueryEscape(login.State), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "Successfully Connected to Notion")
	assert.Contains(t, body, `>0123456789abcdef0123456789abcdef</div>`)
	assert.Contains(t, body, "01234567...89abcdef")
	assert.Contains(t, body, "&lt;b&gt;Ada&lt;/b&gt;")
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "'unsafe-inline'")
}

func TestCallback_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/notion/callback?error=access_denied", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")

	rec = f.do(t, http.MethodGet, "/auth/notion/callback?state=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing the authorization code")

	rec = f.do(t, http.MethodGet, "/auth/notion/callback?code=c&state=forged", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Connection Failed")
	assert.Zero(t, f.notion.Calls(notiontest.OperationTokenExchange), "forged state never reaches the token endpoint")
}

func TestSave(t *testing.T) {
	f := newFixture(t)
	f.login(t, "code-1")

	rec := f.do(t, http.MethodPost, "/notion/save", map[string]string{
		"user_id":  "user-1",
		"title":    "Match report",
		"summary":  "The home team won the final in extra time.",
		"url":      "https://example.com/match",
		"category": "sport",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeInto[SaveResponse](t, rec)
	assert.Equal(t, "Sports", resp.Category)

	page, _, _, ok := f.notion.Page(resp.PageID)
	require.True(t, ok)
	assert.Equal(t, "⚽ Match report", page.Title())
	assert.Equal(t, page.URL, resp.PageURL)
}

func TestSave_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.login(t, "code-1")

	valid := func() map[string]string {
		return map[string]string{"user_id": "user-1", "title": "T", "content": "Body text long enough.", "url": "https://example.com"}
	}

	t.Run("unknown user is 401", func(t *testing.T) {
		body := valid()
		body["user_id"] = "stranger"
		rec := f.do(t, http.MethodPost, "/notion/save", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		resp := decodeInto[ErrorResponse](t, rec)
		assert.Equal(t, auth.ReasonNoToken, resp.Reason)
	})

	t.Run("missing field is 400", func(t *testing.T) {
		body := valid()
		delete(body, "url")
		rec := f.do(t, http.MethodPost, "/notion/save", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeInto[ErrorResponse](t, rec).Detail, "url")
	})

	t.Run("bad url is 400", func(t *testing.T) {
		body := valid()
		body["url"] = "javascript:alert(1)"
		rec := f.do(t, http.MethodPost, "/notion/save", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/notion/save", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, codeValidation, decodeInto[ErrorResponse](t, rec).Error)
	})

	t.Run("upstream failure is 502", func(t *testing.T) {
		f.notion.FailNext(instrumentation.OperationCreatePage, http.StatusBadRequest)
		rec := f.do(t, http.MethodPost, "/notion/save", valid())
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, codeUpstream, decodeInto[ErrorResponse](t, rec).Error)
	})
}

func TestSummarizeRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/summarize", map[string]string{"content": "text", "openai_api_key": "sk"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"summary of text with sk"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/summarize-and-categorize", map[string]string{"content": "text", "title": "Cup", "openai_api_key": "sk"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"about Cup","category":"Sports"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/summarize", map[string]string{"content": "text"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeInto[ErrorResponse](t, rec).Detail, "openai_api_key")

	f.summarizer.err = &summarize.APIError{Status: http.StatusUnauthorized, Body: "bad key"}
	rec = f.do(t, http.MethodPost, "/summarize", map[string]string{"content": "text", "openai_api_key": "sk"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeInto[CategoriesResponse](t, rec)
	require.Len(t, resp.Categories, len(hierarchy.Categories()))
	assert.Equal(t, "Technology & AI", resp.Categories[0])
	assert.NotEmpty(t, resp.Descriptions["Sports"])
}

func TestUserStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/user/user-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"connected":false,"reason":"no_token","message":"No token found for user","action":"clear_extension_storage","workspace_id":null}`, rec.Body.String())

	f.login(t, "code-1")
	rec = f.do(t, http.MethodGet, "/user/user-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeInto[StatusResponse](t, rec)
	assert.True(t, status.Connected)
	assert.Equal(t, "valid_token", status.Reason)
	require.NotNil(t, status.WorkspaceID)
	assert.Equal(t, "ws-1", *status.WorkspaceID)
	assert.NotEmpty(t, status.WorkspaceName)

	f.notion.RevokeToken("tok-code-1")
	rec = f.do(t, http.MethodGet, "/user/user-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decodeInto[StatusResponse](t, rec)
	assert.False(t, status.Connected)
	assert.Equal(t, auth.ReasonInvalidToken, status.Reason)
	assert.Equal(t, actionClearClient, status.Action)
	_, err := f.creds.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	// A provider that keeps failing after retries also ends the connection.
	f.login(t, "code-2")
	f.notion.FailNext(instrumentation.OperationGetSelf, http.StatusBadGateway, http.StatusBadGateway)
	rec = f.do(t, http.MethodGet, "/user/user-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decodeInto[StatusResponse](t, rec)
	assert.False(t, status.Connected)
	assert.Equal(t, auth.ReasonInvalidToken, status.Reason)
	_, err = f.creds.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.login(t, "code-1")

	rec := f.do(t, http.MethodDelete, "/user/user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/user/user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.creds.Len())
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AllowedOrigins = []string{"https://app.example.com"} })

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/notion/save", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("chrome-extension://abcdef")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "chrome-extension://abcdef", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight("https://app.example.com")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/categories", nil).Code)
	}
	rec := f.do(t, http.MethodGet, "/categories", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code, "probes are not limited")
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	f.login(t, "code-1")

	rec := f.do(t, http.MethodGet, "/admin/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	admin := decodeInto[AdminHealthResponse](t, rec)
	assert.Equal(t, "healthy", admin.Status)
	assert.Equal(t, 1, admin.TotalUsers)
	_, err := time.Parse(time.RFC3339, admin.Timestamp)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil).Code)
	detailed := decodeInto[DetailedHealthResponse](t, f.do(t, http.MethodGet, "/healthz/detailed", nil))
	assert.Equal(t, "test", detailed.Version)

	require.NoError(t, f.server.Shutdown(context.Background()))
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNew_RequiresHTTPSForPublicBaseURL(t *testing.T) {
	tests := []struct {
		baseURL string
		wantErr bool
	}{
		{"https://noted.example.com", false},
		{"http://localhost:8000", false},
		{"http://127.0.0.1:8000", false},
		{"http://[::1]:8000", false},
		{"http://noted.example.com", true},
		{"ftp://noted.example.com", true},
		{"not a url", true},
	}
	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			err := validateHTTPSRequirement(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewServerContext_RequiresServices(t *testing.T) {
	_, err := NewServerContext(context.Background(), Services{})
	assert.ErrorContains(t, err, "broker is required")
}
