package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/teemow/noted/internal/instrumentation"
)

const (
	// DefaultBaseURL is the public Notion API root.
	DefaultBaseURL = "https://api.notion.com/v1"

	// APIVersion is sent as the Notion-Version header.
	APIVersion = "2022-06-28"

	// DefaultTimeout bounds every HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// MaxBlocksPerRequest is the API limit on children per create or append.
	MaxBlocksPerRequest = 100

	defaultMaxTries  = 3
	searchPageSize   = 100
	childrenPageSize = 100
	maxErrorBody     = 4096
	maxResponseBody  = 8 << 20
)

// Client talks to the Notion API on behalf of whichever token is passed
// to each call. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	maxTries   uint
	newBackOff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client. The bearer token is
// layered on top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetry sets the attempt budget and backoff policy for read calls.
func WithRetry(maxTries uint, newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		if maxTries > 0 {
			c.maxTries = maxTries
		}
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

// NewClient returns a Client with a 30s timeout, an OpenTelemetry
// transport and a circuit breaker that opens when at least 60% of at least
// five requests fail, probing again after 30s.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:   slog.Default(),
		maxTries: defaultMaxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        instrumentation.ServiceNotion,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			c.metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
	})
	return c
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Search returns pages whose title matches query.
func (c *Client) Search(ctx context.Context, token, query string) ([]Page, error) {
	body := searchRequest{
		Query:    query,
		Filter:   &searchFilter{Property: "object", Value: "page"},
		PageSize: searchPageSize,
	}
	var out pageList
	err := c.call(ctx, token, instrumentation.OperationSearch, http.MethodPost, "/search", body, &out, true)
	if err != nil {
		return nil, err
	}
	for _, p := range out.Results {
		if p.ID == "" {
			return nil, malformed(instrumentation.OperationSearch, "search result without id")
		}
	}
	return out.Results, nil
}

// ListChildren returns every direct child block of blockID, following
// pagination cursors.
func (c *Client) ListChildren(ctx context.Context, token, blockID string) ([]Block, error) {
	if blockID == "" {
		return nil, &RemoteServiceError{Op: instrumentation.OperationListChildren, Err: errors.New("empty block id")}
	}

	var all []Block
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", fmt.Sprint(childrenPageSize))
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		path := "/blocks/" + url.PathEscape(blockID) + "/children?" + q.Encode()

		var out blockList
		if err := c.call(ctx, token, instrumentation.OperationListChildren, http.MethodGet, path, nil, &out, true); err != nil {
			return nil, err
		}
		all = append(all, out.Results...)

		if !out.HasMore || out.NextCursor == nil || *out.NextCursor == "" {
			return all, nil
		}
		cursor = *out.NextCursor
	}
}

// GetPage retrieves one page.
func (c *Client) GetPage(ctx context.Context, token, pageID string) (*Page, error) {
	var out Page
	err := c.call(ctx, token, instrumentation.OperationGetPage, http.MethodGet, "/pages/"+url.PathEscape(pageID), nil, &out, true)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, malformed(instrumentation.OperationGetPage, "page without id")
	}
	return &out, nil
}

// CreatePage creates a page. It is attempted exactly once.
func (c *Client) CreatePage(ctx context.Context, token string, req CreatePageRequest) (*Page, error) {
	var out Page
	err := c.call(ctx, token, instrumentation.OperationCreatePage, http.MethodPost, "/pages", req, &out, false)
	if err != nil {
		return nil, err
	}
	if out.ID == "" || out.URL == "" {
		return nil, malformed(instrumentation.OperationCreatePage, "created page without id or url")
	}
	return &out, nil
}

// AppendChildren appends blocks to blockID in batches of
// MaxBlocksPerRequest. Like CreatePage it is never retried.
func (c *Client) AppendChildren(ctx context.Context, token, blockID string, blocks []Block) error {
	for len(blocks) > 0 {
		n := min(len(blocks), MaxBlocksPerRequest)
		body := struct {
			Children []Block `json:"children"`
		}{Children: blocks[:n]}

		path := "/blocks/" + url.PathEscape(blockID) + "/children"
		if err := c.call(ctx, token, instrumentation.OperationAppendChildren, http.MethodPatch, path, body, nil, false); err != nil {
			return err
		}
		blocks = blocks[n:]
	}
	return nil
}

// Me returns the user behind token.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var out User
	if err := c.call(ctx, token, instrumentation.OperationGetSelf, http.MethodGet, "/users/me", nil, &out, true); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, malformed(instrumentation.OperationGetSelf, "user without id")
	}
	return &out, nil
}

func malformed(op, msg string) error {
	return &RemoteServiceError{Op: op, Status: http.StatusOK, Err: errors.New("malformed response: " + msg)}
}

// call runs one logical API operation: a span, metrics, the breaker and,
// for reads, bounded retries.
func (c *Client) call(ctx context.Context, token, op, method, path string, body, out any, retry bool) error {
	ctx, span := instrumentation.StartRemoteSpan(ctx, instrumentation.ServiceNotion, op)
	defer span.End()
	start := time.Now()

	attempts := 0
	attempt := func() (struct{}, error) {
		attempts++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, token, op, method, path, body, out)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &RemoteServiceError{Op: op, Status: http.StatusServiceUnavailable, Err: ErrCircuitOpen}
		}
		if err != nil && retry {
			var rse *RemoteServiceError
			if !errors.As(err, &rse) || !rse.Retryable() || errors.Is(err, ErrCircuitOpen) {
				return struct{}{}, backoff.Permanent(err)
			}
			c.logger.Debug("retrying notion call", "operation", op, "attempt", attempts, "error", err)
		}
		return struct{}{}, err
	}

	var err error
	if retry {
		_, err = backoff.Retry(ctx, attempt,
			backoff.WithBackOff(c.newBackOff()),
			backoff.WithMaxTries(c.maxTries),
		)
	} else {
		_, err = attempt()
	}

	var rse *RemoteServiceError
	if err != nil && !errors.As(err, &rse) {
		err = &RemoteServiceError{Op: op, Err: err}
	}

	span.SetAttributes(attribute.Int(instrumentation.SpanAttrAttempts, attempts))
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		if errors.As(err, &rse) && rse.Status != 0 {
			span.SetAttributes(attribute.Int(instrumentation.SpanAttrStatus, rse.Status))
		}
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordRemoteOperation(ctx, instrumentation.ServiceNotion, op, status, time.Since(start))
	return err
}

func (c *Client) roundTrip(ctx context.Context, token, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &RemoteServiceError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RemoteServiceError{Op: op, Err: err}
	}
	req.Header.Set("Notion-Version", APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.authorized(ctx, token).Do(req)
	if err != nil {
		return &RemoteServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteServiceError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return &RemoteServiceError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// authorized wraps the base client with a static bearer token source.
func (c *Client) authorized(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	hc.Timeout = c.httpClient.Timeout
	return hc
}
