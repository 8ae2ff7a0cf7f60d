package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/instrumentation"
)

const (
	// DefaultBaseURL is the public OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	DefaultModel   = "gpt-3.5-turbo"
	DefaultTimeout = 60 * time.Second

	// MaxContentRunes bounds the article text sent upstream.
	MaxContentRunes = 4000

	maxTokens       = 1000
	temperature     = 0.3
	topP            = 0.9
	defaultMaxTries = 3
	maxErrorBody    = 4096
	maxResponseBody = 1 << 20
)

const systemPrompt = "You are a helpful assistant that creates clear, concise summaries of articles. Focus on the main points and key insights."

const summarizePrompt = `Please provide a concise summary of the following article.
Focus on the main points and key insights.
Keep the summary clear and well-structured.

Article content:
%s

Summary:`

const categorizePrompt = `Summarize the following article and pick the single category that fits it best.

Categories:
%s
Respond EXACTLY in this format:
CATEGORY: <one category name from the list>
SUMMARY: <concise, well-structured summary>

Title: %s

Article content:
%s`

// Result is a summary with its assigned category.
type Result struct {
	Summary  string `json:"summary"`
	Category string `json:"category"`
}

// Client calls the chat-completions endpoint. It is safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
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

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetry sets the attempt budget and backoff policy.
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

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:     slog.Default(),
		maxTries:   defaultMaxTries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize returns a concise summary of content.
func (c *Client) Summarize(ctx context.Context, apiKey, content string) (string, error) {
	if err := checkInput(apiKey, content); err != nil {
		return "", err
	}
	text, err := c.complete(ctx, apiKey, fmt.Sprintf(summarizePrompt, Truncate(content)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// SummarizeAndCategorize summarizes content and assigns a catalog
// category. Unrecognized categories fall back to the default.
func (c *Client) SummarizeAndCategorize(ctx context.Context, apiKey, title, content string) (Result, error) {
	if err := checkInput(apiKey, content); err != nil {
		return Result{}, err
	}

	var catalog strings.Builder
	for _, cat := range hierarchy.Categories() {
		fmt.Fprintf(&catalog, "- %s: %s\n", cat.Name, cat.Description)
	}

	prompt := fmt.Sprintf(categorizePrompt, catalog.String(), strings.TrimSpace(title), Truncate(content))
	text, err := c.complete(ctx, apiKey, prompt)
	if err != nil {
		return Result{}, err
	}
	return ParseCategorized(text), nil
}

// Truncate caps content at MaxContentRunes, marking the cut with "...".
func Truncate(content string) string {
	if utf8.RuneCountInString(content) <= MaxContentRunes {
		return content
	}
	return string([]rune(content)[:MaxContentRunes]) + "..."
}

// ParseCategorized reads a "CATEGORY: ..." / "SUMMARY: ..." reply. The
// summary runs to the end of the reply; without a SUMMARY line everything
// except the category line is the summary.
func ParseCategorized(text string) Result {
	var (
		category string
		summary  []string
		inBody   bool
		rest     []string
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBody && hasLabel(trimmed, "CATEGORY:"):
			category = strings.TrimSpace(trimmed[len("CATEGORY:"):])
		case !inBody && hasLabel(trimmed, "SUMMARY:"):
			inBody = true
			if s := strings.TrimSpace(trimmed[len("SUMMARY:"):]); s != "" {
				summary = append(summary, s)
			}
		case inBody:
			summary = append(summary, line)
		default:
			rest = append(rest, line)
		}
	}
	if !inBody {
		summary = rest
	}

	return Result{
		Summary:  strings.TrimSpace(strings.Join(summary, "\n")),
		Category: hierarchy.Normalize(strings.Trim(category, `"'*`)).Name,
	}
}

func hasLabel(line, label string) bool {
	return len(line) >= len(label) && strings.EqualFold(line[:len(label)], label)
}

func checkInput(apiKey, content string) error {
	if strings.TrimSpace(apiKey) == "" {
		return &ValidationError{Field: "openai_api_key", Message: "must not be empty"}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Message: "must not be empty"}
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, apiKey, prompt string) (string, error) {
	ctx, span := instrumentation.StartRemoteSpan(ctx, instrumentation.ServiceOpenAI, instrumentation.OperationChatCompletion)
	defer span.End()
	start := time.Now()

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	attempts := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		text, err := c.roundTrip(ctx, apiKey, body)
		var apiErr *APIError
		if err != nil && (!errors.As(err, &apiErr) || !apiErr.Retryable()) {
			return "", backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Debug("retrying chat completion", "attempt", attempts, "error", err)
		}
		return text, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))

	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		err = &APIError{Err: err}
	}

	span.SetAttributes(attribute.Int(instrumentation.SpanAttrAttempts, attempts))
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordRemoteOperation(ctx, instrumentation.ServiceOpenAI, instrumentation.OperationChatCompletion, status, time.Since(start))
	return text, err
}

func (c *Client) roundTrip(ctx context.Context, apiKey string, body chatRequest) (string, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return "", &APIError{Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", &APIError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return "", &APIError{Status: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &APIError{Status: resp.StatusCode, Err: errors.New("malformed response: no choices")}
	}
	return out.Choices[0].Message.Content, nil
}
