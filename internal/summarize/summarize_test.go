package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/noted/internal/hierarchy"
)

type fakeCompletions struct {
	*httptest.Server
	calls    atomic.Int32
	statuses []int
	reply    string

	mu       sync.Mutex
	last     chatRequest
	lastAuth string
}

func (f *fakeCompletions) lastRequest() (chatRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.lastAuth
}

func newFakeCompletions(t *testing.T, reply string, statuses ...int) *fakeCompletions {
	t.Helper()
	f := &fakeCompletions{reply: reply, statuses: statuses}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(f.calls.Add(1))
		if r.URL.Path != "/chat/completions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if n <= len(f.statuses) {
			w.WriteHeader(f.statuses[n-1])
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.last, f.lastAuth = req, r.Header.Get("Authorization")
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": f.reply}}},
		})
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestClient(f *fakeCompletions) *Client {
	return NewClient(
		WithBaseURL(f.URL),
		WithRetry(3, func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)
}

func TestSummarize(t *testing.T) {
	f := newFakeCompletions(t, "  A short summary.\n")
	c := newTestClient(f)

	got, err := c.Summarize(context.Background(), "sk-test", "Some long article text.")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", got)

	last, auth := f.lastRequest()
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, DefaultModel, last.Model)
	assert.Equal(t, 1000, last.MaxTokens)
	assert.InDelta(t, 0.3, last.Temperature, 1e-9)
	assert.InDelta(t, 0.9, last.TopP, 1e-9)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, "system", last.Messages[0].Role)
	assert.Contains(t, last.Messages[1].Content, "Some long article text.")
}

func TestSummarize_TruncatesContent(t *testing.T) {
	f := newFakeCompletions(t, "ok")
	c := newTestClient(f)

	_, err := c.Summarize(context.Background(), "sk-test", strings.Repeat("é", MaxContentRunes+500))
	require.NoError(t, err)
	last, _ := f.lastRequest()
	prompt := last.Messages[1].Content
	assert.Contains(t, prompt, strings.Repeat("é", MaxContentRunes)+"...")
	assert.NotContains(t, prompt, strings.Repeat("é", MaxContentRunes+1))
}

func TestSummarize_RequiresKeyAndContent(t *testing.T) {
	f := newFakeCompletions(t, "ok")
	c := newTestClient(f)

	_, err := c.Summarize(context.Background(), " ", "text")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "openai_api_key", verr.Field)

	_, err = c.SummarizeAndCategorize(context.Background(), "sk", "title", "")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)

	assert.Zero(t, f.calls.Load())
}

func TestSummarize_RetriesTransientFailures(t *testing.T) {
	f := newFakeCompletions(t, "recovered", http.StatusTooManyRequests, http.StatusBadGateway)
	c := newTestClient(f)

	got, err := c.Summarize(context.Background(), "sk", "text")
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestSummarize_ClientErrorIsTerminal(t *testing.T) {
	f := newFakeCompletions(t, "never", http.StatusUnauthorized)
	c := newTestClient(f)

	_, err := c.Summarize(context.Background(), "sk-bad", "text")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "nope")
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestSummarizeAndCategorize(t *testing.T) {
	f := newFakeCompletions(t, "CATEGORY: Technology & AI\nSUMMARY: Chips got faster.\nAnd cheaper.")
	c := newTestClient(f)

	res, err := c.SummarizeAndCategorize(context.Background(), "sk", "Chips", "article body")
	require.NoError(t, err)
	assert.Equal(t, Result{Summary: "Chips got faster.\nAnd cheaper.", Category: "Technology & AI"}, res)

	last, _ := f.lastRequest()
	prompt := last.Messages[1].Content
	assert.Contains(t, prompt, "Title: Chips")
	assert.Contains(t, prompt, "- Sports:")
}

func TestParseCategorized(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Result
	}{
		{
			name: "alias and lowercase labels",
			in:   "category: tech\nsummary: Short.",
			want: Result{Summary: "Short.", Category: "Technology & AI"},
		},
		{
			name: "unknown category",
			in:   "CATEGORY: Gardening\nSUMMARY: Plants.",
			want: Result{Summary: "Plants.", Category: hierarchy.DefaultCategory},
		},
		{
			name: "no summary label",
			in:   "CATEGORY: Sports\nThe match was close.",
			want: Result{Summary: "The match was close.", Category: "Sports"},
		},
		{
			name: "no labels at all",
			in:   "Just a summary.",
			want: Result{Summary: "Just a summary.", Category: hierarchy.DefaultCategory},
		},
		{
			name: "decorated category",
			in:   "CATEGORY: **Sports**\nSUMMARY: Goal.",
			want: Result{Summary: "Goal.", Category: "Sports"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCategorized(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))
	long := strings.Repeat("a", MaxContentRunes+1)
	assert.Equal(t, strings.Repeat("a", MaxContentRunes)+"...", Truncate(long))
}
