package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/publish"
	"github.com/teemow/noted/internal/server"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, publish.Request) (*publish.Result, error) {
	return &publish.Result{}, nil
}

func newServerContext(t *testing.T, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger) *server.ServerContext {
	t.Helper()
	creds := credential.NewMemoryStore()
	states := auth.NewMemoryStateStore(0, nil)
	t.Cleanup(func() { _ = states.Close() })

	sc, err := server.NewServerContext(context.Background(), server.Services{
		Broker:      auth.NewBroker(auth.Config{ClientID: "id"}, states, creds, nil),
		Publisher:   nopPublisher{},
		Credentials: creds,
		Metrics:     metrics,
		Audit:       audit,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestInstrumentedToolHandler_NoInstrumentation(t *testing.T) {
	sc := newServerContext(t, nil, nil)

	called := false
	wrapped := InstrumentedToolHandler("test_tool", sc, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		return mcp.NewToolResultText("ok"), nil
	})

	result, err := wrapped(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, called)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
}

func TestInstrumentedToolHandler_AuditsOutcome(t *testing.T) {
	metrics, err := instrumentation.NewMetrics(noop.NewMeterProvider().Meter("test"), false)
	require.NoError(t, err)

	tests := []struct {
		name    string
		result  *mcp.CallToolResult
		err     error
		wantMsg string
	}{
		{name: "success", result: mcp.NewToolResultText("ok"), wantMsg: "tool_executed"},
		{name: "tool error result", result: mcp.NewToolResultError("bad input"), wantMsg: "tool_failed"},
		{name: "handler error", err: errors.New("boom"), wantMsg: "tool_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			audit := instrumentation.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
			sc := newServerContext(t, metrics, audit)

			wrapped := InstrumentedToolHandler("notion_save_note", sc, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return tt.result, tt.err
			})

			result, err := wrapped(context.Background(), callRequest(map[string]any{
				"user_id":  "user-123",
				"category": "Sports",
			}))
			assert.Equal(t, tt.err, err)
			assert.Equal(t, tt.result, result)

			out := buf.String()
			assert.Contains(t, out, tt.wantMsg)
			assert.Contains(t, out, `"tool":"notion_save_note"`)
			assert.Contains(t, out, "Sports")
			assert.NotContains(t, out, "user-123", "user id must be hashed without IncludePII")
		})
	}
}
