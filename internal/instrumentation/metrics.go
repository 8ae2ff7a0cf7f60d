package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrRoute     = "route"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrTool      = "tool"
	attrWorkspace = "workspace"
	attrCategory  = "category"
	attrKind      = "kind"
	attrBackend   = "backend"
	attrBreaker   = "breaker"
	attrFrom      = "from"
	attrTo        = "to"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	rateLimitedTotal    metric.Int64Counter

	// Remote API metrics
	remoteOperationsTotal   metric.Int64Counter
	remoteOperationDuration metric.Float64Histogram
	breakerTransitionsTotal metric.Int64Counter

	// Domain metrics
	oauthAuthTotal        metric.Int64Counter
	publishTotal          metric.Int64Counter
	publishDuration       metric.Float64Histogram
	nodesCreatedTotal     metric.Int64Counter
	credentialOpsTotal    metric.Int64Counter
	credentialOpsDuration metric.Float64Histogram

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.rateLimitedTotal, err = meter.Int64Counter(
		"http_rate_limited_total",
		metric.WithDescription("Total number of HTTP requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_rate_limited_total counter: %w", err)
	}

	m.remoteOperationsTotal, err = meter.Int64Counter(
		"remote_api_operations_total",
		metric.WithDescription("Total number of remote API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote_api_operations_total counter: %w", err)
	}

	m.remoteOperationDuration, err = meter.Float64Histogram(
		"remote_api_operation_duration_seconds",
		metric.WithDescription("Remote API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote_api_operation_duration_seconds histogram: %w", err)
	}

	m.breakerTransitionsTotal, err = meter.Int64Counter(
		"circuit_breaker_transitions_total",
		metric.WithDescription("Total number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit_breaker_transitions_total counter: %w", err)
	}

	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of OAuth login attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.publishTotal, err = meter.Int64Counter(
		"publish_total",
		metric.WithDescription("Total number of notes published to a workspace"),
		metric.WithUnit("{note}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish_total counter: %w", err)
	}

	m.publishDuration, err = meter.Float64Histogram(
		"publish_duration_seconds",
		metric.WithDescription("End-to-end publish duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish_duration_seconds histogram: %w", err)
	}

	m.nodesCreatedTotal, err = meter.Int64Counter(
		"hierarchy_nodes_created_total",
		metric.WithDescription("Total number of hierarchy nodes created in remote workspaces"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hierarchy_nodes_created_total counter: %w", err)
	}

	m.credentialOpsTotal, err = meter.Int64Counter(
		"credential_store_operations_total",
		metric.WithDescription("Total number of credential store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential_store_operations_total counter: %w", err)
	}

	m.credentialOpsDuration, err = meter.Float64Histogram(
		"credential_store_operation_duration_seconds",
		metric.WithDescription("Credential store operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential_store_operation_duration_seconds histogram: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route pattern, status code, and duration.
// Use the mux pattern rather than the raw path to keep user ids out of labels.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrRoute, route),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, route string) {
	if m == nil || m.rateLimitedTotal == nil {
		return
	}
	m.rateLimitedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrRoute, route)))
}

// RecordRemoteOperation records a call to a remote API.
//
// Parameters:
//   - service: ServiceNotion or ServiceOpenAI
//   - operation: one of the Operation* constants
//   - status: StatusClass of the response, or StatusError for transport failures
//   - duration: time taken including retries
func (m *Metrics) RecordRemoteOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.remoteOperationsTotal == nil || m.remoteOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.remoteOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.remoteOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	if m == nil || m.breakerTransitionsTotal == nil {
		return
	}
	m.breakerTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrBreaker, name),
		attribute.String(attrFrom, from),
		attribute.String(attrTo, to),
	))
}

// RecordOAuthAuth records an OAuth login attempt with result.
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}
	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordPublish records a publish attempt. Category is the canonical
// category name, which is a closed set.
func (m *Metrics) RecordPublish(ctx context.Context, category, status string, duration time.Duration) {
	if m == nil || m.publishTotal == nil || m.publishDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrCategory, category),
		attribute.String(attrStatus, status),
	}

	m.publishTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.publishDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordNodeCreated records the creation of a Dashboard or Category node.
func (m *Metrics) RecordNodeCreated(ctx context.Context, kind string) {
	if m == nil || m.nodesCreatedTotal == nil {
		return
	}
	m.nodesCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// RecordCredentialOperation records a credential store call.
func (m *Metrics) RecordCredentialOperation(ctx context.Context, backend, operation, status string, duration time.Duration) {
	if m == nil || m.credentialOpsTotal == nil || m.credentialOpsDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrBackend, backend),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.credentialOpsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.credentialOpsDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithWorkspace(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithWorkspace is RecordToolInvocation plus the
// workspace id, which is only attached when detailed labels are enabled.
func (m *Metrics) RecordToolInvocationWithWorkspace(ctx context.Context, toolName, status, workspace string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	if m.detailedLabels && workspace != "" {
		attrs = append(attrs, attribute.String(attrWorkspace, workspace))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
