// Package instrumentation provides OpenTelemetry metrics and tracing for noted.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, route, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - http_rate_limited_total: Counter of requests rejected by the rate limiter
//
// Remote API Metrics:
//   - remote_api_operations_total: Counter of workspace and text-generation API calls
//   - remote_api_operation_duration_seconds: Histogram of those calls
//   - circuit_breaker_transitions_total: Counter of breaker state changes
//
// Domain Metrics:
//   - oauth_auth_total: OAuth login results
//   - publish_total / publish_duration_seconds: note publishing by status and category
//   - hierarchy_nodes_created_total: Dashboard and Category nodes created
//   - credential_store_operations_total: credential store calls by backend and operation
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total / mcp_tool_duration_seconds
//
// # Tracing
//
// Spans are created for HTTP handling (otelhttp), MCP tools (tool.<name>),
// remote API calls (remote.<service>.<operation>), hierarchy resolution and
// publishing.
//
// # Configuration
//
// Config is filled by the caller, normally from the telemetry section of
// the application config. Exporters are prometheus, otlp or stdout for
// metrics and otlp, stdout or none for traces.
//
// All Metrics methods are safe on a nil receiver, so components can hold an
// optional *Metrics without guarding every call.
package instrumentation
