// Package server exposes noted over HTTP: the login flow, note saving,
// summarization, user status and the health and metrics endpoints.
//
// # Key Components
//
// ServerContext holds the long-lived services shared by the HTTP handlers
// and the MCP tools: the authorization broker, the publish coordinator, the
// summarizer and the credential store.
//
// Server wires the routes behind a middleware chain:
//   - request ids (X-Request-ID) and access logging
//   - CORS for the capture extension
//   - security headers
//   - per-IP rate limiting
//   - HTTP metrics and OpenTelemetry tracing
//
// HealthChecker serves the Kubernetes probes and MetricsServer exposes
// Prometheus metrics on a dedicated port.
//
// # Security
//
// A public base URL must use HTTPS; plain HTTP is only accepted for
// loopback hosts. Tokens never leave the server: responses carry the
// user id and workspace id only.
package server
