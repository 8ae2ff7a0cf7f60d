// Package notion is a typed client for the Notion REST API.
//
// Only the endpoints the publishing pipeline needs are covered: search,
// block children, page read and create, and users/me. Every call is bounded
// by a timeout, runs through a circuit breaker and is traced. Reads are
// retried with exponential backoff; page creation is never retried because
// it is not idempotent.
package notion
