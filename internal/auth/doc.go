// Package auth runs the workspace OAuth authorization-code flow.
//
// A login moves through UNAUTHENTICATED → PENDING → EXCHANGED → VALIDATED.
// BeginLogin issues a random single-use state and the provider URL;
// CompleteLogin consumes that state before redeeming the code, fetches the
// identity behind the new token and stores the credential. Validate re-checks
// a stored token and deletes it when the provider rejects it (REVOKED).
//
// Pending logins live in a StateStore: in memory for a single replica, or in
// Redis when several replicas share a callback URL.
package auth
