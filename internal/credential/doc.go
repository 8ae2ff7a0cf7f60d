// Package credential persists workspace OAuth credentials keyed by user id.
//
// A Store is an upsert-only key-value map: one Credential per user, replaced
// atomically on every Store call. Backends:
//
//   - MemoryStore, for tests and single-process development
//   - SQLStore, on SQLite (mattn/go-sqlite3) or PostgreSQL (pgx)
//
// Open picks the backend from a DSN. Access tokens can be encrypted at rest
// with AES-256-GCM by passing WithEncryptionKey.
package credential
