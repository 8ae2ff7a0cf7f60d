// Package logging provides structured logging helpers for noted.
//
// All components log through log/slog. This package keeps attribute names
// consistent across the codebase and owns the sanitizers that keep
// credentials and raw user identifiers out of log output.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(slog.Default(), "publish")
//	logger.Info("note saved",
//	    logging.UserHash(userID),
//	    logging.Category("Science"))
//
// # Security Considerations
//
//   - Workspace user ids are hashed with UserHash before they are logged
//   - Access tokens are reduced to a length indicator by SanitizeToken
//   - OAuth state values are hashed with StateHash
package logging
