// Package logging provides structured logging helpers for mailsync.
//
// All components log through log/slog using the attribute keys defined here,
// so provider, account and operation fields line up across the sync engine,
// the HTTP API and the MCP tools.
//
// # Usage Patterns
//
//	logger := logging.WithProvider(slog.Default(), "google")
//	logger = logging.WithAccount(logger, account.ID)
//	logger.Info("listing messages", logging.UserHash(account.Email))
//
// # Security Considerations
//
// Mailbox addresses are hashed before they reach a log line, and tokens are
// only ever logged through SanitizeToken.
package logging
