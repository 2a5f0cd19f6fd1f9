// Package cmd implements the command-line interface for mailsync.
//
// This package provides the following commands:
//   - serve: Run the HTTP API (or an MCP server on stdio) with optional periodic sync
//   - sync: Sync one account, one user or every user once
//   - accounts: List, connect and disconnect mailboxes
//   - cleanup: Delete expired OAuth states
//   - migrate: Apply database migrations
//   - secret: Manage client secrets and the encryption key in the OS keyring
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// Settings are read from mailsync.yaml, MAILSYNC_* environment variables and
// flags, in increasing order of precedence.
package cmd
