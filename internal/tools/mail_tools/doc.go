// Package mail_tools exposes account connection, mailbox sync and message
// queries as MCP tools.
//
// Tools that change a mailbox or an account (sending, disconnecting) are only
// registered when the server is not in read-only mode.
package mail_tools
