// Package resources exposes read-only mail data as MCP resources: the
// configured providers, and per user the connected accounts and the sync
// status of the store.
package resources
