// Package model holds the provider-agnostic data shapes shared by the
// OAuth, token, and sync components: accounts, OAuth states, token pairs,
// provider and canonical messages, sync results, and the error taxonomy.
package model
