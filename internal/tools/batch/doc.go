// Package batch helps tools that act on several accounts or recipients in one
// call: it parses list arguments and reports per-item outcomes.
package batch
