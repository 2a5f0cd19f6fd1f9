// Package common provides helpers shared by the MCP tool packages:
// argument parsing, result encoding and invocation instrumentation.
package common
