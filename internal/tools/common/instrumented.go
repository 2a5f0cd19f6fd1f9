package common

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/server"
)

// ToolHandler is the signature of an MCP tool handler.
type ToolHandler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// InstrumentedToolHandler wraps a tool handler with a span, metrics and a
// debug log line.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my_tool", sc, handler))
func InstrumentedToolHandler(toolName string, sc *server.ServerContext, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, request)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		switch {
		case err != nil:
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, errors.New("tool returned an error result"))
		default:
			instrumentation.SetSpanSuccess(span)
		}

		sc.Metrics().RecordToolInvocation(ctx, toolName, status, duration)
		slog.Debug("tool invoked",
			logging.Tool(toolName),
			logging.Status(status),
			slog.Duration(logging.KeyDuration, duration))

		return result, err
	}
}
