package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer name used for all mailsync spans.
const TracerName = "github.com/teemow/mailsync"

// Span attribute keys.
const (
	SpanAttrProvider  = "mail.provider"
	SpanAttrOperation = "mail.operation"
	SpanAttrAccountID = "mail.account_id"
	SpanAttrUserID    = "mail.user_id"
	SpanAttrTool      = "mcp.tool"
	SpanAttrMessages  = "mail.messages"
)

// StartSpan starts a new span with the given name and attributes.
// The caller must end the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartProviderSpan starts a client span for a provider API call,
// named "<provider>.<operation>".
func StartProviderSpan(ctx context.Context, provider, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrProvider, provider),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, provider+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartSyncSpan starts an internal span covering the sync of one account.
func StartSyncSpan(ctx context.Context, provider, accountID string) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "sync.account",
		trace.WithAttributes(
			attribute.String(SpanAttrProvider, provider),
			attribute.String(SpanAttrAccountID, accountID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "tool."+toolName,
		trace.WithAttributes(attribute.String(SpanAttrTool, toolName)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
