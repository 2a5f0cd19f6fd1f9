package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrProvider  = "provider"
	attrResult    = "result"
	attrTool      = "tool"
	attrAccount   = "account_id"
	attrOutcome   = "outcome"
)

// Metrics records the service's observability metrics.
// A nil *Metrics or one built from a disabled Provider is a no-op.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram
	providerRetriesTotal      metric.Int64Counter

	oauthStateTotal   metric.Int64Counter
	tokenRefreshTotal metric.Int64Counter

	syncRunsTotal     metric.Int64Counter
	syncDuration      metric.Float64Histogram
	syncMessagesTotal metric.Int64Counter

	toolInvocations metric.Int64Counter
	toolDuration    metric.Float64Histogram

	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.providerOperationsTotal, err = meter.Int64Counter(
		"provider_api_operations_total",
		metric.WithDescription("Total number of mailbox provider API calls"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_api_operations_total counter: %w", err)
	}

	m.providerOperationDuration, err = meter.Float64Histogram(
		"provider_api_operation_duration_seconds",
		metric.WithDescription("Mailbox provider API call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_api_operation_duration_seconds histogram: %w", err)
	}

	m.providerRetriesTotal, err = meter.Int64Counter(
		"provider_api_retries_total",
		metric.WithDescription("Total number of retried provider API calls"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_api_retries_total counter: %w", err)
	}

	m.oauthStateTotal, err = meter.Int64Counter(
		"oauth_state_validations_total",
		metric.WithDescription("Total number of OAuth state validations by result"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_state_validations_total counter: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.syncRunsTotal, err = meter.Int64Counter(
		"sync_runs_total",
		metric.WithDescription("Total number of account sync runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_runs_total counter: %w", err)
	}

	m.syncDuration, err = meter.Float64Histogram(
		"sync_duration_seconds",
		metric.WithDescription("Account sync duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_duration_seconds histogram: %w", err)
	}

	m.syncMessagesTotal, err = meter.Int64Counter(
		"sync_messages_total",
		metric.WithDescription("Total number of messages processed by sync, by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_messages_total counter: %w", err)
	}

	m.toolInvocations, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProviderOperation records one provider API call.
//
// Parameters:
//   - provider: provider tag (google, outlook, yahoo)
//   - operation: list, send, identity, exchange, refresh
//   - status: "success" or "error"
func (m *Metrics) RecordProviderOperation(ctx context.Context, provider, operation, status string, duration time.Duration) {
	if m == nil || m.providerOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.providerOperationsTotal.Add(ctx, 1, attrs)
	m.providerOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProviderRetry records a retried provider call.
func (m *Metrics) RecordProviderRetry(ctx context.Context, provider, operation string) {
	if m == nil || m.providerRetriesTotal == nil {
		return
	}

	m.providerRetriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
	))
}

// RecordOAuthState records the result of an OAuth state validation.
func (m *Metrics) RecordOAuthState(ctx context.Context, provider, result string) {
	if m == nil || m.oauthStateTotal == nil {
		return
	}

	m.oauthStateTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrResult, result),
	))
}

// RecordTokenRefresh records a token refresh attempt.
// Result should be one of the RefreshResult constants.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider, result string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}

	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrResult, result),
	))
}

// RecordSyncRun records the completion of one account sync.
// accountID is only attached when detailed labels are enabled.
func (m *Metrics) RecordSyncRun(ctx context.Context, provider, accountID, status string, duration time.Duration) {
	if m == nil || m.syncRunsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, provider),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && accountID != "" {
		attrs = append(attrs, attribute.String(attrAccount, accountID))
	}

	m.syncRunsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSyncMessages adds n messages with the given outcome.
func (m *Metrics) RecordSyncMessages(ctx context.Context, provider, outcome string, n int) {
	if m == nil || m.syncMessagesTotal == nil || n <= 0 {
		return
	}

	m.syncMessagesTotal.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocations == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	)
	m.toolInvocations.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}
