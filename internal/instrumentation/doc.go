// Package instrumentation provides OpenTelemetry metrics and tracing for mailsync.
//
// # Metrics
//
// HTTP:
//   - http_requests_total, http_request_duration_seconds
//
// Provider calls:
//   - provider_api_operations_total, provider_api_operation_duration_seconds
//   - provider_api_retries_total
//
// OAuth:
//   - oauth_state_validations_total: state validations by provider and result
//   - oauth_token_refresh_total: refresh attempts by provider and result
//
// Sync:
//   - sync_runs_total, sync_duration_seconds: per-account sync runs
//   - sync_messages_total: messages by outcome (created, skipped, failed)
//
// MCP tools:
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// # Tracing
//
// Spans are created for provider calls (<provider>.<operation>), account
// syncs (sync.account) and MCP tool invocations (tool.<name>).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: mailsync)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordSyncRun(ctx, "google", account.ID, "success", time.Since(start))
package instrumentation
