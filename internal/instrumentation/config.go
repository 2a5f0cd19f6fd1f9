package instrumentation

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the name of the service (default: mailsync)
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// ServiceInstanceID is the unique instance identifier (default: hostname)
	ServiceInstanceID string

	// DatabaseDriver is recorded as a resource attribute.
	DatabaseDriver string

	// MailProviders lists the configured mail providers, recorded as a
	// resource attribute.
	MailProviders []string

	// Enabled determines if instrumentation is active (default: true)
	Enabled bool

	// MetricsExporter is one of "prometheus", "otlp", "stdout" (default: "prometheus")
	MetricsExporter string

	// TracingExporter is one of "otlp", "stdout", "none" (default: "none")
	TracingExporter string

	// OTLPEndpoint is the OTLP collector endpoint without protocol prefix,
	// e.g. "localhost:4318".
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP export. Development only.
	OTLPInsecure bool

	// TraceSamplingRate is the sampling rate for traces (0.0 to 1.0, default: 0.1)
	TraceSamplingRate float64

	// DetailedLabels adds the account_id label to sync metrics.
	// Keep it off for large installations.
	DetailedLabels bool
}

// DefaultConfig returns a Config with defaults taken from environment variables.
func DefaultConfig() Config {
	return Config{
		ServiceName:       getEnvOrDefault("OTEL_SERVICE_NAME", "mailsync"),
		ServiceVersion:    "unknown",
		ServiceInstanceID: getEnvOrDefault("OTEL_SERVICE_INSTANCE_ID", ""),
		Enabled:           getEnvBoolOrDefault("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   getEnvOrDefault("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   getEnvOrDefault("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: getEnvFloatOrDefault("OTEL_TRACES_SAMPLER_ARG", 0.1),
		DetailedLabels:    getEnvBoolOrDefault("METRICS_DETAILED_LABELS", false),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	validMetricsExporters := map[string]bool{ExporterPrometheus: true, ExporterOTLP: true, ExporterStdout: true}
	if c.MetricsExporter != "" && !validMetricsExporters[c.MetricsExporter] {
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}

	validTracingExporters := map[string]bool{ExporterOTLP: true, ExporterStdout: true, ExporterNone: true}
	if c.TracingExporter != "" && !validTracingExporters[c.TracingExporter] {
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" && (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) {
		return fmt.Errorf("OTLP endpoint is required when using an OTLP exporter")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// Constants for metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	// OAuth state validation results
	StateResultValid    = "valid"
	StateResultInvalid  = "invalid"
	StateResultExpired  = "expired"
	StateResultConsumed = "consumed"

	// Token refresh results
	RefreshResultSuccess = "success"
	RefreshResultReAuth  = "reauth_required"
	RefreshResultFailure = "failure"

	// Message outcomes
	MessageCreated = "created"
	MessageSkipped = "skipped"
	MessageFailed  = "failed"

	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"

	DefaultMetricInterval = 10 * time.Second
)
