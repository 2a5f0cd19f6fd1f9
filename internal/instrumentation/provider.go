package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Resource attributes describing the mailsync deployment.
const (
	ResourceAttrDatabaseDriver = "mailsync.database.driver"
	ResourceAttrMailProviders  = "mailsync.mail_providers"
)

// Provider owns the meter and tracer providers of the process. A nil
// *Provider behaves like a disabled one.
type Provider struct {
	config         Config
	resource       *resource.Resource
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *Metrics
	enabled        bool
	logger         *slog.Logger
}

// Propagator is the W3C trace context and baggage propagator installed by
// NewProvider and used for outbound provider calls.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// NewProvider creates the providers and installs them globally. Prometheus
// metrics go to the default registry, which the metrics server exposes.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return &Provider{config: config, metrics: &Metrics{}}, nil
	}

	res, err := newResource(ctx, config)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		config:   config,
		resource: res,
		enabled:  true,
		logger:   slog.Default().With("component", "instrumentation"),
	}

	if err := p.initMeterProvider(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}
	if err := p.initTracerProvider(ctx); err != nil {
		if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown meter provider during cleanup: %w", shutdownErr))
		}
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	otel.SetMeterProvider(p.meterProvider)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(Propagator())

	p.metrics, err = NewMetrics(p.meterProvider.Meter(config.ServiceName), config.DetailedLabels)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}

	p.logger.Info("instrumentation enabled",
		"metrics_exporter", config.MetricsExporter,
		"tracing_exporter", config.TracingExporter,
		"mail_providers", config.MailProviders)
	return p, nil
}

// newResource describes the service: name, version, instance, database
// backend and the mail providers it talks to.
func newResource(ctx context.Context, config Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.ServiceInstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(config.ServiceInstanceID))
	} else if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.ServiceInstanceID(hostname))
	}
	if config.DatabaseDriver != "" {
		attrs = append(attrs, attribute.String(ResourceAttrDatabaseDriver, config.DatabaseDriver))
	}
	if len(config.MailProviders) > 0 {
		attrs = append(attrs, attribute.StringSlice(ResourceAttrMailProviders, config.MailProviders))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func (p *Provider) initMeterProvider(ctx context.Context) error {
	var reader metric.Reader

	switch p.config.MetricsExporter {
	case ExporterPrometheus, "":
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		reader = exporter

	case ExporterOTLP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter)

	case ExporterStdout:
		p.logger.Warn("stdout metrics exporter enabled, use for debugging only")
		exporter, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter)

	default:
		return fmt.Errorf("unsupported metrics exporter: %s", p.config.MetricsExporter)
	}

	p.meterProvider = metric.NewMeterProvider(
		metric.WithResource(p.resource),
		metric.WithReader(reader),
	)
	return nil
}

func (p *Provider) initTracerProvider(ctx context.Context) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch p.config.TracingExporter {
	case ExporterNone, "":
		// Spans still get valid ids so trace context reaches the providers.
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(p.resource),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		)
		return nil

	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.OTLPInsecure {
			p.logger.Warn("OTLP insecure transport enabled, spans carry account ids",
				"endpoint", p.config.OTLPEndpoint)
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}

	case ExporterStdout:
		p.logger.Warn("stdout trace exporter enabled, use for debugging only")
		exporter, err = stdouttrace.New()
		if err != nil {
			return fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

	default:
		return fmt.Errorf("unsupported tracing exporter: %s", p.config.TracingExporter)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(p.resource),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.TraceSamplingRate))),
	)
	return nil
}

// HTTPTransport wraps base (http.DefaultTransport when nil) so every
// outbound provider request gets a client span named after the provider
// host and carries the trace context header.
func (p *Provider) HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	opts := []otelhttp.Option{
		otelhttp.WithPropagators(Propagator()),
		otelhttp.WithSpanNameFormatter(outboundSpanName),
	}
	if p.Enabled() {
		opts = append(opts,
			otelhttp.WithTracerProvider(p.tracerProvider),
			otelhttp.WithMeterProvider(p.meterProvider))
	}
	return otelhttp.NewTransport(base, opts...)
}

func outboundSpanName(_ string, r *http.Request) string {
	return "provider " + r.Method + " " + r.URL.Host
}

// Resource returns the resource attached to all telemetry, or nil when
// instrumentation is disabled.
func (p *Provider) Resource() *resource.Resource {
	if p == nil {
		return nil
	}
	return p.resource
}

// Metrics returns the metrics recorder.
func (p *Provider) Metrics() *Metrics {
	if p == nil {
		return nil
	}
	return p.metrics
}

// Tracer returns a tracer for creating spans.
func (p *Provider) Tracer(name string) trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

// Shutdown flushes pending telemetry.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	var errs []error
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether instrumentation is active.
func (p *Provider) Enabled() bool {
	return p != nil && p.enabled
}
