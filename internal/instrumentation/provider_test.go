package instrumentation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func newTestProvider(t *testing.T, config Config) *Provider {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := NewProvider(ctx, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "disabled", config: Config{ServiceName: "mailsync"}},
		{name: "prometheus", config: Config{ServiceName: "mailsync", Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone}},
		{name: "stdout", config: Config{ServiceName: "mailsync", Enabled: true, MetricsExporter: ExporterStdout, TracingExporter: ExporterStdout, TraceSamplingRate: 1}},
		{name: "invalid metrics exporter", config: Config{Enabled: true, MetricsExporter: "invalid"}, wantErr: true},
		{name: "invalid tracing exporter", config: Config{Enabled: true, TracingExporter: "invalid"}, wantErr: true},
		{name: "otlp without endpoint", config: Config{Enabled: true, TracingExporter: ExporterOTLP}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { assert.NoError(t, p.Shutdown(context.Background())) }()

			assert.Equal(t, tt.config.Enabled, p.Enabled())
			assert.NotNil(t, p.Metrics())
			assert.NotNil(t, p.Tracer("test"))
		})
	}
}

func TestNewProvider_ResourceDescribesDeployment(t *testing.T) {
	p := newTestProvider(t, Config{
		ServiceName:       "mailsync",
		ServiceVersion:    "1.2.3",
		ServiceInstanceID: "node-a",
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterNone,
		DatabaseDriver:    "postgres",
		MailProviders:     []string{"google", "yahoo"},
	})

	set := p.Resource().Set()
	get := func(key string) attribute.Value {
		v, ok := set.Value(attribute.Key(key))
		require.True(t, ok, key)
		return v
	}
	assert.Equal(t, "mailsync", get("service.name").AsString())
	assert.Equal(t, "1.2.3", get("service.version").AsString())
	assert.Equal(t, "node-a", get("service.instance.id").AsString())
	assert.Equal(t, "postgres", get(ResourceAttrDatabaseDriver).AsString())
	assert.Equal(t, []string{"google", "yahoo"}, get(ResourceAttrMailProviders).AsStringSlice())
}

func TestHTTPTransport_PropagatesTraceContext(t *testing.T) {
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	p := newTestProvider(t, Config{
		ServiceName:     "mailsync",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})

	client := &http.Client{Transport: p.HTTPTransport(nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Regexp(t, `^00-[0-9a-f]{32}-[0-9a-f]{16}-0[01]$`, traceparent)
}

func TestProvider_NilIsDisabled(t *testing.T) {
	var p *Provider

	assert.False(t, p.Enabled())
	assert.Nil(t, p.Metrics())
	assert.Nil(t, p.Resource())
	assert.NotNil(t, p.Tracer("test"))
	assert.NotNil(t, p.HTTPTransport(nil))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestOutboundSpanName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://graph.microsoft.com/v1.0/me/sendMail", nil)
	assert.Equal(t, "provider POST graph.microsoft.com", outboundSpanName("", req))
}
