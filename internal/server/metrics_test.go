package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/instrumentation"
)

func TestNewMetricsServer(t *testing.T) {
	tests := []struct {
		name        string
		config      MetricsServerConfig
		wantAddr    string
		errContains string
	}{
		{
			name:     "valid config",
			config:   MetricsServerConfig{Addr: ":9090", InstrumentationProvider: createTestProvider(t)},
			wantAddr: ":9090",
		},
		{
			name:     "default addr",
			config:   MetricsServerConfig{InstrumentationProvider: createTestProvider(t)},
			wantAddr: DefaultMetricsAddr,
		},
		{
			name:        "nil provider",
			config:      MetricsServerConfig{Addr: ":9090"},
			errContains: "instrumentation provider is required",
		},
		{
			name:        "disabled provider",
			config:      MetricsServerConfig{Addr: ":9090", InstrumentationProvider: createDisabledProvider(t)},
			errContains: "instrumentation provider is not enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewMetricsServer(tt.config)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, server.Addr())
		})
	}
}

func TestMetricsServer_ExposesSyncMetrics(t *testing.T) {
	provider := createTestProvider(t)
	server, err := NewMetricsServer(MetricsServerConfig{InstrumentationProvider: provider})
	require.NoError(t, err)

	provider.Metrics().RecordSyncRun(context.Background(), "google", "acc-1", instrumentation.StatusSuccess, time.Second)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sync_runs_total")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    "127.0.0.1:0",
		InstrumentationProvider: createTestProvider(t),
	})
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-serverErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestMetricsServer_ShutdownWithoutStart(t *testing.T) {
	server, err := NewMetricsServer(MetricsServerConfig{InstrumentationProvider: createTestProvider(t)})
	require.NoError(t, err)
	assert.NoError(t, server.Shutdown(context.Background()))
}

func createTestProvider(t *testing.T) *instrumentation.Provider {
	t.Helper()
	ctx := context.Background()
	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	return provider
}

func createDisabledProvider(t *testing.T) *instrumentation.Provider {
	t.Helper()
	provider, err := instrumentation.NewProvider(context.Background(), instrumentation.Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	})
	require.NoError(t, err)
	return provider
}
