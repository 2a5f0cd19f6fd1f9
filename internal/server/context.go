package server

import (
	"context"
	"sync"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/service"
)

// ServerContext carries the application service and the shutdown state shared
// by the HTTP routes, the MCP tools and the background sync loop.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	svc      *service.Service
	version  string
	metrics  *instrumentation.Metrics
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context whose Context is cancelled on Shutdown.
func NewServerContext(ctx context.Context, svc *service.Service, version string) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:     shutdownCtx,
		cancel:  cancel,
		svc:     svc,
		version: version,
	}
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Service returns the application service.
func (sc *ServerContext) Service() *service.Service {
	return sc.svc
}

// Version returns the build version.
func (sc *ServerContext) Version() string {
	return sc.version
}

// SetMetrics sets the metrics used by tool instrumentation.
func (sc *ServerContext) SetMetrics(m *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = m
}

// Metrics returns the metrics, or nil when instrumentation is disabled.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context. It is safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
