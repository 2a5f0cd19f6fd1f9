package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
)

const (
	// DefaultHTTPAddr is the default address of the API server.
	DefaultHTTPAddr = ":8080"

	// DefaultHTTPReadHeaderTimeout bounds reading request headers.
	DefaultHTTPReadHeaderTimeout = 10 * time.Second

	// DefaultHTTPIdleTimeout is the keep-alive idle timeout.
	DefaultHTTPIdleTimeout = 120 * time.Second
)

// HTTPServerConfig holds configuration for the API server.
type HTTPServerConfig struct {
	Addr          string
	ServerContext *ServerContext
	Metrics       *instrumentation.Metrics
	Logger        *slog.Logger
}

// HTTPServer serves the mail API and the health endpoints.
type HTTPServer struct {
	httpServer *http.Server
	engine     *gin.Engine
	health     *HealthChecker
	addr       string
	logger     *slog.Logger
}

// NewHTTPServer builds the router. The server is not started.
func NewHTTPServer(config HTTPServerConfig) (*HTTPServer, error) {
	if config.ServerContext == nil || config.ServerContext.Service() == nil {
		return nil, fmt.Errorf("server context with a service is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultHTTPAddr
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestMiddleware(logger, config.Metrics))

	health := NewHealthChecker(config.ServerContext)
	health.RegisterHealthEndpoints(engine)
	RegisterRoutes(engine, config.ServerContext.Service(), logger)

	return &HTTPServer{
		engine: engine,
		health: health,
		addr:   config.Addr,
		logger: logger,
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// Health returns the health checker so callers can flip readiness.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *HTTPServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: DefaultHTTPReadHeaderTimeout,
		IdleTimeout:       DefaultHTTPIdleTimeout,
	}

	s.logger.Info("starting http server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// requestMiddleware logs each request and records it in the metrics.
// Routes are labelled by their pattern, never by the raw path.
func requestMiddleware(logger *slog.Logger, metrics *instrumentation.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		status := c.Writer.Status()
		metrics.RecordHTTPRequest(c.Request.Context(), c.Request.Method, route, status, duration)

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"route", route,
			slog.Int(logging.KeyStatus, status),
			slog.Duration(logging.KeyDuration, duration))
	}
}
