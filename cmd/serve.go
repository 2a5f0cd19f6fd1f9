package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/resources"
	"github.com/teemow/mailsync/internal/server"
	"github.com/teemow/mailsync/internal/service"
	"github.com/teemow/mailsync/internal/tools/mail_tools"
)

const (
	transportHTTP  = "http"
	transportStdio = "stdio"

	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		yolo      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server or the MCP server",
		Long: `Start mailsync as a long running server.

Supports two transports:
  - http: the REST API with the OAuth callback, health endpoints and a
    dedicated metrics server (default)
  - stdio: an MCP server on standard input/output for AI assistants

Periodic sync:
  --sync-interval 15m syncs every user with an active account in the
  background. Zero disables it.

Safety Mode:
  The MCP transport starts read-only. Use --yolo to register the tools that
  send mail or disconnect accounts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(transport, !yolo)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", transportHTTP, "Transport type: http or stdio")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Enable MCP tools that send mail or disconnect accounts. Default is read-only mode.")
	cmd.Flags().String("http-addr", ":8080", "HTTP server address. Can also use MAILSYNC_HTTP_ADDR env var.")
	cmd.Flags().Duration("sync-interval", 0, "Sync all users periodically (e.g. 15m). Can also use MAILSYNC_SYNC_INTERVAL env var.")
	cmd.Flags().Bool("metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use MAILSYNC_METRICS_ENABLED env var.")
	cmd.Flags().String("metrics-addr", ":9090", "Metrics server address. Can also use MAILSYNC_METRICS_ADDR env var.")

	bindFlag(cmd, false, "http.addr", "http-addr")
	bindFlag(cmd, false, "sync.interval", "sync-interval")
	bindFlag(cmd, false, "metrics.enabled", "metrics-enabled")
	bindFlag(cmd, false, "metrics.addr", "metrics-addr")

	return cmd
}

func runServe(transport string, readOnly bool) error {
	if transport != transportHTTP && transport != transportStdio {
		return fmt.Errorf("unsupported transport type: %s (supported: http, stdio)", transport)
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instrConfig.DatabaseDriver = cfg.Database.Driver
	instrConfig.MailProviders = configuredProviders(cfg)
	instrProvider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := instrProvider.Shutdown(ctx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := instrProvider.Metrics()

	a, err := newApp(shutdownCtx, cfg, instrProvider, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	serverContext := server.NewServerContext(shutdownCtx, a.svc, version)
	serverContext.SetMetrics(metrics)
	defer serverContext.Shutdown()

	if cfg.Sync.Interval > 0 {
		go runSyncLoop(serverContext.Context(), a.svc, cfg.Sync.Interval, cfg.Sync.MaxMessages, logger)
	}

	if transport == transportStdio {
		return runStdioServer(serverContext, readOnly)
	}
	return runHTTPServer(shutdownCtx, serverContext, instrProvider, logger)
}

func runStdioServer(sc *server.ServerContext, readOnly bool) error {
	mcpSrv := mcpserver.NewMCPServer("mailsync", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false), // Subscribe and listChanged
	)
	if err := mail_tools.RegisterMailTools(mcpSrv, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register mail tools: %w", err)
	}
	if err := resources.RegisterMailResources(mcpSrv, sc); err != nil {
		return fmt.Errorf("failed to register mail resources: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	case <-sc.Context().Done():
		return nil
	}
}

func runHTTPServer(ctx context.Context, sc *server.ServerContext, instrProvider *instrumentation.Provider, logger *slog.Logger) error {
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && instrProvider.Enabled() {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: instrProvider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Addr:          cfg.HTTP.Addr,
		ServerContext: sc,
		Metrics:       instrProvider.Metrics(),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.Start() }()
	if metricsServer != nil {
		go func() { errCh <- metricsServer.Start() }()
		logger.Info("metrics server listening", "addr", metricsServer.Addr())
	}
	logger.Info("mailsync listening", "addr", httpServer.Addr(), "version", version)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("server failed", logging.Err(runErr))
		}
	}

	_ = sc.Shutdown()
	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdown); err != nil {
		logger.Warn("HTTP server shutdown failed", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdown); err != nil {
			logger.Warn("metrics server shutdown failed", logging.Err(err))
		}
	}
	return runErr
}

// runSyncLoop syncs every user each interval and purges expired OAuth
// states. It returns when ctx is done.
func runSyncLoop(ctx context.Context, svc *service.Service, interval time.Duration, maxMessages int, logger *slog.Logger) {
	logger = logging.WithOperation(logger, "background_sync")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncOnce(ctx, svc, maxMessages, logger)
		}
	}
}

func syncOnce(ctx context.Context, svc *service.Service, maxMessages int, logger *slog.Logger) {
	start := time.Now()
	res, err := svc.SyncAll(ctx, maxMessages, "")
	if err != nil {
		logger.Error("sync run failed", logging.Err(err))
		return
	}
	logger.Info("sync run finished",
		"created", res.MessagesCreated,
		"skipped", res.MessagesSkipped,
		"errors", len(res.Errors),
		slog.Duration(logging.KeyDuration, time.Since(start)))
	for _, e := range res.Errors {
		logger.Warn("sync error", "detail", e)
	}

	if n, err := svc.PurgeStates(ctx); err != nil {
		logger.Warn("purging oauth states failed", logging.Err(err))
	} else if n > 0 {
		logger.Debug("purged expired oauth states", "count", n)
	}
}
