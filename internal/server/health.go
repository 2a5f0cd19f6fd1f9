package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusUnavailable  = "unavailable"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	ready         atomic.Bool
	serverContext *ServerContext
	startTime     time.Time
}

// NewHealthChecker creates a HealthChecker. The server starts as ready.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// isServerShuttingDown returns false if serverContext is nil.
func (h *HealthChecker) isServerShuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

// databaseStatus pings the store. Without a service there is nothing to check.
func (h *HealthChecker) databaseStatus(ctx context.Context) string {
	if h.serverContext == nil || h.serverContext.Service() == nil {
		return healthStatusOK
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := h.serverContext.Service().Ping(ctx); err != nil {
		return healthStatusUnavailable
	}
	return healthStatusOK
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status    string   `json:"status"`
	Uptime    string   `json:"uptime"`
	Version   string   `json:"version,omitempty"`
	Database  string   `json:"database"`
	Providers []string `json:"providers"`
}

// Liveness serves /healthz. It only reports that the process is running.
func (h *HealthChecker) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: healthStatusOK})
}

// Readiness serves /readyz.
func (h *HealthChecker) Readiness(c *gin.Context) {
	checks := map[string]string{
		"ready":    healthStatusOK,
		"shutdown": healthStatusOK,
		"database": h.databaseStatus(c.Request.Context()),
	}
	if !h.ready.Load() {
		checks["ready"] = healthStatusNotReady
	}
	if h.isServerShuttingDown() {
		checks["shutdown"] = healthStatusShuttingDown
	}

	for _, v := range checks {
		if v != healthStatusOK {
			c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: healthStatusNotReady, Checks: checks})
			return
		}
	}
	c.JSON(http.StatusOK, HealthResponse{Status: healthStatusOK, Checks: checks})
}

// Detailed serves /healthz/detailed.
func (h *HealthChecker) Detailed(c *gin.Context) {
	response := DetailedHealthResponse{
		Status:    healthStatusOK,
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		Database:  h.databaseStatus(c.Request.Context()),
		Providers: []string{},
	}
	if h.serverContext != nil {
		response.Version = h.serverContext.Version()
		if svc := h.serverContext.Service(); svc != nil {
			for _, p := range svc.Providers() {
				response.Providers = append(response.Providers, p.String())
			}
		}
	}

	status := http.StatusOK
	switch {
	case !h.ready.Load():
		response.Status = healthStatusNotReady
		status = http.StatusServiceUnavailable
	case h.isServerShuttingDown():
		response.Status = healthStatusShuttingDown
		status = http.StatusServiceUnavailable
	case response.Database != healthStatusOK:
		response.Status = healthStatusUnavailable
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}

// RegisterHealthEndpoints registers the health endpoints on r.
func (h *HealthChecker) RegisterHealthEndpoints(r gin.IRoutes) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/healthz/detailed", h.Detailed)
}
