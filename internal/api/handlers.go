package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"torvix/backend/internal/orchestrator"
)

const defaultBootstrapTimeout = 2 * time.Minute

// PlatformHandler serves liveness, readiness and bootstrap endpoints.
type PlatformHandler struct {
	orchestrator     orchestratorService
	bootstrapTimeout time.Duration
}

// Bootstrap handles POST /api/v1/bootstrap.
// It returns 202 immediately when a new bootstrap run is started, or 409 if one
// is already in progress. The actual bootstrap work runs in a background goroutine.
func (h *PlatformHandler) Bootstrap(c *gin.Context) {
	if h.orchestrator.IsBootstrapInProgress() {
		c.JSON(http.StatusConflict, gin.H{"status": "in-progress"})
		return
	}

	timeout := h.bootstrapTimeout
	if timeout <= 0 {
		timeout = defaultBootstrapTimeout
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := h.orchestrator.RunBootstrap(ctx); err != nil {
			slog.WarnContext(ctx, "bootstrap did not complete", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Health handles GET /health. It always returns 200.
func (h *PlatformHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep.
// It probes every configured dependency and returns 200 only when all pass.
func (h *PlatformHandler) DeepHealth(c *gin.Context) {
	probes := h.orchestrator.RunDeepHealth(c.Request.Context())

	status := "healthy"
	code := http.StatusOK
	if !orchestrator.Healthy(probes) {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 only after a successful bootstrap; 503 otherwise.
func (h *PlatformHandler) Ready(c *gin.Context) {
	if h.orchestrator.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}
