package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler expone el estado del registro.
type HealthHandler struct {
	logger   *zap.Logger
	registry pinger
}

func NewHealthHandler(logger *zap.Logger, registry pinger) *HealthHandler {
	return &HealthHandler{logger: logger, registry: registry}
}

// Health maneja GET /healthz.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.registry.Ping(ctx); err != nil {
		h.logger.Warn("registry ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
