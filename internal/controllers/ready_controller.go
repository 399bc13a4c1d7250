package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/osvaldoandrade/panoq/internal/middleware"

	"github.com/gin-gonic/gin"
)

const readyProbeTimeout = 2 * time.Second

// Probe checks the queue backend with a connection of its own.
type Probe func(ctx context.Context) error

type readyController struct{ probe Probe }

func NewReadyController(probe Probe) *readyController {
	return &readyController{probe: probe}
}

func (h *readyController) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyProbeTimeout)
	defer cancel()

	if err := h.probe(ctx); err != nil {
		middleware.LoggerFrom(c).Warn("readiness probe failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
