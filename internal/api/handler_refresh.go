package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tennis-alarm-backend/internal/refresh"
)

// testMode maps the ?test= query value to a refresh test mode.
func testMode(v string) string {
	switch v {
	case "1":
		return refresh.TestSlotA
	case "2":
		return refresh.TestSlotB
	case "3", "push":
		return refresh.TestPush
	default:
		return refresh.TestNone
	}
}

// Refresh runs one refresh cycle synchronously. The cycle outlives the
// caller's connection.
func (h *Handler) Refresh(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := h.refresher.RunOnce(ctx, refresh.Options{Test: testMode(c.Query("test"))})
	if err != nil {
		h.log.Error("on-demand refresh failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, refresh.ErrCrawl) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"status": "error", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": res})
}

// Healthz reports whether the database answers.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		c.String(http.StatusServiceUnavailable, "unhealthy: db")
		return
	}
	c.String(http.StatusOK, "ok")
}
