package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tennis-alarm-backend/config"
	"tennis-alarm-backend/internal/mw"
	"tennis-alarm-backend/internal/obs"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(log))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl, h.snapshot.Version)

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(obs.MetricsHandler()))
	// Triggered by an external uptime scheduler.
	r.GET("/refresh", h.Refresh)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/data", caching, h.GetData)
		api.GET("/court-groups", caching, h.GetCourtGroups)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
		api.GET("/refresh", h.Refresh)

		api.POST("/push/subscribe", h.Subscribe)

		api.GET("/alarms", h.ListAlarms)
		api.POST("/alarms", h.AddAlarm)
		api.DELETE("/alarms", h.DeleteAlarm)
	}

	return r
}
