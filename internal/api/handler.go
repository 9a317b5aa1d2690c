package api

import (
	"context"

	"go.uber.org/zap"

	"tennis-alarm-backend/internal/refresh"
	"tennis-alarm-backend/internal/snapshot"
	"tennis-alarm-backend/internal/store"
)

// Refresher runs one refresh cycle on demand.
type Refresher interface {
	RunOnce(ctx context.Context, opts refresh.Options) (refresh.Result, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	snapshot  *snapshot.Cache
	refresher Refresher
	publicKey string
	log       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, snap *snapshot.Cache, refresher Refresher, vapidPublicKey string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:     s,
		snapshot:  snap,
		refresher: refresher,
		publicKey: vapidPublicKey,
		log:       log,
	}
}
