package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kaonic/k1serial/internal/api/middleware"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// KeyStatusReader resolves a public key to its registration.
type KeyStatusReader interface {
	Status(ctx context.Context, keyMaterial string) (*models.KeyRegistration, error)
}

// QueueCounter reports offline queue counts for a factory.
type QueueCounter interface {
	Counts(ctx context.Context, factoryID string) (*models.QueueCounts, error)
}

// QueueStatusHandler lets a factory see its deferred uploads.
type QueueStatusHandler struct {
	keys   KeyStatusReader
	queue  QueueCounter
	logger zerolog.Logger
}

// NewQueueStatusHandler creates a new QueueStatusHandler.
func NewQueueStatusHandler(keys KeyStatusReader, queue QueueCounter, logger zerolog.Logger) *QueueStatusHandler {
	return &QueueStatusHandler{
		keys:   keys,
		queue:  queue,
		logger: logger.With().Str("component", "queue_status_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the queue status route.
func (h *QueueStatusHandler) RegisterPublicRoutes(r gin.IRoutes) {
	r.GET("/queue_status", h.Get)
}

// Get returns the pending and failed counts for the factory owning a key.
//
//	@Summary		Offline queue counts for a factory key
//	@Tags			Queue
//	@Produce		json
//	@Param			public_key	query		string	true	"Approved public key"
//	@Success		200		{object}	models.QueueCounts
//	@Failure		400		{object}	map[string]string
//	@Failure		403		{object}	map[string]string
//	@Router			/queue_status [get]
func (h *QueueStatusHandler) Get(c *gin.Context) {
	key := c.Query("public_key")
	if strings.TrimSpace(key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "public_key is required"})
		return
	}

	reg, err := h.keys.Status(c.Request.Context(), key)
	if err != nil {
		if models.HTTPStatus(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("failed to resolve public key")
		}
		middleware.AbortWithError(c, err)
		return
	}
	if !reg.IsApproved() {
		c.JSON(http.StatusForbidden, gin.H{"error": "public key is not approved"})
		return
	}

	counts, err := h.queue.Counts(c.Request.Context(), reg.TenantName)
	if err != nil {
		h.logger.Error().Err(err).Str("factory_id", reg.TenantName).Msg("failed to count offline queue")
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
