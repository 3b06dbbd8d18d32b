package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kaonic/k1serial/internal/api/middleware"
	"github.com/kaonic/k1serial/internal/batches"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// RegistrationAdmin defines the registry operations available to admins.
type RegistrationAdmin interface {
	List(ctx context.Context, status *models.RegistrationStatus) ([]*models.KeyRegistration, error)
	Approve(ctx context.Context, id int64, actor string) error
	Deny(ctx context.Context, id int64, actor string) error
	Revoke(ctx context.Context, id int64, actor string) error
}

// QueueAdmin defines the offline queue operations available to admins.
type QueueAdmin interface {
	Counts(ctx context.Context, factoryID string) (*models.QueueCounts, error)
	ResetFailed(ctx context.Context, factoryID string) (int64, error)
}

// AdminHandler handles the admin console endpoints.
type AdminHandler struct {
	registry RegistrationAdmin
	queue    QueueAdmin
	batches  batches.Reader
	logger   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(registry RegistrationAdmin, queue QueueAdmin, batchReader batches.Reader, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		queue:    queue,
		batches:  batchReader,
		logger:   logger.With().Str("component", "admin_handler").Logger(),
	}
}

// RegisterRoutes registers admin routes on a group already guarded by the admin middleware.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/registration_requests", h.ListRegistrations)
	r.POST("/approve_request/:id", h.Approve)
	r.POST("/deny_request/:id", h.Deny)
	r.POST("/revoke_request/:id", h.Revoke)

	r.GET("/queue/:factory", h.QueueCounts)
	r.POST("/queue/:factory/reset", h.ResetQueue)

	r.GET("/batches/:id", h.BatchProgress)
}

// ListRegistrations returns registrations, newest first.
//
//	@Summary		List registrations
//	@Tags			Admin
//	@Produce		json
//	@Param			status	query		string	false	"pending, approved or denied"
//	@Success		200		{object}	map[string][]models.KeyRegistration
//	@Failure		400		{object}	map[string]string
//	@Failure		401		{object}	map[string]string
//	@Failure		503		{object}	map[string]string	"Admin token not configured"
//	@Security		BearerAuth
//	@Router			/admin/registration_requests [get]
func (h *AdminHandler) ListRegistrations(c *gin.Context) {
	var status *models.RegistrationStatus
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		st := models.RegistrationStatus(strings.ToLower(s))
		status = &st
	}

	regs, err := h.registry.List(c.Request.Context(), status)
	if err != nil {
		h.fail(c, err, "failed to list registrations")
		return
	}
	if regs == nil {
		regs = []*models.KeyRegistration{}
	}

	c.JSON(http.StatusOK, gin.H{"requests": regs})
}

// Approve approves a registration, superseding older keys of the factory.
//
//	@Summary		Approve a registration
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int	true	"Request id"
//	@Param			body	body		models.RegistrationDecisionRequest	false	"Actor"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		404		{object}	map[string]string
//	@Failure		401		{object}	map[string]string
//	@Failure		503		{object}	map[string]string	"Admin token not configured"
//	@Security		BearerAuth
//	@Router			/admin/approve_request/{id} [post]
func (h *AdminHandler) Approve(c *gin.Context) {
	h.decide(c, "approved", h.registry.Approve)
}

// Deny denies a registration.
//
//	@Summary		Deny a registration
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int	true	"Request id"
//	@Param			body	body		models.RegistrationDecisionRequest	false	"Actor"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		404		{object}	map[string]string
//	@Failure		401		{object}	map[string]string
//	@Failure		503		{object}	map[string]string	"Admin token not configured"
//	@Security		BearerAuth
//	@Router			/admin/deny_request/{id} [post]
func (h *AdminHandler) Deny(c *gin.Context) {
	h.decide(c, "denied", h.registry.Deny)
}

// Revoke moves an approved registration back to pending.
//
//	@Summary		Revoke an approved registration
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int	true	"Request id"
//	@Param			body	body		models.RegistrationDecisionRequest	false	"Actor"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		404		{object}	map[string]string
//	@Failure		400		{object}	map[string]string	"Not approved"
//	@Failure		401		{object}	map[string]string
//	@Failure		503		{object}	map[string]string	"Admin token not configured"
//	@Security		BearerAuth
//	@Router			/admin/revoke_request/{id} [post]
func (h *AdminHandler) Revoke(c *gin.Context) {
	h.decide(c, "revoked", h.registry.Revoke)
}

func (h *AdminHandler) decide(c *gin.Context, verb string, action func(context.Context, int64, string) error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request ID"})
		return
	}

	// The body is optional; an empty one keeps the middleware's actor.
	var req models.RegistrationDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	actor := req.Actor(middleware.AdminActor(c))

	if err := action(c.Request.Context(), id, actor); err != nil {
		h.fail(c, err, "failed to update registration")
		return
	}

	h.logger.Info().Int64("request_id", id).Str("actor", actor).Str("decision", verb).Msg("registration updated")
	c.JSON(http.StatusOK, gin.H{"message": "Request " + verb, "request_id": id})
}

// QueueCounts returns the offline queue counts of a factory.
//
//	@Summary		Offline queue counts
//	@Tags			Admin
//	@Produce		json
//	@Param			factory	path		string	true	"Factory name"
//	@Success		200		{object}	models.QueueCounts
//	@Failure		401		{object}	map[string]string
//	@Failure		503		{object}	map[string]string	"Admin token not configured"
//	@Security		BearerAuth
//	@Router			/admin/queue/{factory} [get]
func (h *AdminHandler) QueueCounts(c *gin.Context) {
	counts, err := h.queue.Counts(c.Request.Context(), c.Param("factory"))
	if err != nil {
		h.fail(c, err, "failed to count offline queue")
		return
	}
	c.JSON(http.StatusOK, counts)
}

// ResetQueue moves failed entries of a factory back to pending.
//
//	@Summary		Reset failed queue entries
//	@Tags			Admin
//	@Produce		json
//	@Param			factory	path		string	true	"Factory name"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		401		{object}	map[string]string
//	@Failure		503		{object}	map[string]string	"Admin token not configured"
//	@Security		BearerAuth
//	@Router			/admin/queue/{factory}/reset [post]
func (h *AdminHandler) ResetQueue(c *gin.Context) {
	factory := c.Param("factory")
	n, err := h.queue.ResetFailed(c.Request.Context(), factory)
	if err != nil {
		h.fail(c, err, "failed to reset offline queue")
		return
	}

	h.logger.Info().Str("factory_id", factory).Int64("reset", n).Str("actor", middleware.AdminActor(c)).Msg("offline queue reset")
	c.JSON(http.StatusOK, gin.H{"factory_id": factory, "reset": n})
}

// BatchProgress returns a batch with its chunks and missing indices.
//
//	@Summary		Batch progress
//	@Tags			Admin
//	@Produce		json
//	@Param			id	path		string	true	"Batch id"
//	@Success		200		{object}	batches.Progress
//	@Failure		404		{object}	map[string]string
//	@Failure		401		{object}	map[string]string
//	@Failure		503		{object}	map[string]string	"Admin token not configured"
//	@Security		BearerAuth
//	@Router			/admin/batches/{id} [get]
func (h *AdminHandler) BatchProgress(c *gin.Context) {
	p, err := batches.GetProgress(c.Request.Context(), h.batches, c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to get batch progress")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *AdminHandler) fail(c *gin.Context, err error, msg string) {
	if models.HTTPStatus(err) == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	}
	middleware.AbortWithError(c, err)
}
