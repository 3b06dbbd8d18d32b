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

// KeyRegistrar defines the registry operations used by the public registration routes.
type KeyRegistrar interface {
	Register(ctx context.Context, tenantName, keyMaterial string) (*models.RegistrationResult, error)
	Status(ctx context.Context, keyMaterial string) (*models.KeyRegistration, error)
}

// RegistrationHandler handles factory public key registration.
type RegistrationHandler struct {
	registry KeyRegistrar
	logger   zerolog.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(registry KeyRegistrar, logger zerolog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		registry: registry,
		logger:   logger.With().Str("component", "registration_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the unauthenticated registration routes.
func (h *RegistrationHandler) RegisterPublicRoutes(r gin.IRoutes) {
	r.POST("/register_public_key", h.Register)
	r.GET("/check_registration_status", h.CheckStatus)
}

// Register submits a public key for admin approval. Submitting a key that is
// already known returns its existing request.
//
//	@Summary		Register a factory public key
//	@Tags			Registration
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.RegisterKeyRequest	true	"Factory name and P-256 public key"
//	@Success		201		{object}	models.RegistrationResult
//	@Success		200		{object}	models.RegistrationResult	"Key already registered"
//	@Failure		400		{object}	map[string]string
//	@Router			/register_public_key [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req models.RegisterKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "factory_name and public_key are required"})
		return
	}
	if strings.TrimSpace(req.FactoryName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "factory_name and public_key are required"})
		return
	}

	res, err := h.registry.Register(c.Request.Context(), req.FactoryName, req.PublicKey)
	if err != nil {
		if models.HTTPStatus(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("factory_name", req.FactoryName).Msg("failed to register public key")
		}
		middleware.AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Existed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// CheckStatus reports the registration state of a public key.
//
//	@Summary		Check registration status
//	@Tags			Registration
//	@Produce		json
//	@Param			public_key	query		string	true	"Public key"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		400		{object}	map[string]string
//	@Failure		404		{object}	map[string]string
//	@Router			/check_registration_status [get]
func (h *RegistrationHandler) CheckStatus(c *gin.Context) {
	key := c.Query("public_key")
	if strings.TrimSpace(key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "public_key is required"})
		return
	}

	reg, err := h.registry.Status(c.Request.Context(), key)
	if err != nil {
		if models.HTTPStatus(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("failed to check registration status")
		}
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":   reg.ID,
		"factory_name": reg.TenantName,
		"status":       reg.Status,
		"created_at":   reg.CreatedAt,
		"approved_at":  reg.ApprovedAt,
	})
}
