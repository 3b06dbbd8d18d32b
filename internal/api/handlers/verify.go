package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kaonic/k1serial/internal/api/middleware"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// SerialReader looks up issued serials.
type SerialReader interface {
	GetSerial(ctx context.Context, serialNumber string) (*models.SerialRecord, error)
}

// VerifyHandler answers public authenticity lookups.
type VerifyHandler struct {
	serials SerialReader
	logger  zerolog.Logger
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(serials SerialReader, logger zerolog.Logger) *VerifyHandler {
	return &VerifyHandler{
		serials: serials,
		logger:  logger.With().Str("component", "verify_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the lookup route with its own middleware chain.
func (h *VerifyHandler) RegisterPublicRoutes(r gin.IRoutes, mw ...gin.HandlerFunc) {
	r.GET("/verify", append(mw, h.Verify)...)
}

// Verify reports whether a serial was issued.
//
//	@Summary		Verify a serial number
//	@Tags			Verify
//	@Produce		json
//	@Param			sn	query		string	true	"Serial number, K1S-<device id>"
//	@Success		200		{object}	models.VerifySerialResponse
//	@Failure		400		{object}	map[string]string
//	@Failure		404		{object}	map[string]string
//	@Failure		429		{object}	map[string]string	"Rate limit exceeded"
//	@Router			/verify [get]
func (h *VerifyHandler) Verify(c *gin.Context) {
	sn := strings.TrimSpace(c.Query("sn"))
	if sn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sn is required"})
		return
	}
	if !models.IsValidSerialFormat(sn) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number format"})
		return
	}

	rec, err := h.serials.GetSerial(c.Request.Context(), sn)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.VerifySerialResponse{Status: models.VerifyStatusNotFound})
			return
		}
		h.logger.Error().Err(err).Msg("failed to look up serial")
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.NewVerifySerialResponse(rec))
}
