package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ServiceName is reported by the index and version endpoints.
const ServiceName = "k1serial"

// VersionInfo contains server version information.
type VersionInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// VersionHandler serves the index and version endpoints.
type VersionHandler struct {
	info   VersionInfo
	logger zerolog.Logger
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(version, commit, buildDate string, logger zerolog.Logger) *VersionHandler {
	return &VersionHandler{
		info: VersionInfo{
			Service:   ServiceName,
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		},
		logger: logger.With().Str("component", "version_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the index and version routes.
func (h *VersionHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/", h.Index)
	r.GET("/version", h.Get)
}

// Index lists the public entry points.
// GET /
func (h *VersionHandler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.info.Service,
		"version": h.info.Version,
		"verify":  "/verify?sn=K1S-<device id>",
	})
}

// Get returns the server version information.
// GET /version
func (h *VersionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}
