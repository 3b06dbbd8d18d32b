// Package api provides the HTTP API for the k1serial server.
package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/kaonic/k1serial/docs/api"
	"github.com/kaonic/k1serial/internal/activity"
	"github.com/kaonic/k1serial/internal/api/handlers"
	"github.com/kaonic/k1serial/internal/api/middleware"
	"github.com/kaonic/k1serial/internal/auth"
	"github.com/kaonic/k1serial/internal/batches"
	"github.com/kaonic/k1serial/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Config holds configuration for the API router.
type Config struct {
	// AllowedOrigins may read /verify cross-origin. Empty sends no CORS headers.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period and client IP.
	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	// VerifyRateLimit is the per-minute allowance of /verify per client IP.
	VerifyRateLimit int64
	// MaxUploadBytes caps signed upload bodies.
	MaxUploadBytes int64
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   time.Minute,
		VerifyRateLimit:   5,
		MaxUploadBytes:    10 << 20,
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Database is the storage surface read directly by handlers.
type Database interface {
	handlers.DatabaseHealthChecker
	handlers.SerialReader
	batches.Reader
}

// KeyRegistry is the key registration service.
type KeyRegistry interface {
	handlers.KeyRegistrar
	handlers.RegistrationAdmin
}

// OfflineQueue is the deferred delivery service.
type OfflineQueue interface {
	handlers.UploadQueue
	handlers.QueueAdmin
}

// Services are the dependencies the router wires into handlers.
type Services struct {
	DB            Database
	Registry      KeyRegistry
	Authenticator middleware.RequestAuthenticator
	Ingester      handlers.SerialIngester
	Queue         OfflineQueue
	AdminTokens   *auth.AdminTokenValidator
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Redis shares rate limit counters between instances; nil keeps them in memory.
	Redis *redis.Client
	// Activity streams live events at /admin/activity; nil disables it.
	Activity *activity.Feed
	// System reports host resources at /admin/health/system; nil disables it.
	System handlers.SystemSampler
	// SystemChecker grades the System report; nil uses the default thresholds.
	SystemChecker *health.Checker
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, svc Services, logger zerolog.Logger) (*Router, error) {
	if svc.DB == nil || svc.Registry == nil || svc.Authenticator == nil || svc.Ingester == nil || svc.Queue == nil {
		return nil, errors.New("router: database, registry, authenticator, ingester and queue are required")
	}
	if svc.AdminTokens == nil {
		v, err := auth.NewAdminTokenValidator("")
		if err != nil {
			return nil, err
		}
		svc.AdminTokens = v
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}
	r.Engine.MaxMultipartMemory = cfg.MaxUploadBytes

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestID())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())

	// Rate limiting
	globalStore, err := middleware.NewLimiterStore(svc.Redis, "k1serial:global")
	if err != nil {
		return nil, err
	}
	rateLimiter, err := middleware.NewRateLimiter(globalStore, cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health, metrics and version endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(svc.DB, logger)
	if svc.System != nil {
		healthHandler.WithSystem(svc.System, svc.SystemChecker)
	}
	healthHandler.RegisterPublicRoutes(r.Engine)
	if svc.Gatherer != nil {
		handlers.NewMetricsHandler(svc.Gatherer, logger).RegisterPublicRoutes(r.Engine)
	}

	// Swagger API documentation (no auth required)
	r.Engine.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.URL("/api/docs/doc.json"),
		ginSwagger.DefaultModelsExpandDepth(-1),
	))

	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger).RegisterPublicRoutes(r.Engine)

	// Public verification with its own strict limiter
	verifyStore, err := middleware.NewLimiterStore(svc.Redis, "k1serial:verify")
	if err != nil {
		return nil, err
	}
	verifyLimiter, err := middleware.NewRateLimiter(verifyStore, cfg.VerifyRateLimit, time.Minute)
	if err != nil {
		return nil, err
	}
	cors := middleware.PublicCORS(cfg.AllowedOrigins)
	r.Engine.OPTIONS("/verify", cors)
	handlers.NewVerifyHandler(svc.DB, logger).RegisterPublicRoutes(r.Engine, cors, verifyLimiter)

	// Factory registration (no auth required)
	handlers.NewRegistrationHandler(svc.Registry, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewQueueStatusHandler(svc.Registry, svc.Queue, logger).RegisterPublicRoutes(r.Engine)

	// Signed uploads
	uploads := r.Engine.Group("")
	uploads.Use(middleware.BodyLimitMiddleware(cfg.MaxUploadBytes))
	uploads.Use(middleware.SignedUploadMiddleware(svc.Authenticator, logger))
	handlers.NewSerialsHandler(svc.Ingester, svc.Queue, logger).RegisterRoutes(uploads)

	// Admin console (bearer token required)
	admin := r.Engine.Group("/admin")
	admin.Use(middleware.AdminTokenMiddleware(svc.AdminTokens, logger))
	handlers.NewAdminHandler(svc.Registry, svc.Queue, svc.DB, logger).RegisterRoutes(admin)
	if svc.Activity != nil {
		admin.GET("/activity", gin.WrapF(svc.Activity.HandleWebSocket))
	}
	healthHandler.RegisterAdminRoutes(admin)

	r.logger.Info().
		Bool("admin_enabled", svc.AdminTokens.Enabled()).
		Bool("shared_rate_limits", svc.Redis != nil).
		Bool("activity_feed", svc.Activity != nil).
		Bool("system_health", svc.System != nil).
		Msg("API router initialized")
	return r, nil
}
