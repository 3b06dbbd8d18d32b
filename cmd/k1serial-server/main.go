// Package main is the entrypoint for the k1serial server.
//
//	@title			k1serial API
//	@version		1.0
//	@description	Factory key registration, signed serial uploads and public serial verification.
//
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Admin token. Use format: Bearer <token>
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaonic/k1serial/internal/activity"
	"github.com/kaonic/k1serial/internal/api"
	"github.com/kaonic/k1serial/internal/archive"
	"github.com/kaonic/k1serial/internal/auth"
	"github.com/kaonic/k1serial/internal/config"
	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/kaonic/k1serial/internal/db"
	"github.com/kaonic/k1serial/internal/events"
	"github.com/kaonic/k1serial/internal/health"
	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/kaonic/k1serial/internal/jobs"
	"github.com/kaonic/k1serial/internal/metrics"
	"github.com/kaonic/k1serial/internal/queue"
	"github.com/kaonic/k1serial/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()

	if err := config.LoadDotEnv(); err != nil {
		logger.Error().Err(err).Msg("Failed to load .env file")
		return 1
	}
	cfg := config.LoadServerConfig()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("environment", string(cfg.Environment)).
		Msg("Starting k1serial server")

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	// Connect to database
	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewStateCollector(database, logger),
	)
	m, err := metrics.NewPrometheusMetrics(promRegistry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	// Live activity feed for admin clients
	feed := activity.NewFeed(activity.DefaultConfig(), logger)
	feed.Start()
	defer feed.Stop()

	// Trust core
	keys := registry.New(database, m, logger, registry.WithNotifier(feed))

	authOpts := []auth.Option{auth.WithReplayWindow(cfg.ReplayWindow), auth.WithMetrics(m)}
	if cfg.LegacyHMACEnabled {
		authOpts = append(authOpts, auth.WithLegacySecret(cfg.LegacyHMACSecret))
		logger.Warn().Msg("Legacy shared-secret signatures are accepted")
	}
	authenticator := auth.NewAuthenticator(keys, logger, authOpts...)

	adminTokens, err := auth.NewAdminTokenValidator(cfg.AdminTokenHash)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid ADMIN_TOKEN_HASH")
		return 1
	}
	if !adminTokens.Enabled() {
		logger.Warn().Msg("ADMIN_TOKEN_HASH not set, admin routes are disabled")
	}

	// Ingestion pipeline with optional event publishing and archiving
	pipelineOpts := []ingest.Option{ingest.WithMetrics(m), ingest.WithPublisher(feed)}
	if cfg.NATSURL != "" {
		publisher, err := events.Connect(cfg.NATSURL, cfg.NATSToken, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to NATS")
			return 1
		}
		defer publisher.Close()
		pipelineOpts = append(pipelineOpts, ingest.WithPublisher(publisher))
	}
	if cfg.ArchiveBucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:          cfg.ArchiveBucket,
			Prefix:          cfg.ArchivePrefix,
			Region:          cfg.ArchiveRegion,
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     cfg.ArchiveAccessKey,
			SecretAccessKey: cfg.ArchiveSecretKey,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize payload archive")
			return 1
		}
		pipelineOpts = append(pipelineOpts, ingest.WithArchiver(archiver))
	}
	pipeline := ingest.NewPipeline(database, logger, pipelineOpts...)

	// Offline queue
	var sealer *crypto.PayloadSealer
	if cfg.EncryptionKey != "" {
		sealer, err = crypto.NewPayloadSealerFromHex(cfg.EncryptionKey)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to decode ENCRYPTION_KEY")
			return 1
		}
	} else {
		logger.Warn().Msg("ENCRYPTION_KEY not set, offline queue payloads are stored unencrypted")
	}
	offlineQueue := queue.New(database, sealer, m, logger)

	retryScheduler := jobs.NewRetryScheduler(offlineQueue, pipeline, cfg.QueueRetrySchedule, cfg.QueueRetryBatch, logger)
	if err := retryScheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start offline queue retry scheduler")
		return 1
	}
	defer retryScheduler.Stop()

	// Shared rate limits
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid REDIS_URL")
			return 1
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to redis")
			return 1
		}
	}

	// Build API router
	routerCfg := api.Config{
		AllowedOrigins:    cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		VerifyRateLimit:   cfg.VerifyRateLimit,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	}
	router, err := api.NewRouter(routerCfg, api.Services{
		DB:            database,
		Registry:      keys,
		Authenticator: authenticator,
		Ingester:      pipeline,
		Queue:         offlineQueue,
		AdminTokens:   adminTokens,
		Gatherer:      promRegistry,
		Redis:         redisClient,
		Activity:      feed,
		System:        health.NewCollector(cfg.SystemHealthPath),
		SystemChecker: health.NewChecker(health.Thresholds{
			DiskWarning:    cfg.DiskWarnPercent,
			DiskCritical:   cfg.DiskCritPercent,
			MemoryWarning:  health.DefaultThresholds().MemoryWarning,
			MemoryCritical: health.DefaultThresholds().MemoryCritical,
		}),
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
