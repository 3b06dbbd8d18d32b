// Package config provides configuration management for k1serial.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// DefaultLegacySecret is the shared secret legacy clients sign with.
const DefaultLegacySecret = "flutter_client_secret_key"

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	DatabaseURL string
	ListenAddr  string

	LegacyHMACEnabled bool
	LegacyHMACSecret  string
	ReplayWindow      time.Duration
	MaxUploadBytes    int64

	AdminTokenHash string

	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	VerifyRateLimit   int64 // requests per minute per IP on /verify
	RedisURL          string
	CORSOrigins       []string

	NATSURL   string
	NATSToken string

	ArchiveBucket    string
	ArchivePrefix    string
	ArchiveRegion    string
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string

	EncryptionKey      string // hex AES-256 key for offline queue payloads
	QueueRetrySchedule string
	QueueRetryBatch    int

	// SystemHealthPath is the filesystem graded by /admin/health/system.
	SystemHealthPath string
	DiskWarnPercent  float64
	DiskCritPercent  float64
}

// LoadDotEnv loads variables from the given files, or .env by default.
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		port := getEnvInt("PORT", 8080)
		if port <= 0 || port > 65535 {
			port = 8080
		}
		listen = ":" + strconv.Itoa(port)
	}

	replay := getEnvInt("REPLAY_WINDOW_SECONDS", 300)
	if replay <= 0 {
		replay = 300
	}

	maxUpload := int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20))
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	rateRequests := int64(getEnvInt("RATE_LIMIT_REQUESTS", 100))
	if rateRequests <= 0 {
		rateRequests = 100
	}
	ratePeriod := getEnvDuration("RATE_LIMIT_PERIOD", time.Minute)
	if ratePeriod <= 0 {
		ratePeriod = time.Minute
	}
	verifyLimit := int64(getEnvInt("VERIFY_RATE_LIMIT", 5))
	if verifyLimit <= 0 {
		verifyLimit = 5
	}

	retryBatch := getEnvInt("QUEUE_RETRY_BATCH", 50)
	if retryBatch <= 0 {
		retryBatch = 50
	}

	return ServerConfig{
		Environment: env,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  listen,

		LegacyHMACEnabled: getEnvBool("LEGACY_HMAC_ENABLED", true),
		LegacyHMACSecret:  getEnvString("LEGACY_HMAC_SECRET", DefaultLegacySecret),
		ReplayWindow:      time.Duration(replay) * time.Second,
		MaxUploadBytes:    maxUpload,

		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),

		RateLimitRequests: rateRequests,
		RateLimitPeriod:   ratePeriod,
		VerifyRateLimit:   verifyLimit,
		RedisURL:          os.Getenv("REDIS_URL"),
		CORSOrigins:       getEnvList("CORS_ORIGINS"),

		NATSURL:   os.Getenv("NATS_URL"),
		NATSToken: os.Getenv("NATS_TOKEN"),

		ArchiveBucket:    os.Getenv("ARCHIVE_S3_BUCKET"),
		ArchivePrefix:    getEnvString("ARCHIVE_S3_PREFIX", "uploads"),
		ArchiveRegion:    os.Getenv("ARCHIVE_S3_REGION"),
		ArchiveEndpoint:  os.Getenv("ARCHIVE_S3_ENDPOINT"),
		ArchiveAccessKey: os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
		ArchiveSecretKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),

		EncryptionKey:      os.Getenv("ENCRYPTION_KEY"),
		QueueRetrySchedule: getEnvString("QUEUE_RETRY_SCHEDULE", "@every 1m"),
		QueueRetryBatch:    retryBatch,

		SystemHealthPath: getEnvString("SYSTEM_HEALTH_PATH", "/"),
		DiskWarnPercent:  getEnvFloat("DISK_WARN_PERCENT", 80),
		DiskCritPercent:  getEnvFloat("DISK_CRIT_PERCENT", 90),
	}
}

// Validate checks that required settings are present.
func (c ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Environment == EnvProduction && c.LegacyHMACEnabled && c.LegacyHMACSecret == DefaultLegacySecret {
		return errors.New("LEGACY_HMAC_SECRET must be changed from the default in production")
	}
	return nil
}

// IsProduction reports whether the server runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// getEnvString reads a string from an environment variable, returning the default if unset.
func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvList reads a comma-separated list, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a Go duration from an environment variable, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvFloat reads a float from an environment variable, returning the default if unset or invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
