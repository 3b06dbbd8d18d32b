// Package auth authenticates signed factory uploads and admin requests.
package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/kaonic/k1serial/internal/metrics"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// DefaultReplayWindow bounds the skew between a request timestamp and the
// server clock, in both directions.
const DefaultReplayWindow = 300 * time.Second

// KeyResolver returns the registration and key currently approved for a tenant.
type KeyResolver interface {
	ResolveApprovedKey(ctx context.Context, tenant string) (*models.KeyRegistration, *ecdsa.PublicKey, error)
}

// Request carries the authentication inputs of one signed upload.
type Request struct {
	TenantID    string
	Timestamp   string
	Signature   string
	PayloadHash string
}

// Result is the authenticated identity of a request.
type Result struct {
	// Tenant is the stored factory label of the approval, used as provenance.
	Tenant         string
	RegistrationID int64
	Strategy       string
}

// Authenticator verifies signed factory requests against the key registry.
type Authenticator struct {
	keys         KeyResolver
	legacySecret []byte
	window       time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLegacySecret enables the shared-secret HMAC fallback.
func WithLegacySecret(secret string) Option {
	return func(a *Authenticator) {
		a.legacySecret = []byte(secret)
	}
}

// WithReplayWindow overrides DefaultReplayWindow.
func WithReplayWindow(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithMetrics records authentication outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates a new request authenticator.
func NewAuthenticator(keys KeyResolver, logger zerolog.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		keys:   keys,
		window: DefaultReplayWindow,
		logger: logger.With().Str("component", "request_authenticator").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Precheck validates the header fields and the replay window without touching
// the registry. Callers run it before reading the payload.
func (a *Authenticator) Precheck(req Request) error {
	tenant := strings.TrimSpace(req.TenantID)
	tsStr := strings.TrimSpace(req.Timestamp)

	if tenant == "" || tsStr == "" || strings.TrimSpace(req.Signature) == "" {
		a.metrics.RecordAuth("missing_headers", "")
		return models.ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		a.metrics.RecordAuth("missing_headers", "")
		return fmt.Errorf("%w: timestamp is not decimal unix seconds", models.ErrMissingHeaders)
	}

	skew := a.now().Sub(time.Unix(ts, 0))
	if skew > a.window || skew < -a.window {
		a.metrics.RecordAuth("expired", "")
		a.logger.Warn().
			Str("factory", tenant).
			Dur("skew", skew).
			Msg("request outside replay window")
		return models.ErrRequestExpired
	}
	return nil
}

// Authenticate checks headers, the replay window and the signature, in that
// order. The key is resolved on every call.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (*Result, error) {
	if err := a.Precheck(req); err != nil {
		return nil, err
	}
	tenant := strings.TrimSpace(req.TenantID)
	tsStr := strings.TrimSpace(req.Timestamp)
	sig := strings.TrimSpace(req.Signature)

	reg, pub, err := a.keys.ResolveApprovedKey(ctx, tenant)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		a.metrics.RecordAuth("no_approved_key", "")
		a.logger.Warn().Str("factory", tenant).Msg("no approved key for factory")
		return nil, fmt.Errorf("%w: no approved key", models.ErrUnauthorized)
	}

	strategies := []crypto.Strategy{crypto.ECDSAStrategy(pub)}
	if len(a.legacySecret) > 0 {
		strategies = append(strategies, crypto.HMACStrategy(a.legacySecret))
	}

	v := crypto.Verify(crypto.SignatureMessage(tsStr, req.PayloadHash), sig, strategies...)
	if !v.Valid {
		a.metrics.RecordAuth("invalid_signature", "")
		a.logger.Warn().
			Str("factory", tenant).
			Int64("registration_id", reg.ID).
			Str("reason", v.Reason()).
			Msg("signature verification failed")
		return nil, fmt.Errorf("%w: invalid signature", models.ErrUnauthorized)
	}

	a.metrics.RecordAuth("success", v.Strategy)
	a.logger.Info().
		Str("factory", reg.TenantName).
		Int64("registration_id", reg.ID).
		Str("strategy", v.Strategy).
		Msg("request authenticated")

	return &Result{
		Tenant:         reg.TenantName,
		RegistrationID: reg.ID,
		Strategy:       v.Strategy,
	}, nil
}
