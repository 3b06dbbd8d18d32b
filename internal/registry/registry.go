// Package registry implements the factory public key lifecycle: registration,
// admin decisions and lookup of the key that currently authorizes a factory.
package registry

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/kaonic/k1serial/internal/metrics"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// Store defines the persistence operations the registry needs.
type Store interface {
	// CreateKeyRegistration inserts reg unless its public key exists. On
	// conflict reg is overwritten with the stored row and created is false.
	CreateKeyRegistration(ctx context.Context, reg *models.KeyRegistration) (created bool, err error)
	GetKeyRegistrationByID(ctx context.Context, id int64) (*models.KeyRegistration, error)
	GetKeyRegistrationByPublicKey(ctx context.Context, publicKey string) (*models.KeyRegistration, error)
	// GetLatestApprovedRegistration matches the tenant label case-insensitively
	// and returns the approval with the newest approved_at.
	GetLatestApprovedRegistration(ctx context.Context, tenant string) (*models.KeyRegistration, error)
	ListKeyRegistrations(ctx context.Context, status *models.RegistrationStatus) ([]*models.KeyRegistration, error)
	SetRegistrationDecision(ctx context.Context, id int64, status models.RegistrationStatus, actor string, at time.Time) error
	// RevokeRegistration moves an approved row back to pending. It returns
	// ErrNotFound for an unknown id and ErrInvalidTransition otherwise.
	RevokeRegistration(ctx context.Context, id int64) error
}

// Notifier is told about every admin decision after it is stored.
type Notifier interface {
	RegistrationDecided(ctx context.Context, id int64, factory, decision, actor string)
}

// Registry manages key registrations. It holds no cached state, so every
// decision is visible to the next lookup.
type Registry struct {
	store    Store
	metrics  *metrics.Metrics
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier announces decisions to n.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// New creates a new Registry.
func New(store Store, m *metrics.Metrics, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "key_registry").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) notify(ctx context.Context, id int64, decision, actor string) {
	if r.notifier == nil {
		return
	}
	reg, err := r.store.GetKeyRegistrationByID(ctx, id)
	if err != nil {
		r.logger.Warn().Err(err).Int64("registration_id", id).Msg("failed to load registration for notification")
		return
	}
	r.notifier.RegistrationDecided(ctx, id, reg.TenantName, decision, actor)
}

// Register records a pending registration for the key, or returns the existing
// registration when the same key was registered before.
func (r *Registry) Register(ctx context.Context, tenantName, keyMaterial string) (*models.RegistrationResult, error) {
	tenantName = models.NormalizeTenantName(tenantName)
	if tenantName == "" {
		return nil, fmt.Errorf("%w: factory name is required", models.ErrInvalidPayload)
	}

	canonical, err := crypto.NormalizePublicKey(keyMaterial)
	if err != nil {
		return nil, err
	}

	reg := models.NewKeyRegistration(tenantName, canonical)
	created, err := r.store.CreateKeyRegistration(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}

	if created {
		r.metrics.RecordRegistration("register")
		r.logger.Info().
			Int64("registration_id", reg.ID).
			Str("factory", reg.TenantName).
			Msg("public key registration received")
	} else {
		r.logger.Debug().
			Int64("registration_id", reg.ID).
			Str("status", string(reg.Status)).
			Msg("public key already registered")
	}

	return &models.RegistrationResult{ID: reg.ID, Status: reg.Status, Existed: !created}, nil
}

// Approve marks a registration approved. Re-approving is allowed.
func (r *Registry) Approve(ctx context.Context, id int64, actor string) error {
	return r.decide(ctx, id, models.RegistrationStatusApproved, actor)
}

// Deny marks a registration denied from any state.
func (r *Registry) Deny(ctx context.Context, id int64, actor string) error {
	return r.decide(ctx, id, models.RegistrationStatusDenied, actor)
}

func (r *Registry) decide(ctx context.Context, id int64, status models.RegistrationStatus, actor string) error {
	actor = strings.TrimSpace(actor)
	if err := r.store.SetRegistrationDecision(ctx, id, status, actor, r.now()); err != nil {
		return fmt.Errorf("%s registration %d: %w", status, id, err)
	}

	r.metrics.RecordRegistration(string(status))
	r.logger.Info().
		Int64("registration_id", id).
		Str("status", string(status)).
		Str("actor", actor).
		Msg("registration decision recorded")
	r.notify(ctx, id, string(status), actor)
	return nil
}

// Revoke returns an approved registration to pending and clears its approval.
func (r *Registry) Revoke(ctx context.Context, id int64, actor string) error {
	if err := r.store.RevokeRegistration(ctx, id); err != nil {
		return fmt.Errorf("revoke registration %d: %w", id, err)
	}

	actor = strings.TrimSpace(actor)
	r.metrics.RecordRegistration("revoke")
	r.logger.Info().
		Int64("registration_id", id).
		Str("actor", actor).
		Msg("registration revoked")
	r.notify(ctx, id, "revoked", actor)
	return nil
}

// ResolveApprovedKey returns the registration and parsed key that currently
// authorize tenant. It returns ErrNotFound when the tenant has no approval.
func (r *Registry) ResolveApprovedKey(ctx context.Context, tenant string) (*models.KeyRegistration, *ecdsa.PublicKey, error) {
	tenant = models.NormalizeTenantName(tenant)
	if tenant == "" {
		return nil, nil, models.ErrNotFound
	}

	reg, err := r.store.GetLatestApprovedRegistration(ctx, tenant)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve key for %q: %w", tenant, err)
	}

	pub, err := crypto.ParsePublicKey(reg.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stored key for registration %d: %v", models.ErrStorageFailure, reg.ID, err)
	}
	return reg, pub, nil
}

// Status looks up the registration for key material in any accepted encoding.
func (r *Registry) Status(ctx context.Context, keyMaterial string) (*models.KeyRegistration, error) {
	canonical, err := crypto.NormalizePublicKey(keyMaterial)
	if err != nil {
		return nil, err
	}

	reg, err := r.store.GetKeyRegistrationByPublicKey(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("registration status: %w", err)
	}
	return reg, nil
}

// Get returns a registration by id.
func (r *Registry) Get(ctx context.Context, id int64) (*models.KeyRegistration, error) {
	reg, err := r.store.GetKeyRegistrationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get registration %d: %w", id, err)
	}
	return reg, nil
}

// List returns registrations, newest first, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status *models.RegistrationStatus) ([]*models.KeyRegistration, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidPayload, *status)
	}
	regs, err := r.store.ListKeyRegistrations(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}
