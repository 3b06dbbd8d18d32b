package models

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// RegistrationStatus is the lifecycle state of a factory public key registration.
type RegistrationStatus string

const (
	// RegistrationStatusPending is awaiting an admin decision (also the state after revoke).
	RegistrationStatusPending RegistrationStatus = "pending"
	// RegistrationStatusApproved means the key may sign uploads for its factory.
	RegistrationStatusApproved RegistrationStatus = "approved"
	// RegistrationStatusDenied means an admin rejected the key.
	RegistrationStatusDenied RegistrationStatus = "denied"
)

// Valid reports whether s is a known registration status.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusApproved, RegistrationStatusDenied:
		return true
	}
	return false
}

// KeyRegistration is one registration attempt of a factory public key.
// PublicKey is canonical (base64 SPKI DER) and unique across all rows.
type KeyRegistration struct {
	ID         int64              `json:"id"`
	TenantName string             `json:"factory_name"`
	PublicKey  string             `json:"public_key"`
	Status     RegistrationStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	ApprovedAt *time.Time         `json:"approved_at,omitempty"`
	ApprovedBy *string            `json:"approved_by,omitempty"`
}

// NewKeyRegistration creates a pending registration for the given tenant and canonical key.
func NewKeyRegistration(tenantName, publicKey string) *KeyRegistration {
	return &KeyRegistration{
		TenantName: NormalizeTenantName(tenantName),
		PublicKey:  publicKey,
		Status:     RegistrationStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// IsApproved returns true if the key currently authorizes uploads.
func (r *KeyRegistration) IsApproved() bool {
	return r.Status == RegistrationStatusApproved
}

// NormalizeTenantName trims surrounding whitespace from a factory label and
// puts it in Unicode NFC, so composed and decomposed spellings match.
func NormalizeTenantName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// RegistrationResult is returned by a registration request.
type RegistrationResult struct {
	ID      int64              `json:"request_id"`
	Status  RegistrationStatus `json:"status"`
	Existed bool               `json:"already_exists"`
}

// RegisterKeyRequest is the request body for registering a factory public key.
type RegisterKeyRequest struct {
	FactoryName string `json:"factory_name" binding:"required,max=255"`
	PublicKey   string `json:"public_key" binding:"required"`
}

// RegistrationDecisionRequest is the request body for admin approve/deny/revoke actions.
// Admin clients send the actor under an action-specific key.
type RegistrationDecisionRequest struct {
	ApprovedBy string `json:"approved_by,omitempty"`
	DeniedBy   string `json:"denied_by,omitempty"`
	RevokedBy  string `json:"revoked_by,omitempty"`
}

// Actor returns the first non-empty actor label, or fallback.
func (r RegistrationDecisionRequest) Actor(fallback string) string {
	for _, v := range []string{r.ApprovedBy, r.DeniedBy, r.RevokedBy} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}
