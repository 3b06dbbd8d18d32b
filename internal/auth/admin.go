package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminTokenValidator checks admin bearer tokens against a bcrypt hash.
type AdminTokenValidator struct {
	hash []byte
}

// NewAdminTokenValidator creates a validator for a bcrypt hash. An empty hash
// yields a validator that rejects every token.
func NewAdminTokenValidator(hash string) (*AdminTokenValidator, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return &AdminTokenValidator{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid admin token hash: %w", err)
	}
	return &AdminTokenValidator{hash: []byte(hash)}, nil
}

// Enabled reports whether an admin token is configured.
func (v *AdminTokenValidator) Enabled() bool {
	return v != nil && len(v.hash) > 0
}

// Validate reports whether token matches the configured hash.
func (v *AdminTokenValidator) Validate(token string) bool {
	if !v.Enabled() || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(token)) == nil
}

// HashAdminToken returns the bcrypt hash to configure as ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin token: %w", err)
	}
	return string(hash), nil
}

// ExtractBearerToken extracts the token from an Authorization header value.
// Returns empty string if the header is not a valid Bearer token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
