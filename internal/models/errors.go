package models

import (
	"errors"
	"net/http"
)

// Error kinds surfaced by the trust and ingestion core. Lower layers wrap these
// with fmt.Errorf("...: %w", ...) and callers classify with errors.Is.
var (
	// ErrMissingHeaders indicates a required authentication header was absent.
	ErrMissingHeaders = errors.New("missing authentication headers")
	// ErrRequestExpired indicates the request timestamp is outside the replay window.
	ErrRequestExpired = errors.New("request expired")
	// ErrUnauthorized indicates a bad signature or no approved key for the tenant.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidKeyFormat indicates key material is not a P-256 public key.
	ErrInvalidKeyFormat = errors.New("invalid public key format")
	// ErrInvalidPayload indicates a missing, unreadable or undecodable upload.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrNotFound indicates an unknown registration, batch or serial.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a state change not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStorageFailure indicates a connection or transaction error in the store.
	ErrStorageFailure = errors.New("storage failure")
)

// HTTPStatus maps an error to the HTTP status class it is reported with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingHeaders),
		errors.Is(err, ErrRequestExpired),
		errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidKeyFormat),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the terse, caller-safe message for an error.
// Storage and unknown errors never expose their cause.
func PublicMessage(err error) string {
	for _, kind := range []error{
		ErrMissingHeaders,
		ErrRequestExpired,
		ErrUnauthorized,
		ErrInvalidKeyFormat,
		ErrInvalidPayload,
		ErrNotFound,
		ErrInvalidTransition,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal server error"
}
