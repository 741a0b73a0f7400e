// Package vaulterrors defines the error taxonomy shared by every layer of
// the vault and the HTTP status codes each kind maps to.
package vaulterrors

import (
	"errors"
	"net/http"
)

// Sentinel error kinds. Callers wrap these with fmt.Errorf("...: %w", Err...)
// so errors.Is still matches through added context.
var (
	ErrNotInitialized  = errors.New("vault not initialized")
	ErrAlreadyInit     = errors.New("vault already initialized")
	ErrLocked          = errors.New("vault is locked")
	ErrUnauthenticated = errors.New("missing or invalid session token")
	ErrWrongPassword   = errors.New("wrong password")
	ErrCorruptBlob     = errors.New("corrupt blob")
	ErrManifestCorrupt = errors.New("manifest corrupt")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrIoFailure       = errors.New("io failure")
)

// StatusFor maps an error (possibly wrapped) to the HTTP status code the
// external API surface should answer with. Unrecognized errors map to 500.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	// The three gate failures map onto 401/403: the caller's credential is
	// the problem on 401, the vault's state is the problem on 403.
	case errors.Is(err, ErrNotInitialized):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyInit):
		return http.StatusConflict
	case errors.Is(err, ErrLocked):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrWrongPassword):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrCorruptBlob), errors.Is(err, ErrManifestCorrupt):
		return http.StatusInternalServerError
	case errors.Is(err, ErrIoFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Loggable reports whether an error should be logged with server-side
// context. Only IoFailure/CorruptBlob/ManifestCorrupt ever are; everything
// else is a generic client-visible condition and must not be logged.
func Loggable(err error) bool {
	return errors.Is(err, ErrIoFailure) || errors.Is(err, ErrCorruptBlob) || errors.Is(err, ErrManifestCorrupt)
}
