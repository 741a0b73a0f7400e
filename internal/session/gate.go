// Package session guards the HTTP surface: every route except the
// handful spec.md §6 names as always-reachable must see an Unlocked vault
// and a valid bearer session token.
//
// Grounded on frnd1406-NasServer's middleware/vault_guard.go, which splits
// the configured check (VaultConfigured) from the unlocked check
// (VaultGuard) so callers can tell the failures apart; this gate keeps that
// discrimination — uninitialized, locked, and bad-token each surface as
// their own error kind — and adds the token check spec.md §4.9 introduces
// (the teacher's auth lived in a separate JWT middleware).
package session

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vanta-vault/vanta/internal/vault"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// vaultAccess is the subset of *vault.Vault the gate needs, so tests can
// fake it without standing up a real vault.
type vaultAccess interface {
	Status() vault.Status
	VerifyToken(presented string) bool
}

// Gate returns middleware that rejects any request reaching it unless the
// vault is unlocked and the request carries a valid bearer session token.
// The vault's state is checked first, so an uninitialized or locked vault
// answers NotInitialized/Locked rather than a generic credential failure.
// Register it only on routes that require authentication; exempt routes
// (status/setup/unlock/healthz) should never have it attached.
func Gate(v vaultAccess) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := v.Status()
		switch {
		case !s.Initialized:
			abort(c, vaulterrors.ErrNotInitialized, "NOT_INITIALIZED")
		case !s.Unlocked:
			abort(c, vaulterrors.ErrLocked, "LOCKED")
		default:
			token := bearerToken(c.GetHeader("Authorization"))
			if token == "" || !v.VerifyToken(token) {
				abort(c, vaulterrors.ErrUnauthenticated, "UNAUTHENTICATED")
				return
			}
			c.Next()
		}
	}
}

func abort(c *gin.Context, err error, code string) {
	c.AbortWithStatusJSON(vaulterrors.StatusFor(err), gin.H{
		"error": err.Error(),
		"code":  code,
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

var _ vaultAccess = (*vault.Vault)(nil)
