// Package vault implements the cryptographic vault lifecycle state
// machine of spec.md §4.5: Uninitialized → Locked → Unlocked, holding the
// DEK and the opaque session token only while unlocked.
//
// Grounded directly on frnd1406-NasServer's
// src/services/encryption_service.go (EncryptionService's
// Setup/Unlock/Lock/GetStatus/IsConfigured/IsUnlocked shape, the
// multi-pass DEK wipe on lock) generalized from AES-256-GCM/stdlib to
// this repo's XChaCha20-Poly1305 envelope (internal/vaultcrypto) and
// extended with an opaque bearer session token per spec.md §4.9,
// following allisson-secrets's token_service.go random-token idiom.
package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"

	"github.com/vanta-vault/vanta/internal/manifest"
	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vaultcrypto"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// State is the vault's tri-state lifecycle tag.
type State int

const (
	Uninitialized State = iota
	Locked
	Unlocked
)

const sessionTokenLen = 32 // bytes; ≥128 bits of entropy per spec.md §4.5

// Vault holds the DEK and session token only while Unlocked, guarded by a
// lock independent of the manifest's own lock (spec.md §5).
type Vault struct {
	mu     sync.RWMutex
	state  State
	dek    []byte
	token  []byte
	params vaultcrypto.Argon2Params

	st       *store.Store
	manifest *manifest.Manifest
}

// New inspects the store for an existing envelope to determine the
// initial state (Uninitialized or Locked) and returns a Vault ready to be
// unlocked.
func New(st *store.Store, mf *manifest.Manifest, params vaultcrypto.Argon2Params) *Vault {
	state := Uninitialized
	if st.EnvelopeExists() {
		state = Locked
	}
	return &Vault{state: state, params: params, st: st, manifest: mf}
}

// Status is the response shape for GET /api/status.
type Status struct {
	Initialized   bool `json:"initialized"`
	Unlocked      bool `json:"unlocked"`
	Authenticated bool `json:"authenticated"`
}

// Status reports the current lifecycle state without requiring a token.
func (v *Vault) Status() Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	unlocked := v.state == Unlocked
	return Status{
		Initialized:   v.state != Uninitialized,
		Unlocked:      unlocked,
		Authenticated: unlocked,
	}
}

// Initialize seals a fresh DEK under password and transitions
// Uninitialized → Locked → (immediately) Unlocked with a new session,
// refusing if an envelope already exists.
func (v *Vault) Initialize(password []byte) (sessionToken string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Uninitialized {
		return "", fmt.Errorf("vault: already initialized: %w", vaulterrors.ErrAlreadyInit)
	}

	envelope, dek, err := vaultcrypto.NewEnvelope(password, v.params)
	if err != nil {
		return "", err
	}
	if err := v.st.WriteEnvelope(envelope); err != nil {
		return "", err
	}

	if err := v.manifest.Load(dek); err != nil {
		return "", err
	}

	v.state = Unlocked
	v.dek = dek
	return v.newSessionLocked()
}

// Unlock derives the KEK, opens the DEK, and — only if the manifest also
// decrypts successfully — transitions Locked → Unlocked with a fresh
// session token. A failure at any step leaves the vault Locked.
func (v *Vault) Unlock(password []byte) (sessionToken string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case Uninitialized:
		return "", fmt.Errorf("vault: not initialized: %w", vaulterrors.ErrNotInitialized)
	case Unlocked:
		return "", fmt.Errorf("vault: already unlocked: %w", vaulterrors.ErrAlreadyInit)
	}

	envelope, err := v.st.ReadEnvelope()
	if err != nil {
		return "", err
	}
	dek, err := vaultcrypto.OpenEnvelope(envelope, password)
	if err != nil {
		return "", err
	}

	if err := v.manifest.Load(dek); err != nil {
		vaultcrypto.Zero(dek)
		return "", err
	}

	v.state = Unlocked
	v.dek = dek
	return v.newSessionLocked()
}

// Lock zeroizes the DEK, drops the manifest from memory, and discards the
// session token. Per spec.md §4.5, logout is an alias for this.
func (v *Vault) Lock() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return nil // idempotent: locking an already-locked vault is a no-op
	}

	vaultcrypto.Zero(v.dek)
	v.dek = nil
	v.token = nil
	v.state = Locked
	v.manifest.Reset()
	runtime.GC()
	return nil
}

func (v *Vault) newSessionLocked() (string, error) {
	tok := make([]byte, sessionTokenLen)
	if _, err := rand.Read(tok); err != nil {
		return "", fmt.Errorf("vault: generating session token: %w", vaulterrors.ErrIoFailure)
	}
	v.token = tok
	return hex.EncodeToString(tok), nil
}

// VerifyToken reports whether presented (hex-encoded) matches the current
// session token, in constant time, and that the vault is Unlocked.
func (v *Vault) VerifyToken(presented string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.state != Unlocked || v.token == nil {
		return false
	}
	decoded, err := hex.DecodeString(presented)
	if err != nil || len(decoded) != len(v.token) {
		return false
	}
	return subtle.ConstantTimeCompare(decoded, v.token) == 1
}

// DEK returns the current data-encryption key. Callers must hold a valid
// session (checked upstream by internal/session's gate) before calling
// this; it returns ErrLocked if the vault is not Unlocked.
func (v *Vault) DEK() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != Unlocked {
		return nil, fmt.Errorf("vault: %w", vaulterrors.ErrLocked)
	}
	return v.dek, nil
}

// Manifest exposes the manifest for read-side operations (listing,
// tag queries) that don't need the DEK directly.
func (v *Vault) Manifest() *manifest.Manifest { return v.manifest }
