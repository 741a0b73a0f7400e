// Package vaultcrypto implements the cryptographic vault state machine's
// hard core: Argon2id key derivation, the DEK envelope, and the
// authenticated stream codec used for every blob and the manifest.
//
// Grounded on frnd1406-NasServer's src/services/encryption_service.go
// (Argon2id-derives-KEK, AEAD-wraps-DEK shape) and
// allisson-secrets's internal/crypto/service (dedicated AEAD cipher
// wrapper, explicit key zeroing).
package vaultcrypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// codecMagic versions the stream codec's on-disk framing so a future
// algorithm migration can be distinguished from this one.
var codecMagic = [4]byte{'V', 'N', 'T', '1'}

const keySize = chacha20poly1305.KeySize // 32

// Encrypt seals plaintext under dek with a fresh random nonce and an empty
// associated-data value, returning magic ∥ nonce ∥ ciphertext ∥ tag.
func Encrypt(dek []byte, plaintext []byte) ([]byte, error) {
	if len(dek) != keySize {
		return nil, fmt.Errorf("vaultcrypto: dek must be %d bytes: %w", keySize, vaulterrors.ErrIoFailure)
	}
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: constructing cipher: %w", vaulterrors.ErrIoFailure)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vaultcrypto: generating nonce: %w", vaulterrors.ErrIoFailure)
	}

	out := make([]byte, 0, 4+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, codecMagic[:]...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt opens a record produced by Encrypt. Any tamper, truncation, or
// key mismatch surfaces as ErrCorruptBlob, never a silently wrong plaintext.
func Decrypt(dek []byte, record []byte) ([]byte, error) {
	if len(dek) != keySize {
		return nil, fmt.Errorf("vaultcrypto: dek must be %d bytes: %w", keySize, vaulterrors.ErrIoFailure)
	}
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: constructing cipher: %w", vaulterrors.ErrIoFailure)
	}

	minLen := 4 + aead.NonceSize()
	if len(record) < minLen || [4]byte(record[:4]) != codecMagic {
		return nil, fmt.Errorf("vaultcrypto: malformed record: %w", vaulterrors.ErrCorruptBlob)
	}

	nonce := record[4:minLen]
	ciphertext := record[minLen:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: integrity check failed: %w", vaulterrors.ErrCorruptBlob)
	}
	return plaintext, nil
}

// Zero overwrites a key buffer in place: a pass of 0xFF then a pass of
// 0x00, matching the teacher's multi-pass DEK wipe in encryption_service.go.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0xFF
	}
	for i := range b {
		b[i] = 0x00
	}
}
