package vaultcrypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

var envelopeMagic = [4]byte{'V', 'N', 'T', 'E'}

const envelopeVersion byte = 1

const (
	saltLen      = 16
	wrapNonceLen = 24 // chacha20poly1305.NonceSizeX
	wrapTagLen   = 16 // chacha20poly1305.Overhead
)

// EnvelopeLen is the exact, fixed on-disk size of envelope.bin per
// spec.md §6: magic(4) ∥ version(1) ∥ kdf_id(1) ∥ mem_kib(4) ∥ iters(4) ∥
// parallelism(1) ∥ salt(16) ∥ wrap_nonce(24) ∥ wrapped_dek(32) ∥ wrap_tag(16).
const EnvelopeLen = 4 + 1 + 1 + 4 + 4 + 1 + saltLen + wrapNonceLen + dekKeyLen + wrapTagLen

// NewEnvelope generates a fresh 32-byte DEK, derives a KEK from password
// under params with a freshly-random salt, wraps the DEK, and returns the
// bit-exact envelope bytes alongside the plaintext DEK.
func NewEnvelope(password []byte, params Argon2Params) (envelope []byte, dek []byte, err error) {
	if params.Iterations < 1 || params.Parallelism < 1 {
		return nil, nil, fmt.Errorf("vaultcrypto: argon2 parameters below minimum: %w", vaulterrors.ErrInvalidInput)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("vaultcrypto: generating salt: %w", vaulterrors.ErrIoFailure)
	}

	dek = make([]byte, dekKeyLen)
	if _, err := rand.Read(dek); err != nil {
		return nil, nil, fmt.Errorf("vaultcrypto: generating dek: %w", vaulterrors.ErrIoFailure)
	}

	kek := deriveKEK(password, salt, params)
	defer Zero(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, nil, fmt.Errorf("vaultcrypto: constructing wrap cipher: %w", vaulterrors.ErrIoFailure)
	}

	nonce := make([]byte, wrapNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("vaultcrypto: generating wrap nonce: %w", vaulterrors.ErrIoFailure)
	}

	sealed := aead.Seal(nil, nonce, dek, nil) // wrapped_dek(32) ∥ wrap_tag(16)

	buf := make([]byte, 0, EnvelopeLen)
	buf = append(buf, envelopeMagic[:]...)
	buf = append(buf, envelopeVersion)
	buf = append(buf, KDFArgon2id)
	buf = binary.LittleEndian.AppendUint32(buf, params.MemoryKiB)
	buf = binary.LittleEndian.AppendUint32(buf, params.Iterations)
	buf = append(buf, params.Parallelism)
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)

	return buf, dek, nil
}

// ValidateEnvelopeStructure checks only the length and magic bytes of an
// envelope — no password required. cmd/vanta calls this eagerly at startup
// so a corrupt envelope.bin fails fast with a distinct exit code instead of
// surfacing later as a confusing ErrWrongPassword on first unlock.
func ValidateEnvelopeStructure(envelope []byte) error {
	if len(envelope) != EnvelopeLen || [4]byte(envelope[:4]) != envelopeMagic {
		return fmt.Errorf("vaultcrypto: malformed envelope: %w", vaulterrors.ErrManifestCorrupt)
	}
	return nil
}

// OpenEnvelope derives the KEK from password using the envelope's stored
// parameters and unwraps the DEK. Any failure — bad password, truncated
// envelope, or a tampered tag — is reported as ErrWrongPassword with the
// same message. A bad password and a tampered salt, nonce or tag all run
// the full key derivation and fail at the same AEAD open; a structurally
// malformed envelope (wrong length or magic, zero iterations or
// parallelism) is rejected before key derivation and so returns sooner.
func OpenEnvelope(envelope []byte, password []byte) (dek []byte, err error) {
	if len(envelope) != EnvelopeLen || [4]byte(envelope[:4]) != envelopeMagic {
		return nil, fmt.Errorf("vaultcrypto: opening envelope: %w", vaulterrors.ErrWrongPassword)
	}

	off := 4
	_ = envelope[off] // version, not branched on: only one version exists
	off++
	_ = envelope[off] // kdf_id, not branched on: only Argon2id is wired
	off++

	memKiB := binary.LittleEndian.Uint32(envelope[off : off+4])
	off += 4
	iters := binary.LittleEndian.Uint32(envelope[off : off+4])
	off += 4
	parallel := envelope[off]
	off++

	salt := envelope[off : off+saltLen]
	off += saltLen
	nonce := envelope[off : off+wrapNonceLen]
	off += wrapNonceLen
	sealed := envelope[off : off+dekKeyLen+wrapTagLen]

	// argon2.IDKey panics on zero iterations or parallelism; a tampered
	// parameter byte must surface as the same WrongPassword as a bad tag.
	if iters < 1 || parallel < 1 {
		return nil, fmt.Errorf("vaultcrypto: opening envelope: %w", vaulterrors.ErrWrongPassword)
	}

	params := Argon2Params{MemoryKiB: memKiB, Iterations: iters, Parallelism: parallel}
	kek := deriveKEK(password, salt, params)
	defer Zero(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: constructing wrap cipher: %w", vaulterrors.ErrWrongPassword)
	}

	dek, err = aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: opening envelope: %w", vaulterrors.ErrWrongPassword)
	}
	return dek, nil
}
