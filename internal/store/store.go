// Package store implements the encrypted content-addressed file store:
// atomic writes, a fixed blobs/<id>/<variant>.enc layout, and the
// envelope/manifest files that sit alongside it.
//
// Grounded on frnd1406-NasServer's src/drivers/storage/local_store.go
// (path sanitization, directory layout) generalized from arbitrary
// relative paths to (id, variant) addressing, and hardened with the
// tmp-then-fsync-then-rename discipline spec.md §4.3 requires — the
// teacher's own WriteFile does a direct os.Create+io.Copy with no such
// discipline, so this part is authored fresh in the teacher's idiom.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// Variant names the three forms an image entry may persist.
type Variant string

const (
	VariantThumbnail Variant = "thumbnail"
	VariantHigh      Variant = "high"
	VariantOriginal  Variant = "original"
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewID generates a fresh 128-bit image id, per spec.md §4.6 step 7: a
// random google/uuid reformatted to the lowercase 32-hex-digit form
// idPattern expects (the canonical UUID string form's hyphens are
// stripped, not part of the identity).
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Store roots all reads/writes under a single vault directory.
type Store struct {
	root string
}

// New creates (if needed) the vault root and its blobs/ subdirectory and
// returns a Store rooted there.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("store: resolving root: %w", vaulterrors.ErrIoFailure)
	}
	if err := os.MkdirAll(filepath.Join(abs, "blobs"), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating vault root: %w", vaulterrors.ErrIoFailure)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute vault root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) blobPath(id string, variant Variant) (string, error) {
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("store: invalid id %q: %w", id, vaulterrors.ErrInvalidInput)
	}
	switch variant {
	case VariantThumbnail, VariantHigh, VariantOriginal:
	default:
		return "", fmt.Errorf("store: unknown variant %q: %w", variant, vaulterrors.ErrNotFound)
	}
	return filepath.Join(s.root, "blobs", id, string(variant)+".enc"), nil
}

// atomicWrite writes data to <path>.tmp, fsyncs it, then renames it over
// path. The destination directory is created if missing.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("store: creating directory: %w", vaulterrors.ErrIoFailure)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", vaulterrors.ErrIoFailure)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: writing temp file: %w", vaulterrors.ErrIoFailure)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: fsyncing temp file: %w", vaulterrors.ErrIoFailure)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: closing temp file: %w", vaulterrors.ErrIoFailure)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: renaming into place: %w", vaulterrors.ErrIoFailure)
	}
	return nil
}

// fsyncDir fsyncs a directory's own entry so a preceding rename into it is
// durable, not just visible.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("store: opening directory for fsync: %w", vaulterrors.ErrIoFailure)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("store: fsyncing directory: %w", vaulterrors.ErrIoFailure)
	}
	return nil
}

// WriteBlob atomically writes an already-codec-framed record for one
// (id, variant).
func (s *Store) WriteBlob(id string, variant Variant, record []byte) error {
	path, err := s.blobPath(id, variant)
	if err != nil {
		return err
	}
	return atomicWrite(path, record)
}

// ReadBlob reads the raw (still codec-framed) bytes of one (id, variant).
func (s *Store) ReadBlob(id string, variant Variant) ([]byte, error) {
	path, err := s.blobPath(id, variant)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: blob %s/%s: %w", id, variant, vaulterrors.ErrNotFound)
		}
		return nil, fmt.Errorf("store: reading blob: %w", vaulterrors.ErrIoFailure)
	}
	return data, nil
}

// HasBlob reports whether a given (id, variant) blob exists on disk.
func (s *Store) HasBlob(id string, variant Variant) bool {
	path, err := s.blobPath(id, variant)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// DeleteEntryBlobs removes the entire blobs/<id>/ directory, used for both
// cover-entry and linked-sub-entry deletion.
func (s *Store) DeleteEntryBlobs(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("store: invalid id %q: %w", id, vaulterrors.ErrInvalidInput)
	}
	if err := os.RemoveAll(filepath.Join(s.root, "blobs", id)); err != nil {
		return fmt.Errorf("store: deleting blobs for %s: %w", id, vaulterrors.ErrIoFailure)
	}
	return nil
}

// WriteManifest atomically writes manifest.enc and additionally fsyncs the
// vault root directory, so the rename itself is durable.
func (s *Store) WriteManifest(record []byte) error {
	path := filepath.Join(s.root, "manifest.enc")
	if err := atomicWrite(path, record); err != nil {
		return err
	}
	return fsyncDir(s.root)
}

// ReadManifest reads manifest.enc. ok is false if the file does not yet
// exist (an empty vault), which is not an error.
func (s *Store) ReadManifest() (record []byte, ok bool, err error) {
	path := filepath.Join(s.root, "manifest.enc")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: reading manifest: %w", vaulterrors.ErrIoFailure)
	}
	return data, true, nil
}

func (s *Store) envelopePath() string {
	return filepath.Join(s.root, "envelope.bin")
}

// EnvelopeExists reports whether this vault has been initialized.
func (s *Store) EnvelopeExists() bool {
	_, err := os.Stat(s.envelopePath())
	return err == nil
}

// WriteEnvelope atomically writes envelope.bin. It is not codec-framed —
// it is itself the self-describing salt/params/wrapped-DEK record.
func (s *Store) WriteEnvelope(data []byte) error {
	if err := atomicWrite(s.envelopePath(), data); err != nil {
		return err
	}
	return fsyncDir(s.root)
}

// ReadEnvelope reads envelope.bin. Returns ErrNotFound if absent.
func (s *Store) ReadEnvelope() ([]byte, error) {
	data, err := os.ReadFile(s.envelopePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: envelope: %w", vaulterrors.ErrNotFound)
		}
		return nil, fmt.Errorf("store: reading envelope: %w", vaulterrors.ErrIoFailure)
	}
	return data, nil
}
