// Package linkset manages linked sub-entries grouped under a cover image
// (spec.md §4.7): attach runs a second image through the same ingest path
// as a top-level upload but files it under an existing cover instead of the
// catalog root; zip_download streams cover + linked originals together.
//
// The streamed, uncompressed ZIP is grounded on frnd1406-NasServer's
// handlers/vault.go VaultExportConfigHandler, which builds an
// archive/zip.Writer over an in-memory buffer — generalized here from a
// config-file export to an image-originals export written straight to the
// destination writer, and switched from DEFLATE to Store method since
// the bytes are already opaque ciphertext-derived plaintext with nothing
// left to compress.
package linkset

import (
	"archive/zip"
	"context"
	"fmt"
	"io"

	"github.com/vanta-vault/vanta/internal/ingest"
	"github.com/vanta-vault/vanta/internal/manifest"
	"github.com/vanta-vault/vanta/internal/pipeline"
	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vaultcrypto"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// Manager wires the manifest, store, and pipeline pool needed to operate on
// linked sub-entries.
type Manager struct {
	mf   *manifest.Manifest
	st   *store.Store
	pool *pipeline.Pool
	max  int64
}

// New returns a Manager. maxUploadBytes bounds linked-image uploads the
// same way it bounds top-level uploads.
func New(mf *manifest.Manifest, st *store.Store, pool *pipeline.Pool, maxUploadBytes int64) *Manager {
	return &Manager{mf: mf, st: st, pool: pool, max: maxUploadBytes}
}

// Attach ingests data as a new linked sub-entry of coverID. Per spec.md
// §4.7, a linked entry carries no tags and cannot itself have linked
// images — only ID/mime/size/created_at/variants are recorded.
func (m *Manager) Attach(ctx context.Context, dek []byte, coverID, mime string, data []byte) (manifest.LinkedEntry, error) {
	if _, err := m.mf.Get(coverID); err != nil {
		return manifest.LinkedEntry{}, err
	}

	result, err := ingest.Run(ctx, m.pool, m.st, dek, mime, data, m.max)
	if err != nil {
		return manifest.LinkedEntry{}, err
	}

	linked := manifest.LinkedEntry{
		ID:           result.ID,
		OriginalMime: result.OriginalMime,
		OriginalSize: result.OriginalSize,
		CreatedAt:    result.CreatedAt,
		Variants:     result.Variants,
		VariantTypes: result.VariantTypes,
	}

	if err := m.mf.AttachLinked(dek, coverID, linked); err != nil {
		// The ingest already wrote blobs under result.ID; since the
		// manifest commit failed the catalog never references them, so
		// clean them up rather than leaving orphaned ciphertext behind.
		_ = m.st.DeleteEntryBlobs(result.ID)
		return manifest.LinkedEntry{}, err
	}
	return linked, nil
}

// Detach removes a linked sub-entry from its cover and deletes its blobs.
func (m *Manager) Detach(dek []byte, coverID, subID string) error {
	return m.mf.DetachLinked(dek, coverID, subID)
}

// ZipDownload streams a ZIP-stored (uncompressed) archive containing the
// decrypted original bytes of the cover entry and every linked sub-entry,
// in order, named "0.<ext>", "1.<ext>", ... per spec.md §4.7.
func (m *Manager) ZipDownload(dek []byte, coverID string, w io.Writer) error {
	cover, err := m.mf.Get(coverID)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	if err := writeOriginal(zw, m.st, dek, cover.ID, cover.OriginalMime, 0); err != nil {
		_ = zw.Close()
		return err
	}
	for i, linked := range cover.LinkedImages {
		if err := writeOriginal(zw, m.st, dek, linked.ID, linked.OriginalMime, i+1); err != nil {
			_ = zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("linkset: finalizing archive: %w", vaulterrors.ErrIoFailure)
	}
	return nil
}

func writeOriginal(zw *zip.Writer, st *store.Store, dek []byte, id, mime string, index int) error {
	record, err := st.ReadBlob(id, store.VariantOriginal)
	if err != nil {
		return err
	}
	plaintext, err := vaultcrypto.Decrypt(dek, record)
	if err != nil {
		return err
	}

	header := &zip.FileHeader{
		Name:   fmt.Sprintf("%d%s", index, extensionFor(mime)),
		Method: zip.Store,
	}
	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("linkset: creating archive entry: %w", vaulterrors.ErrIoFailure)
	}
	if _, err := entry.Write(plaintext); err != nil {
		return fmt.Errorf("linkset: writing archive entry: %w", vaulterrors.ErrIoFailure)
	}
	return nil
}

var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/avif": ".avif",
	"image/jxl":  ".jxl",
}

func extensionFor(mime string) string {
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	return ".bin"
}
