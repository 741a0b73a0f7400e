// Package ingest runs an uploaded image through the decode/resize pipeline,
// encrypts every resulting variant, and writes it to the blob store — the
// one on-disk side effect shared by top-level uploads (internal/handlers)
// and linked-set attachments (internal/linkset).
//
// No single teacher file does this; it is the glue between
// frnd1406-NasServer's storage-then-catalog ordering in handlers/files and
// this vault's own internal/pipeline, internal/store, internal/vaultcrypto.
package ingest

import (
	"context"
	"time"

	"github.com/vanta-vault/vanta/internal/pipeline"
	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vaultcrypto"
)

// Result is everything a manifest entry (cover or linked) needs after a
// successful ingest.
type Result struct {
	ID           string
	OriginalMime string
	OriginalSize int64
	CreatedAt    int64
	Variants     []string
	// VariantTypes maps each name in Variants to the content-type actually
	// encoded for it. The high variant can alias the original byte-for-byte
	// (see pipeline.Process), so this is not always "image/jpeg".
	VariantTypes map[string]string
}

// Run validates, decodes/resizes (via pool, off the caller's goroutine),
// encrypts, and persists every variant for one upload, returning the
// manifest-ready metadata. The image is assigned a fresh id.
func Run(ctx context.Context, pool *pipeline.Pool, st *store.Store, dek []byte, mime string, data []byte, maxBytes int64) (Result, error) {
	if err := pipeline.ValidateMime(mime); err != nil {
		return Result{}, err
	}
	if err := pipeline.ValidateSize(int64(len(data)), maxBytes); err != nil {
		return Result{}, err
	}

	product, err := pool.Submit(ctx, func() (pipeline.Product, error) {
		return pipeline.Process(mime, data)
	})
	if err != nil {
		return Result{}, err
	}

	id := store.NewID()
	variants := make([]string, 0, len(product.Variants))
	variantTypes := make(map[string]string, len(product.Variants))
	for variant, vd := range product.Variants {
		record, err := vaultcrypto.Encrypt(dek, vd.Bytes)
		if err != nil {
			_ = st.DeleteEntryBlobs(id)
			return Result{}, err
		}
		if err := st.WriteBlob(id, variant, record); err != nil {
			// Per spec.md §4.6 step 7-8: a failure after blobs have
			// started landing on disk must not leave partial
			// blobs/<id>/*.enc behind for an id the manifest will
			// never reference.
			_ = st.DeleteEntryBlobs(id)
			return Result{}, err
		}
		variants = append(variants, string(variant))
		variantTypes[string(variant)] = vd.ContentType
	}

	return Result{
		ID:           id,
		OriginalMime: product.OriginalMime,
		OriginalSize: product.OriginalSize,
		CreatedAt:    time.Now().Unix(),
		Variants:     variants,
		VariantTypes: variantTypes,
	}, nil
}
