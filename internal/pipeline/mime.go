// Package pipeline implements the image ingestion pipeline of spec.md
// §4.6: MIME validation, decode, thumbnail/high/original variant
// production, and the bounded worker pool that keeps this CPU-bound work
// off the HTTP request goroutine.
//
// Grounded on frnd1406-NasServer's src/services/file_validation.go
// (magic-number + MIME whitelist pattern) narrowed to the six image MIME
// types spec.md names, and on services/content/storage_manager.go's
// streaming-save pipeline shape. The decode/resize step has no teacher
// analogue; golang.org/x/image is grounded via the retrieval pack's
// manifests/ (rupor-github-fb2cng, HerbHall-subnetree, go-i2p-newsgo all
// depend on it for webp decode).
package pipeline

import (
	"fmt"

	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// AllowedMimeTypes is the whitelist from spec.md §4.6 step 1.
var AllowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/avif": true,
	"image/gif":  true,
	"image/jxl":  true,
}

// ValidateMime rejects anything outside the six-format whitelist.
func ValidateMime(mime string) error {
	if !AllowedMimeTypes[mime] {
		return fmt.Errorf("pipeline: unsupported mime %q: %w", mime, vaulterrors.ErrInvalidInput)
	}
	return nil
}

// ValidateSize enforces the configured (default 50 MiB) upload cap.
func ValidateSize(size int64, maxBytes int64) error {
	if size > maxBytes {
		return fmt.Errorf("pipeline: upload of %d bytes exceeds cap of %d: %w", size, maxBytes, vaulterrors.ErrInvalidInput)
	}
	return nil
}
