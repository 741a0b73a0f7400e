package pipeline

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// onePixelPNG is the literal 67-byte 1x1 PNG from spec.md §8 scenario 3.
const onePixelPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAAAAAA6fptVAAAACklEQVR42mNgAAAAAgAB5Sfe/AAAAABJRU5ErkJggg=="

func onePixelPNG(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(onePixelPNGBase64)
	require.NoError(t, err)
	return data
}

func TestValidateMimeWhitelist(t *testing.T) {
	assert.NoError(t, ValidateMime("image/png"))
	assert.NoError(t, ValidateMime("image/avif"))
	err := ValidateMime("application/pdf")
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidInput)
}

func TestValidateSizeCap(t *testing.T) {
	assert.NoError(t, ValidateSize(1024, 50*1024*1024))
	err := ValidateSize(51*1024*1024, 50*1024*1024)
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidInput)
}

func TestProcessOnePixelPNGProducesAllThreeVariants(t *testing.T) {
	data := onePixelPNG(t)
	product, err := Process("image/png", data)
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), product.OriginalSize)
	assert.Equal(t, data, product.Variants[store.VariantOriginal].Bytes)
	assert.NotEmpty(t, product.Variants[store.VariantThumbnail].Bytes)
	assert.NotEmpty(t, product.Variants[store.VariantHigh].Bytes)
}

func TestProcessRejectsUndecodableBytes(t *testing.T) {
	_, err := Process("image/jpeg", []byte("not an image"))
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidInput)
}

func TestProcessNoDecoderForAvif(t *testing.T) {
	_, err := Process("image/avif", []byte{0, 1, 2, 3})
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidInput)
}

func TestHighNotAliasedForSmallPNG(t *testing.T) {
	// The 1x1 PNG decodes to 1x1, well under the 2048x2048 high box, but
	// PNG isn't alias-eligible (only WebP/JPEG are) so it still re-encodes.
	data := onePixelPNG(t)
	product, err := Process("image/png", data)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", product.Variants[store.VariantHigh].ContentType)
}

func TestPoolSubmitReturnsJobResult(t *testing.T) {
	pool := NewPool(2)
	ctx := context.Background()

	data := onePixelPNG(t)
	product, err := pool.Submit(ctx, func() (Product, error) {
		return Process("image/png", data)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, product.Variants[store.VariantThumbnail].Bytes)
}
