package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

const (
	thumbnailBox     = 400
	highBox          = 2048
	thumbnailQuality = 75
	highQuality      = 85
)

// VariantData is one produced variant's plaintext bytes and the
// content-type it was actually encoded as.
type VariantData struct {
	Bytes       []byte
	ContentType string
}

// Product is everything the image pipeline produces for one upload,
// ready to be encrypted (internal/vaultcrypto) and persisted
// (internal/store), then committed to the manifest.
type Product struct {
	OriginalMime string
	OriginalSize int64
	Variants     map[store.Variant]VariantData
}

// boxFit computes dimensions that fit (w, h) inside a box x box square,
// preserving aspect ratio, never upscaling.
func boxFit(w, h, box int) (int, int) {
	if w <= box && h <= box {
		return w, h
	}
	if w >= h {
		return box, int(float64(h) * float64(box) / float64(w))
	}
	return int(float64(w) * float64(box) / float64(h)), box
}

func resize(img image.Image, box int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := boxFit(w, h, box)
	if nw == w && nh == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("pipeline: encoding jpeg: %w", vaulterrors.ErrIoFailure)
	}
	return buf.Bytes(), nil
}

// isHighEligibleForAlias reports the §4.6-step-5 condition under which
// `high` aliases `original` instead of a second resize/encode pass: the
// source already fits the high box and is a single-frame WebP or JPEG.
func isHighEligibleForAlias(mime string, animated bool, w, h int) bool {
	if animated {
		return false
	}
	if mime != "image/webp" && mime != "image/jpeg" {
		return false
	}
	return w <= highBox && h <= highBox
}

// Process decodes original (tagged by mime), and produces thumbnail/high/
// original variants per spec.md §4.6 steps 3-6. This is pure CPU-bound
// work with no I/O; callers run it through internal/pipeline's worker
// pool so it never executes on the request goroutine.
func Process(mime string, original []byte) (Product, error) {
	img, animated, err := decode(mime, original)
	if err != nil {
		return Product{}, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	thumbImg := resize(img, thumbnailBox)
	thumbBytes, err := encodeJPEG(thumbImg, thumbnailQuality)
	if err != nil {
		return Product{}, err
	}

	variants := map[store.Variant]VariantData{
		store.VariantThumbnail: {Bytes: thumbBytes, ContentType: "image/jpeg"},
		store.VariantOriginal:  {Bytes: original, ContentType: mime},
	}

	if isHighEligibleForAlias(mime, animated, w, h) {
		variants[store.VariantHigh] = VariantData{Bytes: original, ContentType: mime}
	} else {
		highImg := resize(img, highBox)
		highBytes, err := encodeJPEG(highImg, highQuality)
		if err != nil {
			return Product{}, err
		}
		variants[store.VariantHigh] = VariantData{Bytes: highBytes, ContentType: "image/jpeg"}
	}

	return Product{
		OriginalMime: mime,
		OriginalSize: int64(len(original)),
		Variants:     variants,
	}, nil
}
