package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/webp"

	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// decodeFunc decodes raw bytes into a raster image, reporting whether the
// source was a multi-frame (animated) container — in which case only the
// first frame has been decoded, per spec.md §4.6 step 4.
type decodeFunc func(data []byte) (img image.Image, animated bool, err error)

// decoders is the per-MIME dispatch table spec.md §9's design note calls
// for ("the image decoder fans out to per-format routines by MIME tag;
// implement as a tagged match"). image/avif and image/jxl pass the
// whitelist in mime.go but have no entry here — see DESIGN.md's Open
// Question resolution: no groundable pure-Go codec exists for either in
// the teacher or the wider retrieval pack.
var decoders = map[string]decodeFunc{
	"image/jpeg": func(data []byte) (image.Image, bool, error) {
		img, err := jpeg.Decode(bytes.NewReader(data))
		return img, false, err
	},
	"image/png": func(data []byte) (image.Image, bool, error) {
		img, err := png.Decode(bytes.NewReader(data))
		return img, false, err
	},
	"image/gif": func(data []byte) (image.Image, bool, error) {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, false, err
		}
		return g.Image[0], len(g.Image) > 1, nil
	},
	"image/webp": func(data []byte) (image.Image, bool, error) {
		img, err := webp.Decode(bytes.NewReader(data))
		return img, false, err
	},
}

// decode dispatches to the registered decoder for mime, or reports
// InvalidInput naming the unsupported codec.
func decode(mime string, data []byte) (image.Image, bool, error) {
	fn, ok := decoders[mime]
	if !ok {
		return nil, false, fmt.Errorf("pipeline: no decoder wired for %s: %w", mime, vaulterrors.ErrInvalidInput)
	}
	img, animated, err := fn(data)
	if err != nil {
		return nil, false, fmt.Errorf("pipeline: decoding %s: %w", mime, vaulterrors.ErrInvalidInput)
	}
	return img, animated, nil
}
