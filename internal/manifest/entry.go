// Package manifest implements the in-memory catalog of image entries: the
// sole source of truth for image identity, variants, tags, and linked-set
// membership, persisted as one codec-framed file.
//
// No single teacher file does manifest serialization; the record framing
// follows the JSON-tagged model idiom of frnd1406-NasServer's
// models/file.go, and the staged-write/rollback discipline is grounded on
// spec.md §4.4 itself, implemented with internal/store's atomic rewrite
// and internal/vaultcrypto's codec.
package manifest

// LinkedEntry is a secondary image grouped under a cover entry. It carries
// no tags of its own and no nested linking.
type LinkedEntry struct {
	ID           string            `json:"id"`
	OriginalMime string            `json:"original_mime"`
	OriginalSize int64             `json:"original_size"`
	CreatedAt    int64             `json:"created_at"`
	Variants     []string          `json:"variants"`
	// VariantTypes maps a name in Variants to the content-type actually
	// encoded for it. The high variant can alias the original byte-for-byte,
	// so this is not always "image/jpeg" — serveVariant reads it instead of
	// guessing.
	VariantTypes map[string]string `json:"variant_content_types"`
}

// ImageEntry is one top-level (cover) catalog record.
type ImageEntry struct {
	ID           string            `json:"id"`
	OriginalMime string            `json:"original_mime"`
	OriginalSize int64             `json:"original_size"`
	CreatedAt    int64             `json:"created_at"`
	Variants     []string          `json:"variants"`
	VariantTypes map[string]string `json:"variant_content_types"`
	Tags         []string          `json:"tags"`
	LinkedImages []LinkedEntry     `json:"linked_images"`
}

// clone returns a deep copy so callers mutating a returned entry never
// touch the manifest's own state.
func (e ImageEntry) clone() ImageEntry {
	c := e
	c.Variants = append([]string(nil), e.Variants...)
	c.VariantTypes = cloneVariantTypes(e.VariantTypes)
	c.Tags = append([]string(nil), e.Tags...)
	c.LinkedImages = append([]LinkedEntry(nil), e.LinkedImages...)
	for i := range c.LinkedImages {
		c.LinkedImages[i].Variants = append([]string(nil), e.LinkedImages[i].Variants...)
		c.LinkedImages[i].VariantTypes = cloneVariantTypes(e.LinkedImages[i].VariantTypes)
	}
	return c
}

func cloneVariantTypes(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// HasTag reports whether the entry carries the given (already normalized)
// tag.
func (e ImageEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
