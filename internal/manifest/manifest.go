package manifest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vaultcrypto"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// fileFormat is the document serialized, codec-encrypted, and atomically
// written as manifest.enc. Entries is a slice (not a map) so JSON
// preserves insertion order for free; unknown top-level JSON fields are
// tolerated implicitly by encoding/json's default unmarshal behavior.
type fileFormat struct {
	Entries []ImageEntry `json:"entries"`
}

// Manifest is the single in-memory id→entry mapping described in
// spec.md §4.4. All mutating operations take a single write lock;
// readers take a shared lock and never observe a half-applied mutation,
// per spec.md §5.
type Manifest struct {
	mu      sync.RWMutex
	st      *store.Store
	entries map[string]*ImageEntry
	order   []string
}

// New returns an empty manifest rooted at st. Call Load to populate it
// from an existing encrypted manifest.enc.
func New(st *store.Store) *Manifest {
	return &Manifest{
		st:      st,
		entries: make(map[string]*ImageEntry),
	}
}

// Load decrypts and deserializes manifest.enc under dek. A missing file is
// treated as an empty manifest, not an error, per spec.md §4.5.
func (m *Manifest) Load(dek []byte) error {
	record, ok, err := m.st.ReadManifest()
	if err != nil {
		return err
	}
	if !ok {
		m.mu.Lock()
		m.entries = make(map[string]*ImageEntry)
		m.order = nil
		m.mu.Unlock()
		return nil
	}

	plaintext, err := vaultcrypto.Decrypt(dek, record)
	if err != nil {
		return fmt.Errorf("manifest: decrypting: %w", vaulterrors.ErrManifestCorrupt)
	}

	var doc fileFormat
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return fmt.Errorf("manifest: deserializing: %w", vaulterrors.ErrManifestCorrupt)
	}

	entries := make(map[string]*ImageEntry, len(doc.Entries))
	order := make([]string, 0, len(doc.Entries))
	for i := range doc.Entries {
		e := doc.Entries[i]
		entries[e.ID] = &e
		order = append(order, e.ID)
	}

	m.mu.Lock()
	m.entries = entries
	m.order = order
	m.mu.Unlock()
	return nil
}

// Reset drops the in-memory catalog, called on lock/logout.
func (m *Manifest) Reset() {
	m.mu.Lock()
	m.entries = make(map[string]*ImageEntry)
	m.order = nil
	m.mu.Unlock()
}

// Get returns a deep copy of one entry.
func (m *Manifest) Get(id string) (ImageEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return ImageEntry{}, fmt.Errorf("manifest: entry %s: %w", id, vaulterrors.ErrNotFound)
	}
	return e.clone(), nil
}

// Snapshot returns a deep copy of every cover entry, in manifest order.
func (m *Manifest) Snapshot() []ImageEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ImageEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].clone())
	}
	return out
}

// locatedLinked finds which cover (if any) owns a given linked sub-id.
func locatedLinked(entries map[string]*ImageEntry, subID string) (coverID string, idx int, ok bool) {
	for _, e := range entries {
		for i, l := range e.LinkedImages {
			if l.ID == subID {
				return e.ID, i, true
			}
		}
	}
	return "", -1, false
}

// cloneLocked must be called with mu held; it returns a deep copy of the
// current entries map and order slice to stage a candidate mutation.
func (m *Manifest) cloneLocked() (map[string]*ImageEntry, []string) {
	entries := make(map[string]*ImageEntry, len(m.entries))
	for id, e := range m.entries {
		ce := e.clone()
		entries[id] = &ce
	}
	order := append([]string(nil), m.order...)
	return entries, order
}

// persist serializes candidate entries/order, encrypts under dek, and
// atomically rewrites manifest.enc. It does not touch m.entries/m.order —
// callers swap those in only after persist succeeds, implementing the
// staged-write/rollback discipline of spec.md §4.4.
func (m *Manifest) persist(dek []byte, entries map[string]*ImageEntry, order []string) error {
	doc := fileFormat{Entries: make([]ImageEntry, 0, len(order))}
	for _, id := range order {
		doc.Entries = append(doc.Entries, *entries[id])
	}

	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("manifest: serializing: %w", vaulterrors.ErrIoFailure)
	}

	record, err := vaultcrypto.Encrypt(dek, plaintext)
	if err != nil {
		return err
	}

	return m.st.WriteManifest(record)
}

// Insert adds a new cover entry and commits it. Per spec.md §4.4, a
// failure leaves the in-memory manifest exactly as it was.
func (m *Manifest) Insert(dek []byte, entry ImageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.ID]; exists {
		return fmt.Errorf("manifest: id %s already present: %w", entry.ID, vaulterrors.ErrInvalidInput)
	}

	entries, order := m.cloneLocked()
	ce := entry.clone()
	entries[entry.ID] = &ce
	order = append(order, entry.ID)

	if err := m.persist(dek, entries, order); err != nil {
		return err
	}
	m.entries, m.order = entries, order
	return nil
}

// Remove deletes a cover entry (and, per spec.md §3's lifecycle rule, all
// of its linked sub-entries) from the catalog, commits the manifest, and
// only then deletes the on-disk blobs — deletes unlink files only after
// the manifest rewrite committing the removal has succeeded.
func (m *Manifest) Remove(dek []byte, id string) error {
	m.mu.Lock()

	existing, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("manifest: entry %s: %w", id, vaulterrors.ErrNotFound)
	}
	linkedIDs := make([]string, len(existing.LinkedImages))
	for i, l := range existing.LinkedImages {
		linkedIDs[i] = l.ID
	}

	entries, order := m.cloneLocked()
	delete(entries, id)
	order = removeID(order, id)

	if err := m.persist(dek, entries, order); err != nil {
		m.mu.Unlock()
		return err
	}
	m.entries, m.order = entries, order
	m.mu.Unlock()

	var firstErr error
	for _, subID := range linkedIDs {
		if err := m.st.DeleteEntryBlobs(subID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.st.DeleteEntryBlobs(id); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// UpdateTags replaces an entry's tag list wholesale and commits.
func (m *Manifest) UpdateTags(dek []byte, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("manifest: entry %s: %w", id, vaulterrors.ErrNotFound)
	}

	entries, order := m.cloneLocked()
	e := *entries[id]
	e.Tags = append([]string(nil), tags...)
	entries[id] = &e

	if err := m.persist(dek, entries, order); err != nil {
		return err
	}
	m.entries, m.order = entries, order
	return nil
}

// AttachLinked appends a linked sub-entry to a cover entry's ordered list.
func (m *Manifest) AttachLinked(dek []byte, coverID string, linked LinkedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[coverID]; !ok {
		return fmt.Errorf("manifest: cover %s: %w", coverID, vaulterrors.ErrNotFound)
	}

	entries, order := m.cloneLocked()
	e := *entries[coverID]
	e.LinkedImages = append(append([]LinkedEntry(nil), e.LinkedImages...), linked)
	entries[coverID] = &e

	if err := m.persist(dek, entries, order); err != nil {
		return err
	}
	m.entries, m.order = entries, order
	return nil
}

// DetachLinked removes a linked sub-entry from its cover, commits, then
// deletes its blobs.
func (m *Manifest) DetachLinked(dek []byte, coverID, subID string) error {
	m.mu.Lock()

	cover, ok := m.entries[coverID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("manifest: cover %s: %w", coverID, vaulterrors.ErrNotFound)
	}
	idx := -1
	for i, l := range cover.LinkedImages {
		if l.ID == subID {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.mu.Unlock()
		return fmt.Errorf("manifest: linked %s: %w", subID, vaulterrors.ErrNotFound)
	}

	entries, order := m.cloneLocked()
	e := *entries[coverID]
	rest := append([]LinkedEntry(nil), e.LinkedImages[:idx]...)
	rest = append(rest, e.LinkedImages[idx+1:]...)
	e.LinkedImages = rest
	entries[coverID] = &e

	if err := m.persist(dek, entries, order); err != nil {
		m.mu.Unlock()
		return err
	}
	m.entries, m.order = entries, order
	m.mu.Unlock()

	return m.st.DeleteEntryBlobs(subID)
}

// FindLinkedOwner returns the cover id owning a given linked sub-id.
func (m *Manifest) FindLinkedOwner(subID string) (coverID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coverID, _, ok = locatedLinked(m.entries, subID)
	return coverID, ok
}

// RenameTag replaces every occurrence of oldTag with newTag across all
// entries, preserving each entry's tag insertion order, dropping the
// duplicate if newTag is already present at that entry. Both tags must
// already be normalized by the caller (internal/tagquery). Returns the
// number of entries changed.
func (m *Manifest) RenameTag(dek []byte, oldTag, newTag string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, order := m.cloneLocked()
	changed := 0
	for _, id := range order {
		e := entries[id]
		if !e.HasTag(oldTag) {
			continue
		}
		renamed := make([]string, 0, len(e.Tags))
		seenNew := false
		for _, t := range e.Tags {
			switch {
			case t == oldTag:
				if seenNew {
					continue // new already present elsewhere; drop the duplicate
				}
				renamed = append(renamed, newTag)
				seenNew = true
			case t == newTag:
				if seenNew {
					continue
				}
				renamed = append(renamed, t)
				seenNew = true
			default:
				renamed = append(renamed, t)
			}
		}
		ne := *e
		ne.Tags = renamed
		entries[id] = &ne
		changed++
	}

	if changed == 0 {
		return 0, nil
	}
	if err := m.persist(dek, entries, order); err != nil {
		return 0, err
	}
	m.entries, m.order = entries, order
	return changed, nil
}

func removeID(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, o := range order {
		if o != id {
			out = append(out, o)
		}
	}
	return out
}
