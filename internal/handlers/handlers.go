// Package handlers implements the HTTP API surface of spec.md §6: one gin
// handler per row of the operations table, each funneling errors through a
// single response helper so every endpoint maps vaulterrors identically and
// only ever logs the kinds §7 says are server-side concerns.
//
// Grounded on frnd1406-NasServer's handlers/vault.go (lifecycle handler
// shapes: setup/unlock/lock/panic/export) and handlers/files/encrypted.go
// (list/upload/download handler shapes), adapted from this vault's own
// domain types instead of the teacher's SQL-backed file records.
package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vanta-vault/vanta/internal/config"
	"github.com/vanta-vault/vanta/internal/ingest"
	"github.com/vanta-vault/vanta/internal/linkset"
	"github.com/vanta-vault/vanta/internal/manifest"
	"github.com/vanta-vault/vanta/internal/pipeline"
	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/tagquery"
	"github.com/vanta-vault/vanta/internal/vault"
	"github.com/vanta-vault/vanta/internal/vaultcrypto"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

// Handlers holds every dependency the API surface needs.
type Handlers struct {
	Vault   *vault.Vault
	Linkset *linkset.Manager
	Pool    *pipeline.Pool
	Store   *store.Store
	Cfg     *config.Config
	Log     *logrus.Logger
}

// New wires a Handlers from its dependencies.
func New(v *vault.Vault, lm *linkset.Manager, pool *pipeline.Pool, st *store.Store, cfg *config.Config, log *logrus.Logger) *Handlers {
	return &Handlers{Vault: v, Linkset: lm, Pool: pool, Store: st, Cfg: cfg, Log: log}
}

// errorCode is a short machine-readable tag, distinct from the
// human-readable message so clients can switch on it without
// string-matching prose: "INTERNAL" for the server-side kinds, otherwise
// the text of the HTTP status the error maps to (e.g. "Not Found"), so
// kinds that share a status also share a code.
func errorCode(err error) string {
	switch {
	case vaulterrors.Loggable(err):
		return "INTERNAL"
	default:
		return http.StatusText(vaulterrors.StatusFor(err))
	}
}

// respondError answers a request with the status/body vaulterrors maps an
// error to, logging it first if (and only if) it's a server-side kind, and
// never echoing internal detail for those kinds back to the client.
func (h *Handlers) respondError(c *gin.Context, err error) {
	if vaulterrors.Loggable(err) {
		h.Log.WithFields(logrus.Fields{
			"path":  c.FullPath(),
			"error": err.Error(),
		}).Error("request failed")
		c.JSON(vaulterrors.StatusFor(err), gin.H{"error": "internal error", "code": errorCode(err)})
		return
	}
	c.JSON(vaulterrors.StatusFor(err), gin.H{"error": err.Error(), "code": errorCode(err)})
}

// Status answers GET /api/status. Never gated.
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Vault.Status())
}

// Healthz answers GET /api/healthz. Never gated, vault-state-independent.
func (h *Handlers) Healthz(c *gin.Context) {
	c.Status(http.StatusOK)
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

// Setup answers POST /api/setup.
func (h *Handlers) Setup(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("handlers: decoding request: %w", vaulterrors.ErrInvalidInput))
		return
	}
	token, err := h.Vault.Initialize([]byte(req.Password))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_token": token})
}

// Unlock answers POST /api/unlock.
func (h *Handlers) Unlock(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("handlers: decoding request: %w", vaulterrors.ErrInvalidInput))
		return
	}
	token, err := h.Vault.Unlock([]byte(req.Password))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_token": token})
}

// Lock answers POST /api/lock and POST /api/logout — spec.md §4.5 treats
// logout as an alias for lock.
func (h *Handlers) Lock(c *gin.Context) {
	if err := h.Vault.Lock(); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Panic answers the supplemented POST /api/panic: force-lock plus a
// distinguishable log line, grounded on the teacher's VaultPanicHandler.
func (h *Handlers) Panic(c *gin.Context) {
	h.Log.WithFields(logrus.Fields{"event": "PANIC_KEY_DESTRUCTION"}).Warn("panic endpoint invoked")
	if err := h.Vault.Lock(); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ListImages answers GET /api/images?q=....
func (h *Handlers) ListImages(c *gin.Context) {
	entries := h.Vault.Manifest().Snapshot()
	if q := c.Query("q"); q != "" {
		entries = tagquery.Filter(entries, q)
	}
	c.JSON(http.StatusOK, gin.H{"images": entries})
}

// ListTags answers GET /api/tags.
func (h *Handlers) ListTags(c *gin.Context) {
	entries := h.Vault.Manifest().Snapshot()
	c.JSON(http.StatusOK, gin.H{"tags": tagquery.GlobalTagSet(entries)})
}

type renameTagRequest struct {
	OldTag string `json:"old_tag" binding:"required"`
	NewTag string `json:"new_tag" binding:"required"`
}

// RenameTagHandler answers POST /api/tags/rename.
func (h *Handlers) RenameTagHandler(c *gin.Context) {
	var req renameTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("handlers: decoding request: %w", vaulterrors.ErrInvalidInput))
		return
	}
	oldTag, err := tagquery.Normalize(req.OldTag)
	if err != nil {
		h.respondError(c, err)
		return
	}
	newTag, err := tagquery.Normalize(req.NewTag)
	if err != nil {
		h.respondError(c, err)
		return
	}
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}
	n, err := h.Vault.Manifest().RenameTag(dek, oldTag, newTag)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": n})
}

// Upload answers POST /api/upload: multipart file → new cover entry.
func (h *Handlers) Upload(c *gin.Context) {
	data, mime, err := readUploadedFile(c, h.Cfg.MaxUploadBytes())
	if err != nil {
		h.respondError(c, err)
		return
	}
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := ingest.Run(c.Request.Context(), h.Pool, h.Store, dek, mime, data, h.Cfg.MaxUploadBytes())
	if err != nil {
		h.respondError(c, err)
		return
	}
	entry := manifest.ImageEntry{
		ID:           result.ID,
		OriginalMime: result.OriginalMime,
		OriginalSize: result.OriginalSize,
		CreatedAt:    result.CreatedAt,
		Variants:     result.Variants,
		VariantTypes: result.VariantTypes,
	}
	if err := h.Vault.Manifest().Insert(dek, entry); err != nil {
		_ = h.Store.DeleteEntryBlobs(result.ID)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// AttachLinked answers POST /api/images/{id}/linked.
func (h *Handlers) AttachLinked(c *gin.Context) {
	coverID := c.Param("id")
	data, mime, err := readUploadedFile(c, h.Cfg.MaxUploadBytes())
	if err != nil {
		h.respondError(c, err)
		return
	}
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}
	linked, err := h.Linkset.Attach(c.Request.Context(), dek, coverID, mime, data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, linked)
}

func readUploadedFile(c *gin.Context, maxBytes int64) ([]byte, string, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("handlers: reading multipart file: %w", vaulterrors.ErrInvalidInput)
	}
	f, err := fileHeader.Open()
	if err != nil {
		return nil, "", fmt.Errorf("handlers: opening multipart file: %w", vaulterrors.ErrIoFailure)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("handlers: reading multipart body: %w", vaulterrors.ErrIoFailure)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("handlers: upload exceeds cap: %w", vaulterrors.ErrInvalidInput)
	}

	// Clients don't always label the part: fall back to content sniffing
	// when the declared type is missing or the multipart default.
	mime := fileHeader.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// DeleteImage answers DELETE /api/images/{id}.
func (h *Handlers) DeleteImage(c *gin.Context) {
	id := c.Param("id")
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.Vault.Manifest().Remove(dek, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type addTagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

// AddTag answers POST /api/images/{id}/tags.
func (h *Handlers) AddTag(c *gin.Context) {
	id := c.Param("id")
	var req addTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("handlers: decoding request: %w", vaulterrors.ErrInvalidInput))
		return
	}
	tag, err := tagquery.Normalize(req.Tag)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.mutateTags(c, id, func(entry manifest.ImageEntry) []string {
		if entry.HasTag(tag) {
			return entry.Tags
		}
		return append(append([]string(nil), entry.Tags...), tag)
	})
}

// RemoveTag answers DELETE /api/images/{id}/tags?tag=....
func (h *Handlers) RemoveTag(c *gin.Context) {
	id := c.Param("id")
	tag, err := tagquery.Normalize(c.Query("tag"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.mutateTags(c, id, func(entry manifest.ImageEntry) []string {
		out := make([]string, 0, len(entry.Tags))
		for _, t := range entry.Tags {
			if t != tag {
				out = append(out, t)
			}
		}
		return out
	})
}

func (h *Handlers) mutateTags(c *gin.Context, id string, transform func(manifest.ImageEntry) []string) {
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}
	entry, err := h.Vault.Manifest().Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	newTags := transform(entry)
	if err := h.Vault.Manifest().UpdateTags(dek, id, newTags); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": newTags})
}

// GetVariant answers GET /api/images/{id}/{variant}.
func (h *Handlers) GetVariant(c *gin.Context) {
	id := c.Param("id")
	entry, err := h.Vault.Manifest().Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.serveVariant(c, id, c.Param("variant"), entry.OriginalMime, entry.VariantTypes)
}

// GetLinkedVariant answers GET /api/images/{id}/linked/{sub}/{variant}. The
// cover id is validated to actually own sub before serving.
func (h *Handlers) GetLinkedVariant(c *gin.Context) {
	coverID := c.Param("id")
	subID := c.Param("sub")
	cover, err := h.Vault.Manifest().Get(coverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var sub *manifest.LinkedEntry
	for i := range cover.LinkedImages {
		if cover.LinkedImages[i].ID == subID {
			sub = &cover.LinkedImages[i]
			break
		}
	}
	if sub == nil {
		h.respondError(c, fmt.Errorf("handlers: linked %s: %w", subID, vaulterrors.ErrNotFound))
		return
	}
	h.serveVariant(c, subID, c.Param("variant"), sub.OriginalMime, sub.VariantTypes)
}

// serveVariant decrypts and serves one stored variant. thumbnail/high are
// usually re-encoded JPEG by this pipeline, but high can alias the original
// byte-for-byte for an already-small WebP/JPEG source — variantTypes (as
// recorded by ingest at upload time) is the source of truth for what was
// actually written, never a guess based on the variant name.
func (h *Handlers) serveVariant(c *gin.Context, id, variant, originalMime string, variantTypes map[string]string) {
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}
	record, err := h.Store.ReadBlob(id, store.Variant(variant))
	if err != nil {
		h.respondError(c, err)
		return
	}
	plaintext, err := vaultcrypto.Decrypt(dek, record)
	if err != nil {
		h.respondError(c, err)
		return
	}

	contentType := originalMime
	if variant != string(store.VariantOriginal) {
		contentType = variantTypes[variant]
		if contentType == "" {
			contentType = "image/jpeg"
		}
	}
	c.Data(http.StatusOK, contentType, plaintext)
}

// DetachLinked answers DELETE /api/images/{id}/linked/{sub}.
func (h *Handlers) DetachLinked(c *gin.Context) {
	coverID := c.Param("id")
	subID := c.Param("sub")
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.Linkset.Detach(dek, coverID, subID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Download answers GET /api/images/{id}/download: the full linked set as a
// ZIP, or just the original bytes if the entry has no linked images.
func (h *Handlers) Download(c *gin.Context) {
	id := c.Param("id")
	entry, err := h.Vault.Manifest().Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	dek, err := h.Vault.DEK()
	if err != nil {
		h.respondError(c, err)
		return
	}

	if len(entry.LinkedImages) == 0 {
		record, err := h.Store.ReadBlob(id, store.VariantOriginal)
		if err != nil {
			h.respondError(c, err)
			return
		}
		plaintext, err := vaultcrypto.Decrypt(dek, record)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+extensionFromMime(entry.OriginalMime)))
		c.Data(http.StatusOK, entry.OriginalMime, plaintext)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	c.Header("Content-Type", "application/zip")
	if err := h.Linkset.ZipDownload(dek, id, c.Writer); err != nil {
		h.respondError(c, err)
		return
	}
}

func extensionFromMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/avif":
		return ".avif"
	case "image/jxl":
		return ".jxl"
	default:
		return ""
	}
}
