package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanta-vault/vanta/internal/config"
	"github.com/vanta-vault/vanta/internal/handlers"
	"github.com/vanta-vault/vanta/internal/linkset"
	"github.com/vanta-vault/vanta/internal/manifest"
	"github.com/vanta-vault/vanta/internal/pipeline"
	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vault"
	"github.com/vanta-vault/vanta/internal/vaultcrypto"
)

// onePixelPNG is the literal 67-byte 1x1 PNG from spec.md §8 scenario 3.
const onePixelPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAAAAAA6fptVAAAACklEQVR42mNgAAAAAgAB5Sfe/AAAAABJRU5ErkJggg=="

func onePixelPNG(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(onePixelPNGBase64)
	require.NoError(t, err)
	return data
}

func testConfig(root string) *config.Config {
	return &config.Config{
		VaultRoot:            root,
		BindAddr:             "127.0.0.1:0",
		MaxUploadMB:          50,
		WorkerPool:           2,
		LogLevel:             "panic",
		Argon2MemoryKiB:      8 * 1024,
		Argon2Iters:          1,
		Argon2Parallel:       1,
		UnlockRateLimitBurst: 100,
	}
}

// newHarness wires a fresh Server over a fresh vault root, mirroring
// cmd/vanta's own wiring sequence so these tests exercise the real
// HTTP surface end to end.
func newHarness(t *testing.T, root string) (*Server, *vault.Vault) {
	t.Helper()
	cfg := testConfig(root)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st, err := store.New(cfg.VaultRoot)
	require.NoError(t, err)
	mf := manifest.New(st)
	v := vault.New(st, mf, vaultcrypto.Argon2Params{
		MemoryKiB:   cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iters,
		Parallelism: cfg.Argon2Parallel,
	})
	pool := pipeline.NewPool(cfg.WorkerPool)
	lm := linkset.New(mf, st, pool, cfg.MaxUploadBytes())
	h := handlers.New(v, lm, pool, st, cfg, log)
	return New(cfg, v, h, log), v
}

func do(t *testing.T, srv *Server, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, srv *Server, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return do(t, srv, method, path, token, body, "application/json")
}

func uploadMultipart(t *testing.T, srv *Server, path, token string, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return do(t, srv, http.MethodPost, path, token, &buf, mw.FormDataContentType())
}

// TestScenario1InitializeThenRestartLocks mirrors spec.md §8 scenario 1:
// initialize, observe unlocked+authenticated status, then simulate a
// process restart and observe the vault comes back Locked.
func TestScenario1InitializeThenRestartLocks(t *testing.T) {
	root := t.TempDir()
	srv, _ := newHarness(t, root)

	w := doJSON(t, srv, http.MethodPost, "/api/setup", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var setupResp struct {
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setupResp))
	require.NotEmpty(t, setupResp.SessionToken)

	w = do(t, srv, http.MethodGet, "/api/status", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Initialized   bool `json:"initialized"`
		Unlocked      bool `json:"unlocked"`
		Authenticated bool `json:"authenticated"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Initialized)
	assert.True(t, status.Unlocked)
	assert.True(t, status.Authenticated)

	// Simulate a process restart: a fresh harness over the same root.
	srv2, _ := newHarness(t, root)
	w = do(t, srv2, http.MethodGet, "/api/status", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Initialized)
	assert.False(t, status.Unlocked)
	assert.False(t, status.Authenticated)
}

// TestScenario2WrongPasswordStaysLocked mirrors spec.md §8 scenario 2.
func TestScenario2WrongPasswordStaysLocked(t *testing.T) {
	root := t.TempDir()
	srv, _ := newHarness(t, root)
	w := doJSON(t, srv, http.MethodPost, "/api/setup", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)

	srv2, _ := newHarness(t, root)
	w = doJSON(t, srv2, http.MethodPost, "/api/unlock", "", map[string]string{"password": "Hunter2"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, srv2, http.MethodGet, "/api/status", "", nil, "")
	var status struct {
		Unlocked bool `json:"unlocked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Unlocked)

	w = doJSON(t, srv2, http.MethodPost, "/api/unlock", "", map[string]string{"password": "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestScenario3UploadProducesAllVariants mirrors spec.md §8 scenario 3.
func TestScenario3UploadProducesAllVariants(t *testing.T) {
	root := t.TempDir()
	srv, _ := newHarness(t, root)
	w := doJSON(t, srv, http.MethodPost, "/api/setup", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var setupResp struct {
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setupResp))
	token := setupResp.SessionToken

	png := onePixelPNG(t)
	w = uploadMultipart(t, srv, "/api/upload", token, "pixel.png", png)
	require.Equal(t, http.StatusOK, w.Code)
	var entry struct {
		ID       string   `json:"id"`
		Variants []string `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.ElementsMatch(t, []string{"thumbnail", "high", "original"}, entry.Variants)

	w = do(t, srv, http.MethodGet, "/api/images", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Images []struct {
			ID string `json:"id"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Images, 1)
	assert.Equal(t, entry.ID, list.Images[0].ID)

	for _, variant := range []string{"thumbnail", "high", "original"} {
		w = do(t, srv, http.MethodGet, "/api/images/"+entry.ID+"/"+variant, token, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Body.Bytes())
		if variant == "original" {
			assert.Equal(t, png, w.Body.Bytes())
		}
	}
}

// TestScenario4And5TagQueryAndRename mirrors spec.md §8 scenarios 4-5.
func TestScenario4And5TagQueryAndRename(t *testing.T) {
	root := t.TempDir()
	srv, _ := newHarness(t, root)
	w := doJSON(t, srv, http.MethodPost, "/api/setup", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var setupResp struct {
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setupResp))
	token := setupResp.SessionToken

	png := onePixelPNG(t)
	uploadAndTag := func(tags []string) string {
		w := uploadMultipart(t, srv, "/api/upload", token, "pixel.png", png)
		require.Equal(t, http.StatusOK, w.Code)
		var entry struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
		for _, tag := range tags {
			w = doJSON(t, srv, http.MethodPost, "/api/images/"+entry.ID+"/tags", token, map[string]string{"tag": tag})
			require.Equal(t, http.StatusOK, w.Code)
		}
		return entry.ID
	}

	idA := uploadAndTag([]string{"cat", "black"})
	idB := uploadAndTag([]string{"cat", "white"})

	query := func(q string) []string {
		w := do(t, srv, http.MethodGet, "/api/images?q="+url.QueryEscape(q), token, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Images []struct {
				ID string `json:"id"`
			} `json:"images"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		out := make([]string, len(list.Images))
		for i, e := range list.Images {
			out[i] = e.ID
		}
		return out
	}

	assert.ElementsMatch(t, []string{idA, idB}, query("cat"))
	assert.ElementsMatch(t, []string{idA}, query("cat -white"))
	assert.Empty(t, query("dog"))

	w = doJSON(t, srv, http.MethodPost, "/api/tags/rename", token, map[string]string{"old_tag": "cat", "new_tag": "feline"})
	require.Equal(t, http.StatusOK, w.Code)
	var renamed struct {
		Renamed int `json:"renamed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &renamed))
	assert.Equal(t, 2, renamed.Renamed)

	assert.ElementsMatch(t, []string{idA, idB}, query("feline"))
	assert.Empty(t, query("cat"))
}

// TestScenario6LinkedSetDownloadAndCascadeDelete mirrors spec.md §8
// scenario 6.
func TestScenario6LinkedSetDownloadAndCascadeDelete(t *testing.T) {
	root := t.TempDir()
	srv, _ := newHarness(t, root)
	w := doJSON(t, srv, http.MethodPost, "/api/setup", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var setupResp struct {
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setupResp))
	token := setupResp.SessionToken

	png := onePixelPNG(t)
	w = uploadMultipart(t, srv, "/api/upload", token, "pixel.png", png)
	require.Equal(t, http.StatusOK, w.Code)
	var cover struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cover))

	w = uploadMultipart(t, srv, fmt.Sprintf("/api/images/%s/linked", cover.ID), token, "pixel2.png", png)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/images", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Images []struct {
			ID           string `json:"id"`
			LinkedImages []struct {
				ID string `json:"id"`
			} `json:"linked_images"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Images, 1)
	require.Len(t, list.Images[0].LinkedImages, 1)

	w = do(t, srv, http.MethodGet, "/api/images/"+cover.ID+"/download", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	w = do(t, srv, http.MethodDelete, "/api/images/"+cover.ID, token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/images", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Images)
}

// TestGetVariantUsesRecordedContentTypeNotJPEGLiteral mirrors the
// high-variant-aliases-original case of spec.md §4.6 step 5: when the
// source is already-small WebP/JPEG, `high`'s bytes (and true
// content-type) are the original's, not a re-encoded JPEG. This bypasses
// the image pipeline and plants the manifest entry/blob directly so the
// case doesn't depend on a hand-built WebP fixture — it isolates exactly
// what serveVariant is responsible for: trusting the recorded per-variant
// content-type instead of assuming "image/jpeg".
func TestGetVariantUsesRecordedContentTypeNotJPEGLiteral(t *testing.T) {
	root := t.TempDir()
	srv, v := newHarness(t, root)
	w := doJSON(t, srv, http.MethodPost, "/api/setup", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var setupResp struct {
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setupResp))
	token := setupResp.SessionToken

	dek, err := v.DEK()
	require.NoError(t, err)

	raw := []byte("pretend-this-is-webp-bytes")
	record, err := vaultcrypto.Encrypt(dek, raw)
	require.NoError(t, err)

	st, err := store.New(root)
	require.NoError(t, err)
	id := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	require.NoError(t, st.WriteBlob(id, store.VariantHigh, record))
	require.NoError(t, st.WriteBlob(id, store.VariantOriginal, record))

	entry := manifest.ImageEntry{
		ID:           id,
		OriginalMime: "image/webp",
		OriginalSize: int64(len(raw)),
		Variants:     []string{"high", "original"},
		VariantTypes: map[string]string{"high": "image/webp", "original": "image/webp"},
	}
	require.NoError(t, v.Manifest().Insert(dek, entry))

	w = do(t, srv, http.MethodGet, "/api/images/"+id+"/high", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))
	assert.Equal(t, raw, w.Body.Bytes())
}

// TestGateFailureReasonsOverHTTP drives each of §4.9's three distinct gate
// failures against a real protected route: an uninitialized vault, a
// locked vault, and a bad token against an unlocked vault — plus the
// unlock-before-init case on the ungated /api/unlock itself.
func TestGateFailureReasonsOverHTTP(t *testing.T) {
	root := t.TempDir()
	srv, _ := newHarness(t, root)

	gateCode := func(w *httptest.ResponseRecorder) string {
		var body struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body.Code
	}

	// Uninitialized vault: any gated route answers NotInitialized, whatever
	// token is presented.
	w := do(t, srv, http.MethodGet, "/api/images", "not-a-real-token", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_INITIALIZED", gateCode(w))

	// Unlock before init fails the same way through its own handler.
	w = doJSON(t, srv, http.MethodPost, "/api/unlock", "", map[string]string{"password": "hunter2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/setup", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var setupResp struct {
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setupResp))
	token := setupResp.SessionToken

	// Unlocked vault, bad or missing token: Unauthenticated.
	w = do(t, srv, http.MethodGet, "/api/images", "not-a-real-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", gateCode(w))

	w = do(t, srv, http.MethodGet, "/api/images", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token passes.
	w = do(t, srv, http.MethodGet, "/api/images", token, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Locked vault: the same route (same stale token) answers Locked, not a
	// generic credential failure.
	w = do(t, srv, http.MethodPost, "/api/lock", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/images", token, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "LOCKED", gateCode(w))

	// The exempt routes stay reachable throughout.
	w = do(t, srv, http.MethodGet, "/api/status", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
