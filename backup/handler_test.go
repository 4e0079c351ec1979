package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outfit_vault/catalog"
	"outfit_vault/media"
)

func newBackupRouter(t *testing.T) (*gin.Engine, *catalog.Module) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("DATABASE_DSN", filepath.Join(t.TempDir(), "vault.db"))
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MINIO_ENDPOINT", "")

	router := gin.New()
	catalogModule, err := catalog.RegisterRoutes(router, nil, media.NewHandleCache(), nil)
	require.NoError(t, err)
	_, err = RegisterRoutes(router, nil, catalogModule, nil)
	require.NoError(t, err)
	return router, catalogModule
}

func performRequest(t *testing.T, router *gin.Engine, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func seedVault(t *testing.T, catalogModule *catalog.Module, id, name string) {
	t.Helper()
	ctx := context.Background()
	outfit, err := catalog.NewOutfit(catalog.OutfitParams{
		ID:        id,
		Name:      name,
		Rating:    5,
		Tags:      []string{"denim"},
		Image:     []byte("jpeg-bytes-" + id),
		ImageMime: "image/jpeg",
	})
	require.NoError(t, err)
	require.NoError(t, catalogModule.Store().Add(ctx, outfit))
	require.NoError(t, catalogModule.Refresh(ctx))
}

func TestExportAndImportOverHTTP(t *testing.T) {
	routerA, catalogA := newBackupRouter(t)
	seedVault(t, catalogA, "o-1", "Denim Jacket")

	rec := performRequest(t, routerA, http.MethodGet, "/backup/export", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `attachment; filename="outfit-vault-`)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	exported := rec.Body.Bytes()
	var document Document
	require.NoError(t, json.Unmarshal(exported, &document))
	require.Len(t, document.Outfits, 1)
	assert.Equal(t, "o-1", document.Outfits[0].ID)
	assert.Equal(t, "Denim Jacket", document.Outfits[0].Name)

	routerB, catalogB := newBackupRouter(t)
	rec = performRequest(t, routerB, http.MethodPost, "/backup/import", bytes.NewReader(exported), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Report ImportReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, 1, envelope.Report.Imported)
	assert.Equal(t, 0, envelope.Report.Rekeyed)

	restored, err := catalogB.Store().Get(context.Background(), "o-1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, []byte("jpeg-bytes-o-1"), restored.Image)
}

func TestExportSelection(t *testing.T) {
	router, catalogModule := newBackupRouter(t)
	seedVault(t, catalogModule, "o-1", "Denim Jacket")
	seedVault(t, catalogModule, "o-2", "Evening Dress")

	rec := performRequest(t, router, http.MethodGet, "/backup/export?ids=o-2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var document Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &document))
	require.Len(t, document.Outfits, 1)
	assert.Equal(t, "o-2", document.Outfits[0].ID)

	rec = performRequest(t, router, http.MethodGet, "/backup/export?ids=ghost", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "selection matched no outfits")
}

func TestImportValidationOverHTTP(t *testing.T) {
	t.Run("body that is not a document", func(t *testing.T) {
		router, _ := newBackupRouter(t)
		rec := performRequest(t, router, http.MethodPost, "/backup/import", bytes.NewReader([]byte("not json")), "application/json")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "not a vault backup document")
	})

	t.Run("newer document version", func(t *testing.T) {
		router, _ := newBackupRouter(t)
		payload := []byte(`{"version": 2, "outfits": []}`)
		rec := performRequest(t, router, http.MethodPost, "/backup/import", bytes.NewReader(payload), "application/json")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unsupported document version")
	})

	t.Run("empty body", func(t *testing.T) {
		router, _ := newBackupRouter(t)
		rec := performRequest(t, router, http.MethodPost, "/backup/import", nil, "application/json")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "backup document is required")
	})

	t.Run("multipart upload", func(t *testing.T) {
		router, catalogModule := newBackupRouter(t)

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("backup", "vault.json")
		require.NoError(t, err)
		document := `{"version": 1, "outfits": [{"id": "m-1", "name": "From Form", "imageDataUrl": "data:image/jpeg;base64,anBlZw=="}]}`
		_, err = part.Write([]byte(document))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		rec := performRequest(t, router, http.MethodPost, "/backup/import", &body, writer.FormDataContentType())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		restored, err := catalogModule.Store().Get(context.Background(), "m-1")
		require.NoError(t, err)
		require.NotNil(t, restored)
		assert.Equal(t, "From Form", restored.Name)
	})

	t.Run("multipart without file", func(t *testing.T) {
		router, _ := newBackupRouter(t)

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		require.NoError(t, writer.WriteField("note", "no file here"))
		require.NoError(t, writer.Close())

		rec := performRequest(t, router, http.MethodPost, "/backup/import", &body, writer.FormDataContentType())
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "backup file is required")
	})
}

func TestRemoteEndpointsWithoutConfiguration(t *testing.T) {
	router, _ := newBackupRouter(t)

	rec := performRequest(t, router, http.MethodGet, "/backup/remote", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "remote backup not configured")

	rec = performRequest(t, router, http.MethodPost, "/backup/remote/push", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = performRequest(t, router, http.MethodPost, "/backup/remote/restore", bytes.NewReader([]byte(`{"name": "x"}`)), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
