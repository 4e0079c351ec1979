package settings

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSettingsStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "vault.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&blob{}))
	return &Store{db: db}
}

func TestLoadDefaultsOnEmptyStore(t *testing.T) {
	store := newSettingsStore(t)

	document, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), document)
	assert.Equal(t, ThemeSystem, document.Theme)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSettingsStore(t)

	saved, err := store.Save(ctx, Document{Theme: " Dark "})
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, saved.Theme)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, loaded.Theme)

	// A second save overwrites the single row instead of growing the table.
	_, err = store.Save(ctx, Document{Theme: "light"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, store.db.Model(&blob{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, loaded.Theme)
}

func TestSaveNormalizesThemeAliases(t *testing.T) {
	ctx := context.Background()
	store := newSettingsStore(t)

	for raw, want := range map[string]string{
		"":        ThemeSystem,
		"auto":    ThemeSystem,
		"default": ThemeSystem,
		"SYSTEM":  ThemeSystem,
		"Light":   ThemeLight,
		"dark":    ThemeDark,
	} {
		saved, err := store.Save(ctx, Document{Theme: raw})
		require.NoError(t, err, raw)
		assert.Equal(t, want, saved.Theme, raw)
	}
}

func TestSaveRejectsUnknownTheme(t *testing.T) {
	store := newSettingsStore(t)

	_, err := store.Save(context.Background(), Document{Theme: "solarized"})
	assert.ErrorIs(t, err, ErrInvalidTheme)
}

func TestLoadToleratesCorruptRow(t *testing.T) {
	store := newSettingsStore(t)

	row := blob{ID: blobID, Document: datatypes.JSON("{not json")}
	require.NoError(t, store.db.Create(&row).Error)

	document, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), document)
}

func TestLoadMapsUnknownStoredTheme(t *testing.T) {
	store := newSettingsStore(t)

	row := blob{ID: blobID, Document: datatypes.JSON(`{"theme": "solarized"}`)}
	require.NoError(t, store.db.Create(&row).Error)

	document, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ThemeSystem, document.Theme)
}

func TestSettingsOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("DATABASE_DSN", filepath.Join(t.TempDir(), "vault.db"))

	router := gin.New()
	_, err := RegisterRoutes(router, nil, nil)
	require.NoError(t, err)

	perform := func(method, payload string) *httptest.ResponseRecorder {
		var body io.Reader
		if payload != "" {
			body = strings.NewReader(payload)
		}
		req := httptest.NewRequest(method, "/settings", body)
		if payload != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := perform(http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"settings": {"theme": "system"}}`, rec.Body.String())

	rec = perform(http.MethodPut, `{"theme": "dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"settings": {"theme": "dark"}}`, rec.Body.String())

	rec = perform(http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"settings": {"theme": "dark"}}`, rec.Body.String())

	rec = perform(http.MethodPut, `{"theme": "solarized"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported theme")

	rec = perform(http.MethodPut, `{"theme": }`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request payload")
}
