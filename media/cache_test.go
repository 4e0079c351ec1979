package media

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsStableHandle(t *testing.T) {
	cache := NewHandleCache()

	first := cache.Acquire("outfit-1", "image/jpeg", []byte{1, 2, 3})
	second := cache.Acquire("outfit-1", "image/jpeg", []byte{1, 2, 3})

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.Len())
	assert.True(t, strings.HasPrefix(first, "/media/"))
}

func TestLookupResolvesToken(t *testing.T) {
	cache := NewHandleCache()
	payload := []byte{9, 8, 7}

	path := cache.Acquire("outfit-1", "image/png", payload)
	token := strings.TrimPrefix(path, "/media/")

	data, mime, ok := cache.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/png", mime)
}

func TestReleaseInvalidatesHandle(t *testing.T) {
	cache := NewHandleCache()

	path := cache.Acquire("outfit-1", "image/jpeg", []byte{1})
	token := strings.TrimPrefix(path, "/media/")
	cache.Release("outfit-1")

	_, _, ok := cache.Lookup(token)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())

	reacquired := cache.Acquire("outfit-1", "image/jpeg", []byte{1})
	assert.NotEqual(t, path, reacquired)
}

func TestRetainOnlyDropsHandlesOutsideKeepSet(t *testing.T) {
	cache := NewHandleCache()

	pathA := cache.Acquire("a", "image/jpeg", []byte{1})
	pathB := cache.Acquire("b", "image/jpeg", []byte{2})
	pathC := cache.Acquire("c", "image/jpeg", []byte{3})

	cache.RetainOnly([]string{"a", "c"})

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, pathA, cache.Acquire("a", "image/jpeg", []byte{1}))
	assert.Equal(t, pathC, cache.Acquire("c", "image/jpeg", []byte{3}))

	_, _, ok := cache.Lookup(strings.TrimPrefix(pathB, "/media/"))
	assert.False(t, ok)
}

func TestAcquireRejectsBlankInputs(t *testing.T) {
	cache := NewHandleCache()

	assert.Empty(t, cache.Acquire("", "image/jpeg", []byte{1}))
	assert.Empty(t, cache.Acquire("outfit-1", "image/jpeg", nil))
	assert.Equal(t, 0, cache.Len())
}

func TestAcquireDefaultsMissingMime(t *testing.T) {
	cache := NewHandleCache()

	path := cache.Acquire("outfit-1", "  ", []byte{5})
	token := strings.TrimPrefix(path, "/media/")

	_, mime, ok := cache.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, "application/octet-stream", mime)
}

func TestServeHandleOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	module := RegisterRoutes(router)

	payload := []byte("jpeg bytes")
	path := module.Cache().Acquire("outfit-1", "image/jpeg", payload)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestServeHandleUnknownToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/media/not-a-token", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
