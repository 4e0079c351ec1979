package media

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Module serves live payload handles over HTTP.
type Module struct {
	cache *HandleCache
}

// RegisterRoutes mounts the handle endpoint. Handle tokens are unguessable,
// so the route stays outside the vault guard and plain img tags can load it.
func RegisterRoutes(router *gin.Engine) *Module {
	module := &Module{cache: NewHandleCache()}
	router.GET("/media/:token", module.handleServe)
	return module
}

// Cache exposes the handle cache for modules that mint handles.
func (m *Module) Cache() *HandleCache {
	if m == nil {
		return nil
	}
	return m.cache
}

func (m *Module) handleServe(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	payload, mime, ok := m.cache.Lookup(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "media handle not found"})
		return
	}

	// handles die when their record leaves the visible set, so responses
	// must not outlive them in shared caches
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mime, payload)
}
