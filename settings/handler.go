package settings

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"outfit_vault/authorization"
	"outfit_vault/events"
)

// Module stores the vault preferences.
type Module struct {
	db    *gorm.DB
	store *Store
	feed  *events.Hub
}

// RegisterRoutes opens the database and mounts the preference endpoints.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, feed *events.Hub) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&blob{}); err != nil {
		return nil, fmt.Errorf("settings: migrate models: %w", err)
	}

	module := &Module{db: db, store: &Store{db: db}, feed: feed}

	group := router.Group("/settings")
	if guard != nil {
		group.Use(guard.RequireUnlocked())
	}
	group.GET("", module.handleGet)
	group.PUT("", module.handleSave)

	return module, nil
}

func (m *Module) handleGet(c *gin.Context) {
	document, err := m.store.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": document})
}

func (m *Module) handleSave(c *gin.Context) {
	var document Document
	if err := c.ShouldBindJSON(&document); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	saved, err := m.store.Save(c.Request.Context(), document)
	if err != nil {
		if errors.Is(err, ErrInvalidTheme) {
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidTheme.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}

	m.feed.Broadcast("settings.updated")
	c.JSON(http.StatusOK, gin.H{"settings": saved})
}
