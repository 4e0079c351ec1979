package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"outfit_vault/authorization"
	"outfit_vault/events"
	"outfit_vault/imaging"
	"outfit_vault/media"
)

const (
	maxListLimit         = 500
	defaultThumbnailSize = 512
	defaultMaxPhotoBytes = int64(15 * 1024 * 1024)
)

// Module wires the outfit catalog together: record store, view snapshot,
// undo slot and the supporting caches.
type Module struct {
	db       *gorm.DB
	store    *Store
	view     *ViewModel
	undo     *undoSlot
	handles  *media.HandleCache
	feed     *events.Hub
	previews *previewCache

	undoWindow      time.Duration
	maxImageDim     int
	thumbSize       int
	maxUploadBytes  int64
	maxArchiveBytes int64
}

// RegisterRoutes opens the vault database, migrates the schema and mounts
// the catalog endpoints under /outfits.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, handles *media.HandleCache, feed *events.Hub) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	store := NewStore(db)
	if err := store.EnsureSchema(); err != nil {
		return nil, err
	}

	module := &Module{
		db:       db,
		store:    store,
		view:     NewViewModel(store),
		undo:     newUndoSlot(),
		handles:  handles,
		feed:     feed,
		previews: newPreviewCacheFromEnv(),

		undoWindow:      parseEnvDuration("CATALOG_UNDO_WINDOW", defaultUndoWindow),
		maxImageDim:     parseEnvInt("CATALOG_MAX_IMAGE_DIMENSION", imaging.DefaultMaxDimension),
		thumbSize:       parseEnvInt("CATALOG_THUMBNAIL_SIZE", defaultThumbnailSize),
		maxUploadBytes:  parseEnvBytes("CATALOG_MAX_PHOTO_BYTES", defaultMaxPhotoBytes),
		maxArchiveBytes: parseEnvBytes("CATALOG_MAX_ARCHIVE_BYTES", defaultMaxArchiveBytes),
	}

	if err := module.view.Reload(context.Background()); err != nil {
		return nil, fmt.Errorf("catalog: warm view snapshot: %w", err)
	}

	group := router.Group("/outfits")
	if guard != nil {
		group.Use(guard.RequireUnlocked())
	}
	group.GET("", module.handleList)
	group.POST("", module.handleCreate)
	group.GET("/tags", module.handleListTags)
	group.GET("/undo", module.handleUndoState)
	group.POST("/undo", module.handleUndo)
	group.POST("/batch/favorite", module.handleBatchFavorite)
	group.POST("/batch/delete", module.handleBatchDelete)
	group.POST("/import-archive", module.handleImportArchive)
	group.GET("/:id", module.handleGet)
	group.PUT("/:id", module.handleUpdate)
	group.DELETE("/:id", module.handleDelete)
	group.POST("/:id/favorite", module.handleToggleFavorite)
	group.POST("/:id/worn", module.handleMarkWorn)
	group.GET("/:id/photo", module.handlePhoto)
	group.GET("/:id/thumbnail", module.handleThumbnail)

	return module, nil
}

// Store exposes the record store for sibling modules.
func (m *Module) Store() *Store {
	if m == nil {
		return nil
	}
	return m.store
}

// Refresh reloads the view snapshot after out-of-band writes, for example a
// backup import.
func (m *Module) Refresh(ctx context.Context) error {
	return m.refresh(ctx)
}

func (m *Module) refresh(ctx context.Context) error {
	if err := m.view.Reload(ctx); err != nil {
		return fmt.Errorf("catalog: refresh view snapshot: %w", err)
	}
	return nil
}

func (m *Module) notify(eventType string, ids ...string) {
	m.feed.Broadcast(eventType, ids...)
}

type outfitDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Rating       int      `json:"rating"`
	Favorite     bool     `json:"favorite"`
	CreatedAt    int64    `json:"created_at"`
	Tags         []string `json:"tags"`
	Notes        string   `json:"notes,omitempty"`
	WearCount    int64    `json:"wear_count"`
	LastWornAt   int64    `json:"last_worn_at"`
	ImageMime    string   `json:"image_mime,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	ThumbnailURL string   `json:"thumbnail_url"`
}

// toDTO projects a record for responses and mints its payload handle.
func (m *Module) toDTO(record *Outfit) outfitDTO {
	return outfitDTO{
		ID:           record.ID,
		Name:         record.Name,
		Rating:       record.Rating,
		Favorite:     record.Favorite,
		CreatedAt:    record.CreatedAtMS,
		Tags:         record.TagList(),
		Notes:        record.Notes,
		WearCount:    record.WearCount,
		LastWornAt:   record.LastWornMS,
		ImageMime:    record.ImageMime,
		ImageURL:     m.handles.Acquire(record.ID, record.ImageMime, record.Image),
		ThumbnailURL: "/outfits/" + record.ID + "/thumbnail",
	}
}

func (m *Module) handleList(c *gin.Context) {
	criteria, err := parseCriteria(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// derive from the request's own criteria so concurrent list requests
	// cannot render each other's filters
	visible := Derive(m.view.Snapshot(), criteria)

	dtos := make([]outfitDTO, 0, len(visible))
	visibleIDs := make([]string, 0, len(visible))
	for i := range visible {
		dtos = append(dtos, m.toDTO(&visible[i]))
		visibleIDs = append(visibleIDs, visible[i].ID)
	}
	m.handles.RetainOnly(visibleIDs)

	c.JSON(http.StatusOK, gin.H{"outfits": dtos, "total": len(dtos)})
}

func (m *Module) handleCreate(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}

	payload, err := m.readPhoto(fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rating := 0.0
	if raw := strings.TrimSpace(c.PostForm("rating")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rating value"})
			return
		}
		rating = value
	}

	favorite := false
	if raw := strings.TrimSpace(c.PostForm("favorite")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid favorite value"})
			return
		}
		favorite = value
	}

	normalized := imaging.Normalize(payload, m.maxImageDim)

	outfit, err := NewOutfit(OutfitParams{
		Name:      c.PostForm("name"),
		Rating:    rating,
		Favorite:  favorite,
		Tags:      splitTagsField(c.PostForm("tags")),
		Notes:     c.PostForm("notes"),
		Image:     normalized,
		ImageMime: imaging.Sniff(normalized),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := m.store.Add(ctx, outfit); err != nil {
		if errors.Is(err, ErrIDExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "outfit id already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store outfit"})
		return
	}

	if err := m.refresh(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh catalog"})
		return
	}
	m.notify("outfits.created", outfit.ID)

	c.JSON(http.StatusCreated, gin.H{"outfit": m.toDTO(outfit)})
}

type updateOutfitRequest struct {
	Name       *string   `json:"name"`
	Rating     *float64  `json:"rating"`
	Favorite   *bool     `json:"favorite"`
	Tags       *[]string `json:"tags"`
	Notes      *string   `json:"notes"`
	WearCount  *int64    `json:"wear_count"`
	LastWornAt *int64    `json:"last_worn_at"`
}

func (m *Module) handleUpdate(c *gin.Context) {
	outfit, ok := m.loadOutfit(c)
	if !ok {
		return
	}

	var req updateOutfitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if req.Name == nil && req.Rating == nil && req.Favorite == nil && req.Tags == nil &&
		req.Notes == nil && req.WearCount == nil && req.LastWornAt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if req.Name != nil {
		outfit.Name = *req.Name
	}
	if req.Rating != nil {
		outfit.Rating = clampRating(*req.Rating)
	}
	if req.Favorite != nil {
		outfit.Favorite = *req.Favorite
	}
	if req.Tags != nil {
		outfit.SetTags(*req.Tags)
	}
	if req.Notes != nil {
		outfit.Notes = *req.Notes
	}
	if req.WearCount != nil {
		outfit.WearCount = *req.WearCount
	}
	if req.LastWornAt != nil {
		outfit.LastWornMS = *req.LastWornAt
	}

	ctx := c.Request.Context()
	if err := m.store.Put(ctx, outfit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update outfit"})
		return
	}
	if err := m.refresh(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh catalog"})
		return
	}
	m.notify("outfits.updated", outfit.ID)

	c.JSON(http.StatusOK, gin.H{"outfit": m.toDTO(outfit)})
}

func (m *Module) handleGet(c *gin.Context) {
	outfit, ok := m.loadOutfit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"outfit": m.toDTO(outfit)})
}

func (m *Module) handleDelete(c *gin.Context) {
	outfit, ok := m.loadOutfit(c)
	if !ok {
		return
	}

	deleted, expiresAt, err := m.DeleteBatch(c.Request.Context(), []string{outfit.ID})
	if err != nil {
		if errors.Is(err, ErrEmptySelection) {
			c.JSON(http.StatusNotFound, gin.H{"error": "outfit not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete outfit"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "undo_expires_at": expiresAt.UTC()})
}

func (m *Module) handleToggleFavorite(c *gin.Context) {
	outfit, ok := m.loadOutfit(c)
	if !ok {
		return
	}

	outfit.Favorite = !outfit.Favorite

	ctx := c.Request.Context()
	if err := m.store.Put(ctx, outfit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update outfit"})
		return
	}
	if err := m.refresh(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh catalog"})
		return
	}
	m.notify("outfits.favorite", outfit.ID)

	c.JSON(http.StatusOK, gin.H{"outfit": m.toDTO(outfit)})
}

func (m *Module) handleMarkWorn(c *gin.Context) {
	outfit, ok := m.loadOutfit(c)
	if !ok {
		return
	}

	outfit.WearCount++
	outfit.LastWornMS = nowMillis()

	ctx := c.Request.Context()
	if err := m.store.Put(ctx, outfit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update outfit"})
		return
	}
	if err := m.refresh(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh catalog"})
		return
	}
	m.notify("outfits.worn", outfit.ID)

	c.JSON(http.StatusOK, gin.H{"outfit": m.toDTO(outfit)})
}

func (m *Module) handlePhoto(c *gin.Context) {
	outfit, ok := m.loadOutfit(c)
	if !ok {
		return
	}

	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, outfit.ImageMime, outfit.Image)
}

func (m *Module) handleThumbnail(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outfit id is required"})
		return
	}

	ctx := c.Request.Context()
	if data, ok := m.previews.get(ctx, id); ok {
		c.Header("Cache-Control", "private, max-age=86400")
		c.Data(http.StatusOK, "image/jpeg", data)
		return
	}

	outfit, err := m.store.Get(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load outfit"})
		return
	}
	if outfit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "outfit not found"})
		return
	}

	thumb := imaging.CropSquare(outfit.Image, m.thumbSize)
	m.previews.store(ctx, id, thumb)

	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, imaging.Sniff(thumb), thumb)
}

func (m *Module) handleListTags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tags": m.view.TagUniverse()})
}

func (m *Module) handleUndoState(c *gin.Context) {
	count, expiresAt := m.undo.pending()
	if count == 0 {
		c.JSON(http.StatusOK, gin.H{"pending": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": count, "expires_at": expiresAt.UTC()})
}

func (m *Module) handleUndo(c *gin.Context) {
	restored, skipped, err := m.RestoreLastDeleted(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to restore outfits"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored, "skipped": skipped})
}

type batchRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (m *Module) handleBatchFavorite(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	favorite, updated, err := m.FlipFavorites(c.Request.Context(), req.IDs)
	if err != nil {
		if errors.Is(err, ErrEmptySelection) {
			c.JSON(http.StatusNotFound, gin.H{"error": "selection matched no outfits"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update favorites"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"favorite": favorite, "updated": updated})
}

func (m *Module) handleBatchDelete(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	deleted, expiresAt, err := m.DeleteBatch(c.Request.Context(), req.IDs)
	if err != nil {
		if errors.Is(err, ErrEmptySelection) {
			c.JSON(http.StatusNotFound, gin.H{"error": "selection matched no outfits"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete outfits"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "undo_expires_at": expiresAt.UTC()})
}

func (m *Module) handleImportArchive(c *gin.Context) {
	fileHeader, err := c.FormFile("archive")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
		return
	}

	result, err := m.ImportArchive(c.Request.Context(), fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// loadOutfit resolves the :id param, writing the error response on failure.
func (m *Module) loadOutfit(c *gin.Context) (*Outfit, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outfit id is required"})
		return nil, false
	}

	outfit, err := m.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load outfit"})
		return nil, false
	}
	if outfit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "outfit not found"})
		return nil, false
	}
	return outfit, true
}

// readPhoto buffers an uploaded photo under the configured size limit.
func (m *Module) readPhoto(fileHeader *multipart.FileHeader) ([]byte, error) {
	if fileHeader.Size > 0 && fileHeader.Size > m.maxUploadBytes {
		return nil, fmt.Errorf("photo size exceeds %d bytes", m.maxUploadBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, errors.New("could not open photo upload")
	}
	defer src.Close()

	var buffer bytes.Buffer
	written, err := io.Copy(&buffer, io.LimitReader(src, m.maxUploadBytes+1))
	if err != nil {
		return nil, errors.New("could not read photo upload")
	}
	if written > m.maxUploadBytes {
		return nil, fmt.Errorf("photo size exceeds %d bytes", m.maxUploadBytes)
	}
	if written == 0 {
		return nil, errors.New("photo upload is empty")
	}
	return buffer.Bytes(), nil
}

func parseCriteria(c *gin.Context) (Criteria, error) {
	order, ok := normalizeViewSortOrder(c.Query("sort"))
	if !ok {
		return Criteria{}, errors.New("invalid sort value")
	}
	direction := normalizeViewSortDirection(c.Query("direction"), order)

	limit, err := parsePositiveLimit(c.Query("limit"))
	if err != nil {
		return Criteria{}, errors.New("invalid limit value")
	}

	minRating := 0
	if raw := strings.TrimSpace(c.Query("min_rating")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Criteria{}, errors.New("invalid min_rating value")
		}
		minRating = clampRating(float64(value))
	}

	staleDays := 0
	if raw := strings.TrimSpace(c.Query("stale_days")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return Criteria{}, errors.New("invalid stale_days value")
		}
		staleDays = value
	}

	favoritesOnly := false
	if raw := strings.TrimSpace(c.Query("favorites")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return Criteria{}, errors.New("invalid favorites value")
		}
		favoritesOnly = value
	}

	return Criteria{
		Query:         c.Query("q"),
		FavoritesOnly: favoritesOnly,
		MinRating:     minRating,
		StaleDays:     staleDays,
		Tag:           c.Query("tag"),
		Sort:          order,
		Direction:     direction,
		Limit:         limit,
	}, nil
}

// parsePositiveLimit parses the list limit query parameter.
func parsePositiveLimit(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid limit")
	}

	if value > maxListLimit {
		return maxListLimit, nil
	}
	return value, nil
}

func parseEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		log.Printf("catalog: invalid %s value %q, using %d", key, raw, fallback)
		return fallback
	}
	return value
}

func parseEnvBytes(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		log.Printf("catalog: invalid %s value %q, using %d", key, raw, fallback)
		return fallback
	}
	return value
}

func parseEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		log.Printf("catalog: invalid %s value %q, using %s", key, raw, fallback)
		return fallback
	}
	return value
}
