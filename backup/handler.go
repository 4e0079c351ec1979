package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"outfit_vault/authorization"
	"outfit_vault/catalog"
	"outfit_vault/events"
)

const maxDocumentBytes = int64(200 * 1024 * 1024)

// Module serves export and import of portable backup documents, plus the
// optional remote copies.
type Module struct {
	catalog *catalog.Module
	remote  *RemoteStore
	feed    *events.Hub
}

// RegisterRoutes mounts the backup endpoints under /backup.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, catalogModule *catalog.Module, feed *events.Hub) (*Module, error) {
	if catalogModule == nil {
		return nil, errors.New("backup: catalog module is required")
	}

	remote, err := NewRemoteStoreFromEnv()
	if err != nil {
		return nil, err
	}
	if remote == nil {
		log.Printf("backup: MINIO_ENDPOINT not set, remote backups disabled")
	}

	module := &Module{catalog: catalogModule, remote: remote, feed: feed}

	group := router.Group("/backup")
	if guard != nil {
		group.Use(guard.RequireUnlocked())
	}
	group.GET("/export", module.handleExport)
	group.POST("/import", module.handleImport)
	group.GET("/remote", module.handleRemoteList)
	group.POST("/remote/push", module.handleRemotePush)
	group.POST("/remote/restore", module.handleRemoteRestore)

	return module, nil
}

func (m *Module) handleExport(c *gin.Context) {
	ctx := c.Request.Context()

	records, requested, err := m.exportRecords(ctx, c.Query("ids"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load outfits"})
		return
	}
	if requested > 0 && len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "selection matched no outfits"})
		return
	}

	document, err := Encode(records)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode backup"})
		return
	}

	filename := fmt.Sprintf("outfit-vault-%s.json", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json", document)
}

// exportRecords loads either the whole vault or the requested subset. The
// second return value is how many ids the caller asked for.
func (m *Module) exportRecords(ctx context.Context, rawIDs string) ([]catalog.Outfit, int, error) {
	store := m.catalog.Store()

	ids := make([]string, 0)
	for _, part := range strings.Split(rawIDs, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		records, err := store.GetAll(ctx)
		return records, 0, err
	}

	records, err := store.GetMany(ctx, ids)
	return records, len(ids), err
}

func (m *Module) handleImport(c *gin.Context) {
	raw, err := m.readDocument(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	report, err := Import(ctx, m.catalog.Store(), raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrUnsupportedVersion):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to import backup"})
		}
		return
	}

	if report.Imported > 0 {
		if err := m.catalog.Refresh(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh catalog"})
			return
		}
		m.feed.Broadcast("outfits.imported")
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (m *Module) handleRemoteList(c *gin.Context) {
	if !m.remote.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote backup not configured"})
		return
	}

	objects, err := m.remote.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list backups", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backups": objects})
}

func (m *Module) handleRemotePush(c *gin.Context) {
	if !m.remote.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote backup not configured"})
		return
	}

	ctx := c.Request.Context()
	records, err := m.catalog.Store().GetAll(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load outfits"})
		return
	}

	document, err := Encode(records)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode backup"})
		return
	}

	name, err := m.remote.Push(ctx, document)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to push backup", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"name": name, "size": len(document), "outfits": len(records)})
}

type restoreRequest struct {
	Name string `json:"name" binding:"required"`
}

func (m *Module) handleRemoteRestore(c *gin.Context) {
	if !m.remote.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote backup not configured"})
		return
	}

	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	raw, err := m.remote.Pull(ctx, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pull backup", "details": err.Error()})
		return
	}

	report, err := Import(ctx, m.catalog.Store(), raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrUnsupportedVersion):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to import backup"})
		}
		return
	}

	if report.Imported > 0 {
		if err := m.catalog.Refresh(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh catalog"})
			return
		}
		m.feed.Broadcast("outfits.imported")
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// readDocument pulls the backup payload from either a multipart form or the
// raw request body.
func (m *Module) readDocument(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fileHeader, err := c.FormFile("backup")
		if err != nil {
			return nil, errors.New("backup file is required")
		}
		if fileHeader.Size > 0 && fileHeader.Size > maxDocumentBytes {
			return nil, fmt.Errorf("backup size exceeds %d bytes", maxDocumentBytes)
		}

		src, err := fileHeader.Open()
		if err != nil {
			return nil, errors.New("could not open backup upload")
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, maxDocumentBytes+1))
		if err != nil {
			return nil, errors.New("could not read backup upload")
		}
		if int64(len(data)) > maxDocumentBytes {
			return nil, fmt.Errorf("backup size exceeds %d bytes", maxDocumentBytes)
		}
		if len(data) == 0 {
			return nil, errors.New("backup upload is empty")
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, errors.New("could not read request body")
	}
	if int64(len(data)) > maxDocumentBytes {
		return nil, fmt.Errorf("backup size exceeds %d bytes", maxDocumentBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("backup document is required")
	}
	return data, nil
}
