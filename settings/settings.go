package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

const blobID = 1

var ErrInvalidTheme = errors.New("settings: unsupported theme")

// Document is the persisted preference blob.
type Document struct {
	Theme string `json:"theme"`
}

// Defaults returns the document used before anyone saved preferences.
func Defaults() Document {
	return Document{Theme: ThemeSystem}
}

// blob is the single-row table backing the document.
type blob struct {
	ID        uint           `gorm:"primaryKey"`
	Document  datatypes.JSON `gorm:"type:json"`
	UpdatedAt time.Time
}

// TableName pins the blob model to its table.
func (blob) TableName() string {
	return "settings"
}

// Store loads and saves the preference document.
type Store struct {
	db *gorm.DB
}

// Load returns the stored document merged over defaults. Missing or corrupt
// data reads as the defaults, preferences never block the vault.
func (s *Store) Load(ctx context.Context) (Document, error) {
	document := Defaults()

	var row blob
	err := s.db.WithContext(ctx).First(&row, blobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return document, nil
		}
		return document, fmt.Errorf("settings: load document: %w", err)
	}

	if len(row.Document) == 0 {
		return document, nil
	}
	if err := json.Unmarshal(row.Document, &document); err != nil {
		log.Printf("settings: stored document is corrupt, using defaults: %v", err)
		return Defaults(), nil
	}

	if theme, ok := normalizeTheme(document.Theme); ok {
		document.Theme = theme
	} else {
		document.Theme = ThemeSystem
	}
	return document, nil
}

// Save validates and persists the full document.
func (s *Store) Save(ctx context.Context, document Document) (Document, error) {
	theme, ok := normalizeTheme(document.Theme)
	if !ok {
		return Document{}, ErrInvalidTheme
	}
	document.Theme = theme

	payload, err := json.Marshal(document)
	if err != nil {
		return Document{}, fmt.Errorf("settings: encode document: %w", err)
	}

	row := blob{ID: blobID, Document: datatypes.JSON(payload)}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&blob{}).Where("id = ?", blobID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return tx.Model(&blob{}).Where("id = ?", blobID).Update("document", row.Document).Error
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return Document{}, fmt.Errorf("settings: save document: %w", err)
	}

	return document, nil
}

// normalizeTheme maps raw input onto the supported themes. Unknown values
// report false.
func normalizeTheme(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ThemeSystem, "auto", "default":
		return ThemeSystem, true
	case ThemeLight:
		return ThemeLight, true
	case ThemeDark:
		return ThemeDark, true
	default:
		return "", false
	}
}
