package catalog

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"outfit_vault/imaging"
)

const (
	maxTags           = 20
	maxNameLength     = 200
	defaultOutfitName = "Untitled outfit"

	minRating = 0
	maxRating = 5
)

var ErrMissingImage = errors.New("catalog: outfit photo payload is required")

// Outfit is a photographed outfit together with its catalog metadata. The
// photo travels inside the record so a vault export is self-contained.
type Outfit struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	Name        string         `gorm:"size:200;not null;index" json:"name"`
	Rating      int            `gorm:"not null;default:0;index" json:"rating"`
	Favorite    bool           `gorm:"not null;default:false;index" json:"favorite"`
	CreatedAtMS int64          `gorm:"column:created_at_ms;not null;index" json:"created_at"`
	Tags        datatypes.JSON `gorm:"type:json" json:"tags,omitempty"`
	Notes       string         `gorm:"type:text" json:"notes,omitempty"`
	WearCount   int64          `gorm:"not null;default:0;index" json:"wear_count"`
	LastWornMS  int64          `gorm:"column:last_worn_ms;not null;default:0;index" json:"last_worn_at"`
	Image       []byte         `gorm:"not null" json:"-"`
	ImageMime   string         `gorm:"size:64;not null;default:''" json:"image_mime"`
	CreatedAt   time.Time      `json:"-"`
	UpdatedAt   time.Time      `json:"-"`
}

// TableName pins the Outfit model to its table.
func (Outfit) TableName() string {
	return "outfits"
}

// OutfitParams carries the inputs for building a record. Zero values fall
// back to the documented defaults.
type OutfitParams struct {
	ID         string
	Name       string
	Rating     float64
	Favorite   bool
	CreatedAt  int64 // epoch millis, 0 means now
	Tags       []string
	Notes      string
	WearCount  int64
	LastWornAt int64 // epoch millis, 0 means never worn
	Image      []byte
	ImageMime  string
}

// NewOutfit validates params and returns a well-formed record. Every creation
// path, including backup and archive imports, goes through here.
func NewOutfit(params OutfitParams) (*Outfit, error) {
	if len(params.Image) == 0 {
		return nil, ErrMissingImage
	}

	outfit := &Outfit{
		ID:          strings.TrimSpace(params.ID),
		Name:        params.Name,
		Rating:      clampRating(params.Rating),
		Favorite:    params.Favorite,
		CreatedAtMS: params.CreatedAt,
		Notes:       params.Notes,
		WearCount:   params.WearCount,
		LastWornMS:  params.LastWornAt,
		Image:       params.Image,
		ImageMime:   strings.TrimSpace(params.ImageMime),
	}
	if outfit.ID == "" {
		outfit.ID = NewOutfitID()
	}
	outfit.SetTags(params.Tags)
	outfit.normalize()

	return outfit, nil
}

// NewOutfitID returns a time-ordered unique id for a new record.
func NewOutfitID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// TagList decodes the stored tag set. Corrupt tag payloads read as empty.
func (o *Outfit) TagList() []string {
	if len(o.Tags) == 0 {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal(o.Tags, &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

// SetTags normalizes and stores the given tag set.
func (o *Outfit) SetTags(tags []string) {
	payload, _ := json.Marshal(normalizeTags(tags))
	o.Tags = datatypes.JSON(payload)
}

// HasTag reports whether the outfit carries the given tag.
func (o *Outfit) HasTag(tag string) bool {
	needle := strings.ToLower(strings.TrimSpace(tag))
	if needle == "" {
		return false
	}
	for _, candidate := range o.TagList() {
		if candidate == needle {
			return true
		}
	}
	return false
}

// normalize re-applies the field invariants. Store write paths call this so
// no record reaches the database unchecked.
func (o *Outfit) normalize() {
	o.ID = strings.TrimSpace(o.ID)
	o.Name = sanitizeName(o.Name)
	o.Rating = clampRating(float64(o.Rating))
	if o.CreatedAtMS <= 0 {
		o.CreatedAtMS = nowMillis()
	}
	o.SetTags(o.TagList())
	o.Notes = strings.TrimSpace(o.Notes)
	if o.WearCount < 0 {
		o.WearCount = 0
	}
	if o.LastWornMS < 0 {
		o.LastWornMS = 0
	}
	if o.ImageMime == "" && len(o.Image) > 0 {
		o.ImageMime = imaging.Sniff(o.Image)
	}
}

// clampRating forces any rating input into the 0..5 integer range. Fractions
// round to the nearest step, everything unusable collapses to zero.
func clampRating(value float64) int {
	if math.IsNaN(value) {
		return minRating
	}
	if math.IsInf(value, 1) {
		return maxRating
	}
	if math.IsInf(value, -1) {
		return minRating
	}

	rounded := int(math.Round(value))
	if rounded < minRating {
		return minRating
	}
	if rounded > maxRating {
		return maxRating
	}
	return rounded
}

// sanitizeName trims the display name and substitutes the shared placeholder
// for blank input.
func sanitizeName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultOutfitName
	}
	if runes := []rune(trimmed); len(runes) > maxNameLength {
		trimmed = strings.TrimSpace(string(runes[:maxNameLength]))
	}
	return trimmed
}

// normalizeTags lowercases, trims and deduplicates tags, keeping first-seen
// order and capping the set at maxTags entries.
func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		cleaned := strings.ToLower(strings.TrimSpace(tag))
		if cleaned == "" {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		normalized = append(normalized, cleaned)
		if len(normalized) == maxTags {
			break
		}
	}
	return normalized
}

// splitTagsField turns a comma separated form value into raw tag candidates.
func splitTagsField(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
