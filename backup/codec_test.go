package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"outfit_vault/catalog"
	"outfit_vault/imaging"
)

func newBackupStore(t *testing.T) *catalog.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "vault.db")), &gorm.Config{})
	require.NoError(t, err)
	store := catalog.NewStore(db)
	require.NoError(t, store.EnsureSchema())
	return store
}

func storedOutfit(t *testing.T, store *catalog.Store, id, name string) *catalog.Outfit {
	t.Helper()
	outfit, err := catalog.NewOutfit(catalog.OutfitParams{
		ID:         id,
		Name:       name,
		Rating:     4,
		Favorite:   true,
		Tags:       []string{"denim", "rain"},
		Notes:      "goes with boots",
		WearCount:  3,
		LastWornAt: 1_700_000_000_000,
		Image:      []byte("payload-" + id),
		ImageMime:  "image/jpeg",
	})
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), outfit))
	return outfit
}

func TestEncodeProducesPortableDocument(t *testing.T) {
	store := newBackupStore(t)
	outfit := storedOutfit(t, store, "o-1", "Denim Jacket")

	records, err := store.GetAll(context.Background())
	require.NoError(t, err)

	data, err := Encode(records)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"exportedAt"`)
	assert.Contains(t, string(data), `"imageDataUrl"`)
	assert.Contains(t, string(data), `"wearCount"`)

	var document map[string]any
	require.NoError(t, json.Unmarshal(data, &document))
	assert.EqualValues(t, 1, document["version"])
	assert.NotEmpty(t, document["exportedAt"])

	outfits, ok := document["outfits"].([]any)
	require.True(t, ok)
	require.Len(t, outfits, 1)

	entry, ok := outfits[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "o-1", entry["id"])
	assert.Equal(t, "Denim Jacket", entry["name"])
	assert.EqualValues(t, 4, entry["rating"])
	assert.Equal(t, true, entry["favorite"])
	assert.EqualValues(t, outfit.CreatedAtMS, entry["createdAt"])
	assert.EqualValues(t, 3, entry["wearCount"])
	assert.EqualValues(t, 1_700_000_000_000, entry["lastWornAt"])

	dataURL, ok := entry["imageDataUrl"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/jpeg;base64,"), dataURL)
}

func TestImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newBackupStore(t)
	original := storedOutfit(t, source, "o-1", "Denim Jacket")

	records, err := source.GetAll(ctx)
	require.NoError(t, err)
	data, err := Encode(records)
	require.NoError(t, err)

	target := newBackupStore(t)
	report, err := Import(ctx, target, data)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 0, report.Rekeyed)
	assert.Empty(t, report.Skipped)

	restored, err := target.Get(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, original.Name, restored.Name)
	assert.Equal(t, original.Rating, restored.Rating)
	assert.Equal(t, original.Favorite, restored.Favorite)
	assert.Equal(t, original.CreatedAtMS, restored.CreatedAtMS)
	assert.Equal(t, original.TagList(), restored.TagList())
	assert.Equal(t, original.Notes, restored.Notes)
	assert.Equal(t, original.WearCount, restored.WearCount)
	assert.Equal(t, original.LastWornMS, restored.LastWornMS)
	assert.Equal(t, original.ImageMime, restored.ImageMime)

	// The photo must survive byte for byte, an export and re-import never
	// recompresses it.
	assert.Equal(t, original.Image, restored.Image)
}

func TestImportRejectsBadEnvelopes(t *testing.T) {
	ctx := context.Background()
	store := newBackupStore(t)

	t.Run("not json", func(t *testing.T) {
		_, err := Import(ctx, store, []byte("not a document"))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("missing outfits key", func(t *testing.T) {
		_, err := Import(ctx, store, []byte(`{"version": 1}`))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("null outfits", func(t *testing.T) {
		_, err := Import(ctx, store, []byte(`{"version": 1, "outfits": null}`))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("newer document version", func(t *testing.T) {
		_, err := Import(ctx, store, []byte(`{"version": 2, "outfits": []}`))
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("empty outfits is a valid document", func(t *testing.T) {
		report, err := Import(ctx, store, []byte(`{"version": 1, "outfits": []}`))
		require.NoError(t, err)
		assert.Equal(t, 0, report.Imported)
		assert.Empty(t, report.Skipped)
	})
}

func TestImportSkipsBrokenEntries(t *testing.T) {
	ctx := context.Background()
	store := newBackupStore(t)

	goodImage := imaging.EncodeDataURL("image/jpeg", []byte("jpeg-payload"))
	document := fmt.Sprintf(`{
		"version": 1,
		"outfits": [
			{"id": "keep-1", "name": "Keeper", "imageDataUrl": %q},
			"just a string",
			{"id": "no-image", "name": "No Image"},
			{"id": "bad-image", "name": "Bad Image", "imageDataUrl": "data-not-a-url"}
		]
	}`, goodImage)

	report, err := Import(ctx, store, []byte(document))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 0, report.Rekeyed)
	require.Len(t, report.Skipped, 3)

	assert.Equal(t, Skip{Index: 1, Reason: "entry is not an outfit object"}, report.Skipped[0])
	assert.Equal(t, Skip{Index: 2, ID: "no-image", Reason: "missing image payload"}, report.Skipped[1])
	assert.Equal(t, 3, report.Skipped[2].Index)
	assert.Equal(t, "bad-image", report.Skipped[2].ID)
	assert.Contains(t, report.Skipped[2].Reason, "broken image payload")

	kept, err := store.Get(ctx, "keep-1")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "Keeper", kept.Name)
	assert.Equal(t, []byte("jpeg-payload"), kept.Image)
}

func TestImportRekeysCollisions(t *testing.T) {
	ctx := context.Background()
	store := newBackupStore(t)
	existing := storedOutfit(t, store, "o-1", "Original")

	payload := imaging.EncodeDataURL("image/png", []byte("other-bytes"))
	document := fmt.Sprintf(`{
		"version": 1,
		"outfits": [{"id": "o-1", "name": "Incoming", "imageDataUrl": %q}]
	}`, payload)

	report, err := Import(ctx, store, []byte(document))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Rekeyed)
	assert.Empty(t, report.Skipped)

	kept, err := store.Get(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "Original", kept.Name)

	records, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var incoming *catalog.Outfit
	for i := range records {
		if records[i].ID != existing.ID {
			incoming = &records[i]
		}
	}
	require.NotNil(t, incoming)
	assert.Equal(t, "Incoming", incoming.Name)
	assert.NotEqual(t, "o-1", incoming.ID)
	assert.Equal(t, []byte("other-bytes"), incoming.Image)
}
