package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"outfit_vault/catalog"
	"outfit_vault/imaging"
)

const documentVersion = 1

var (
	ErrInvalidDocument    = errors.New("backup: not a vault backup document")
	ErrUnsupportedVersion = errors.New("backup: unsupported document version")
)

// Document is the envelope around exported outfits. The key casing is part of
// the portability contract, existing exports must keep decoding.
type Document struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Outfits    []Entry   `json:"outfits"`
}

// Entry is one outfit inside a backup document. The photo rides along as a
// data URL so a single file restores the whole record.
type Entry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Rating       float64  `json:"rating"`
	Favorite     bool     `json:"favorite"`
	CreatedAt    int64    `json:"createdAt"`
	Tags         []string `json:"tags"`
	Notes        string   `json:"notes,omitempty"`
	WearCount    int64    `json:"wearCount"`
	LastWornAt   int64    `json:"lastWornAt"`
	ImageDataURL string   `json:"imageDataUrl"`
}

// Skip records one entry an import left out.
type Skip struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// ImportReport summarises an import run.
type ImportReport struct {
	Imported int    `json:"imported"`
	Rekeyed  int    `json:"rekeyed"`
	Skipped  []Skip `json:"skipped,omitempty"`
}

func (r *ImportReport) skip(index int, id, reason string) {
	r.Skipped = append(r.Skipped, Skip{Index: index, ID: id, Reason: reason})
}

// Encode renders records into a portable backup document.
func Encode(records []catalog.Outfit) ([]byte, error) {
	entries := make([]Entry, 0, len(records))
	for i := range records {
		entries = append(entries, entryFromRecord(&records[i]))
	}

	document := Document{
		Version:    documentVersion,
		ExportedAt: time.Now().UTC(),
		Outfits:    entries,
	}

	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: encode document: %w", err)
	}
	return data, nil
}

// documentEnvelope keeps the entries raw so one broken entry cannot take the
// whole import down with it.
type documentEnvelope struct {
	Version int               `json:"version"`
	Outfits []json.RawMessage `json:"outfits"`
}

// Import applies a backup document to the store. The envelope must parse,
// broken entries are skipped and reported. Entries whose id is already taken
// come in under a fresh id.
func Import(ctx context.Context, store *catalog.Store, raw []byte) (*ImportReport, error) {
	var envelope documentEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, ErrInvalidDocument
	}
	if envelope.Outfits == nil {
		return nil, ErrInvalidDocument
	}
	if envelope.Version > documentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, envelope.Version)
	}

	report := &ImportReport{}
	for index, rawEntry := range envelope.Outfits {
		var entry Entry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			report.skip(index, "", "entry is not an outfit object")
			continue
		}

		record, err := recordFromEntry(&entry)
		if err != nil {
			report.skip(index, entry.ID, err.Error())
			continue
		}

		rekeyed, err := addRekeying(ctx, store, record)
		if err != nil {
			log.Printf("backup: import entry %d (%s): %v", index, entry.ID, err)
			report.skip(index, entry.ID, "store write failed")
			continue
		}
		if rekeyed {
			report.Rekeyed++
		}
		report.Imported++
	}

	return report, nil
}

func entryFromRecord(record *catalog.Outfit) Entry {
	return Entry{
		ID:           record.ID,
		Name:         record.Name,
		Rating:       float64(record.Rating),
		Favorite:     record.Favorite,
		CreatedAt:    record.CreatedAtMS,
		Tags:         record.TagList(),
		Notes:        record.Notes,
		WearCount:    record.WearCount,
		LastWornAt:   record.LastWornMS,
		ImageDataURL: imaging.EncodeDataURL(record.ImageMime, record.Image),
	}
}

// recordFromEntry rebuilds a catalog record. The photo bytes are stored as
// decoded, an export and re-import must not recompress them.
func recordFromEntry(entry *Entry) (*catalog.Outfit, error) {
	if strings.TrimSpace(entry.ImageDataURL) == "" {
		return nil, errors.New("missing image payload")
	}

	mime, payload, err := imaging.DecodeDataURL(entry.ImageDataURL)
	if err != nil {
		return nil, fmt.Errorf("broken image payload: %v", err)
	}

	return catalog.NewOutfit(catalog.OutfitParams{
		ID:         entry.ID,
		Name:       entry.Name,
		Rating:     entry.Rating,
		Favorite:   entry.Favorite,
		CreatedAt:  entry.CreatedAt,
		Tags:       entry.Tags,
		Notes:      entry.Notes,
		WearCount:  entry.WearCount,
		LastWornAt: entry.LastWornAt,
		Image:      payload,
		ImageMime:  mime,
	})
}

// addRekeying inserts the record, minting a fresh id when the current one is
// already taken. Reports whether a rekey happened.
func addRekeying(ctx context.Context, store *catalog.Store, record *catalog.Outfit) (bool, error) {
	existing, err := store.Get(ctx, record.ID)
	if err != nil {
		return false, err
	}

	rekeyed := false
	if existing != nil {
		record.ID = catalog.NewOutfitID()
		rekeyed = true
	}

	if err := store.Add(ctx, record); err != nil {
		if errors.Is(err, catalog.ErrIDExists) && !rekeyed {
			record.ID = catalog.NewOutfitID()
			if err := store.Add(ctx, record); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, err
	}
	return rekeyed, nil
}
