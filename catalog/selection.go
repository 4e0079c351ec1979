package catalog

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
)

// ErrEmptySelection reports a batch operation whose ids matched no records.
var ErrEmptySelection = errors.New("catalog: selection matched no outfits")

// FlipFavorites applies the majority rule to a selection: when every selected
// outfit is already a favorite the flag is cleared on all of them, otherwise
// all of them become favorites. The whole batch lands in one transaction.
func (m *Module) FlipFavorites(ctx context.Context, ids []string) (bool, int, error) {
	records, err := m.store.GetMany(ctx, dedupeIDs(ids))
	if err != nil {
		return false, 0, err
	}
	if len(records) == 0 {
		return false, 0, ErrEmptySelection
	}

	target := false
	for i := range records {
		if !records[i].Favorite {
			target = true
			break
		}
	}
	for i := range records {
		records[i].Favorite = target
	}

	if err := m.store.PutAll(ctx, records); err != nil {
		return false, 0, err
	}
	if err := m.refresh(ctx); err != nil {
		return false, 0, err
	}
	m.notify("outfits.favorite", idsOf(records)...)

	return target, len(records), nil
}

// DeleteBatch removes a selection from the store and parks the removed
// records in the undo slot for the configured window.
func (m *Module) DeleteBatch(ctx context.Context, ids []string) (int, time.Time, error) {
	records, err := m.store.GetMany(ctx, dedupeIDs(ids))
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(records) == 0 {
		return 0, time.Time{}, ErrEmptySelection
	}

	deleted := idsOf(records)
	if err := m.store.DeleteAll(ctx, deleted); err != nil {
		return 0, time.Time{}, err
	}

	m.undo.hold(records, m.undoWindow)
	m.handles.Release(deleted...)
	m.previews.invalidate(ctx, deleted...)

	if err := m.refresh(ctx); err != nil {
		return 0, time.Time{}, err
	}
	m.notify("outfits.deleted", deleted...)

	_, expiresAt := m.undo.pending()
	return len(records), expiresAt, nil
}

// RestoreLastDeleted re-inserts the batch held in the undo slot. Ids that
// were reused after the delete are skipped rather than overwritten. A second
// call, or a call after the window elapsed, restores nothing.
func (m *Module) RestoreLastDeleted(ctx context.Context) (int, int, error) {
	batch := m.undo.take()
	if len(batch) == 0 {
		return 0, 0, nil
	}

	restored := make([]string, 0, len(batch))
	skipped := 0
	for i := range batch {
		err := m.store.Add(ctx, &batch[i])
		if errors.Is(err, ErrIDExists) {
			skipped++
			continue
		}
		if err != nil {
			log.Printf("catalog: restore outfit %s failed: %v", batch[i].ID, err)
			return len(restored), skipped, err
		}
		restored = append(restored, batch[i].ID)
	}

	if len(restored) > 0 {
		if err := m.refresh(ctx); err != nil {
			return len(restored), skipped, err
		}
		m.notify("outfits.restored", restored...)
	}
	return len(restored), skipped, nil
}

// UndoState reports the recoverable batch size and its deadline.
func (m *Module) UndoState() (int, time.Time) {
	return m.undo.pending()
}

func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func idsOf(records []Outfit) []string {
	ids := make([]string, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	return ids
}
