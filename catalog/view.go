package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sort modes accepted by the catalog view.
const (
	SortCreated       = "created"
	SortRating        = "rating"
	SortName          = "name"
	SortWearCount     = "wear"
	SortLastWorn      = "worn"
	SortFavoriteFirst = "favorite"
	SortFavoritesOnly = "favorites"
)

// Criteria captures one catalog query: conjunctive filters plus a sort mode.
type Criteria struct {
	Query         string
	FavoritesOnly bool
	MinRating     int
	StaleDays     int
	Tag           string
	Sort          string
	Direction     string
	Limit         int
}

// Derive projects the record set through the criteria. The input is never
// mutated; callers get a freshly ordered slice.
func Derive(records []Outfit, criteria Criteria) []Outfit {
	return DeriveAt(records, criteria, time.Now())
}

// DeriveAt is Derive with an explicit clock for the staleness filter.
func DeriveAt(records []Outfit, criteria Criteria, now time.Time) []Outfit {
	visible := make([]Outfit, 0, len(records))
	for _, record := range records {
		if matchesCriteria(&record, criteria, now) {
			visible = append(visible, record)
		}
	}

	sortOutfits(visible, criteria.Sort, criteria.Direction)

	if criteria.Limit > 0 && criteria.Limit < len(visible) {
		visible = visible[:criteria.Limit]
	}
	return visible
}

func matchesCriteria(o *Outfit, criteria Criteria, now time.Time) bool {
	if query := strings.ToLower(strings.TrimSpace(criteria.Query)); query != "" {
		if !strings.Contains(strings.ToLower(o.Name), query) &&
			!strings.Contains(strings.ToLower(o.Notes), query) {
			return false
		}
	}

	if (criteria.FavoritesOnly || criteria.Sort == SortFavoritesOnly) && !o.Favorite {
		return false
	}

	if criteria.MinRating > 0 && o.Rating < criteria.MinRating {
		return false
	}

	if criteria.StaleDays > 0 {
		cutoff := now.Add(-time.Duration(criteria.StaleDays) * 24 * time.Hour).UnixMilli()
		// never-worn records read as 0 and always qualify as stale
		if o.LastWornMS > cutoff {
			return false
		}
	}

	if tag := strings.TrimSpace(criteria.Tag); tag != "" && !o.HasTag(tag) {
		return false
	}

	return true
}

// normalizeViewSortOrder validates the requested sort mode.
func normalizeViewSortOrder(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return SortCreated, true
	}

	switch value {
	case "created", "created_at", "creation", "newest", "date":
		return SortCreated, true
	case "rating", "ratings", "score", "stars":
		return SortRating, true
	case "name", "title", "alpha", "alphabetical":
		return SortName, true
	case "wear", "wear_count", "wears", "worn_count", "most_worn":
		return SortWearCount, true
	case "worn", "last_worn", "last_worn_at", "recent_wear":
		return SortLastWorn, true
	case "favorite", "favorite_first", "favorites_first":
		return SortFavoriteFirst, true
	case "favorites", "favorites_only", "only_favorites":
		return SortFavoritesOnly, true
	default:
		return "", false
	}
}

// normalizeViewSortDirection resolves the direction, defaulting to ascending
// for name sorts and descending everywhere else.
func normalizeViewSortDirection(raw, order string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "asc", "ascending", "ascend", "up":
		return "asc"
	case "desc", "descending", "descend", "down":
		return "desc"
	}
	if order == SortName {
		return "asc"
	}
	return "desc"
}

// sortOutfits orders the slice in place. Ordering is stable, so records that
// compare equal keep their relative input order.
func sortOutfits(list []Outfit, order, direction string) {
	if len(list) <= 1 {
		return
	}

	ascending := strings.ToLower(direction) == "asc"

	compareInts := func(a, b int64) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}

	compareNames := func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	}

	less := func(result int) bool {
		if ascending {
			return result < 0
		}
		return result > 0
	}

	sort.SliceStable(list, func(i, j int) bool {
		switch order {
		case SortRating:
			if cmp := compareInts(int64(list[i].Rating), int64(list[j].Rating)); cmp != 0 {
				return less(cmp)
			}
			if cmp := compareInts(list[i].CreatedAtMS, list[j].CreatedAtMS); cmp != 0 {
				return less(cmp)
			}
			return less(strings.Compare(list[i].ID, list[j].ID))
		case SortName:
			if cmp := compareNames(list[i].Name, list[j].Name); cmp != 0 {
				return less(cmp)
			}
			if cmp := compareInts(list[i].CreatedAtMS, list[j].CreatedAtMS); cmp != 0 {
				return less(cmp)
			}
			return less(strings.Compare(list[i].ID, list[j].ID))
		case SortWearCount:
			if cmp := compareInts(list[i].WearCount, list[j].WearCount); cmp != 0 {
				return less(cmp)
			}
			if cmp := compareInts(list[i].LastWornMS, list[j].LastWornMS); cmp != 0 {
				return less(cmp)
			}
			return less(compareInts(list[i].CreatedAtMS, list[j].CreatedAtMS))
		case SortLastWorn:
			// never-worn records read as 0 and land at the old end in
			// either direction
			if cmp := compareInts(list[i].LastWornMS, list[j].LastWornMS); cmp != 0 {
				return less(cmp)
			}
			return less(compareInts(list[i].CreatedAtMS, list[j].CreatedAtMS))
		case SortFavoriteFirst:
			// fixed ordering: favorites first, newest first inside each group
			if list[i].Favorite != list[j].Favorite {
				return list[i].Favorite
			}
			if cmp := compareInts(list[i].CreatedAtMS, list[j].CreatedAtMS); cmp != 0 {
				return cmp > 0
			}
			return strings.Compare(list[i].ID, list[j].ID) > 0
		default:
			// created and favorites-only both order by creation time
			if cmp := compareInts(list[i].CreatedAtMS, list[j].CreatedAtMS); cmp != 0 {
				return less(cmp)
			}
			return less(strings.Compare(list[i].ID, list[j].ID))
		}
	})
}

// ViewModel keeps an in-memory snapshot of the catalog plus the active query
// criteria and recomputes the visible sequence on demand. Mutations go
// through the store first and then refresh the snapshot.
type ViewModel struct {
	mu       sync.RWMutex
	store    *Store
	records  []Outfit
	criteria Criteria
}

// NewViewModel builds an empty view over the store.
func NewViewModel(store *Store) *ViewModel {
	return &ViewModel{
		store:    store,
		criteria: Criteria{Sort: SortCreated, Direction: "desc"},
	}
}

// Reload replaces the snapshot with the current store contents.
func (vm *ViewModel) Reload(ctx context.Context) error {
	records, err := vm.store.GetAll(ctx)
	if err != nil {
		return err
	}

	vm.mu.Lock()
	vm.records = records
	vm.mu.Unlock()
	return nil
}

// SetCriteria replaces the active query criteria.
func (vm *ViewModel) SetCriteria(criteria Criteria) {
	vm.mu.Lock()
	vm.criteria = criteria
	vm.mu.Unlock()
}

// Criteria returns the active query criteria.
func (vm *ViewModel) Criteria() Criteria {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.criteria
}

// Visible projects the snapshot through the active criteria.
func (vm *ViewModel) Visible() []Outfit {
	vm.mu.RLock()
	records := vm.records
	criteria := vm.criteria
	vm.mu.RUnlock()

	return Derive(records, criteria)
}

// Snapshot returns a copy of the raw record snapshot.
func (vm *ViewModel) Snapshot() []Outfit {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	out := make([]Outfit, len(vm.records))
	copy(out, vm.records)
	return out
}

// Lookup finds a record in the snapshot by id.
func (vm *ViewModel) Lookup(id string) (Outfit, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	for _, record := range vm.records {
		if record.ID == id {
			return record, true
		}
	}
	return Outfit{}, false
}

// TagUniverse returns the sorted distinct tag set across the snapshot.
func (vm *ViewModel) TagUniverse() []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	seen := make(map[string]struct{})
	tags := make([]string, 0)
	for i := range vm.records {
		for _, tag := range vm.records[i].TagList() {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}
