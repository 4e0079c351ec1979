package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrIDExists reports an insert whose id is already occupied.
var ErrIDExists = errors.New("catalog: outfit id already exists")

// Store persists outfits through GORM. Write paths run inside transactions
// and re-apply the record invariants before touching rows.
type Store struct {
	db *gorm.DB
}

// NewStore wraps the given database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies the additive schema migration for the outfit table.
func (s *Store) EnsureSchema() error {
	if s == nil || s.db == nil {
		return errors.New("catalog: store not initialized")
	}
	if err := s.db.AutoMigrate(&Outfit{}); err != nil {
		return fmt.Errorf("catalog: migrate outfits: %w", err)
	}
	return nil
}

// Add inserts a new record and fails with ErrIDExists when the id is taken.
func (s *Store) Add(ctx context.Context, outfit *Outfit) error {
	if outfit == nil {
		return errors.New("catalog: nil outfit")
	}
	outfit.normalize()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Outfit{}).Where("id = ?", outfit.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("catalog: check outfit id: %w", err)
		}
		if count > 0 {
			return ErrIDExists
		}
		if err := tx.Create(outfit).Error; err != nil {
			return fmt.Errorf("catalog: insert outfit: %w", err)
		}
		return nil
	})
}

// Put inserts or fully replaces the record stored under its id.
func (s *Store) Put(ctx context.Context, outfit *Outfit) error {
	if outfit == nil {
		return errors.New("catalog: nil outfit")
	}
	outfit.normalize()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return putTx(tx, outfit)
	})
}

// PutAll upserts the given records in one transaction, so either every
// record lands or none do.
func (s *Store) PutAll(ctx context.Context, outfits []Outfit) error {
	if len(outfits) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range outfits {
			outfits[i].normalize()
			if err := putTx(tx, &outfits[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get loads one record. A missing id yields (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Outfit, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, nil
	}

	var outfit Outfit
	err := s.db.WithContext(ctx).Where("id = ?", trimmed).First(&outfit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load outfit: %w", err)
	}
	return &outfit, nil
}

// GetMany loads the records for the given ids, skipping missing ones.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]Outfit, error) {
	if len(ids) == 0 {
		return []Outfit{}, nil
	}

	var outfits []Outfit
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&outfits).Error; err != nil {
		return nil, fmt.Errorf("catalog: load outfits: %w", err)
	}
	return outfits, nil
}

// GetAll returns every stored record.
func (s *Store) GetAll(ctx context.Context) ([]Outfit, error) {
	var outfits []Outfit
	if err := s.db.WithContext(ctx).Find(&outfits).Error; err != nil {
		return nil, fmt.Errorf("catalog: list outfits: %w", err)
	}
	return outfits, nil
}

// Delete removes the record under id. Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id = ?", trimmed).Delete(&Outfit{}).Error; err != nil {
		return fmt.Errorf("catalog: delete outfit: %w", err)
	}
	return nil
}

// DeleteAll removes the given ids in one transaction.
func (s *Store) DeleteAll(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id IN ?", ids).Delete(&Outfit{}).Error; err != nil {
			return fmt.Errorf("catalog: delete outfits: %w", err)
		}
		return nil
	})
}

func putTx(tx *gorm.DB, outfit *Outfit) error {
	var count int64
	if err := tx.Model(&Outfit{}).Where("id = ?", outfit.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("catalog: check outfit id: %w", err)
	}
	if count == 0 {
		if err := tx.Create(outfit).Error; err != nil {
			return fmt.Errorf("catalog: insert outfit: %w", err)
		}
		return nil
	}
	if err := tx.Save(outfit).Error; err != nil {
		return fmt.Errorf("catalog: update outfit: %w", err)
	}
	return nil
}
