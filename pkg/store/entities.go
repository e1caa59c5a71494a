package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/edgetill/posbridge/pkg/models"
)

// Typed accessors for the entities the workflow engine, conflict resolver
// and migration loader touch directly. Codecs compose their own queries
// through DB(); these cover the paths where a typed method keeps the
// callers readable.

// GetOrderByReference loads a full order aggregate by its cross-node
// reference. Returns nil without error when no aggregate exists.
func (s *Store) GetOrderByReference(ctx context.Context, reference string) (*models.SalesOrder, error) {
	var order models.SalesOrder
	err := s.db.WithContext(ctx).
		Preload("Lines").
		Preload("Payments").
		Preload("Invoice").
		First(&order, "reference = ?", reference).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder loads a full order aggregate by primary key.
func (s *Store) GetOrder(ctx context.Context, id models.OrderID) (*models.SalesOrder, error) {
	var order models.SalesOrder
	err := s.db.WithContext(ctx).
		Preload("Lines").
		Preload("Payments").
		Preload("Invoice").
		First(&order, "id = ?", id.String()).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// NextInvoiceNumber allocates the next number in the local numbering
// scheme. The local scheme applies even when the fiscal authorization
// token was issued externally.
func (s *Store) NextInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Invoice{}).Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%06d", prefix, count+1), nil
}

// GetCreditAccountByParty returns the credit account for a party, or nil.
func (s *Store) GetCreditAccountByParty(ctx context.Context, partyID models.PartyID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := s.db.WithContext(ctx).First(&account, "party_id = ?", partyID.String()).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetCategoryByPath returns the category with the exact full path, or nil.
func (s *Store) GetCategoryByPath(ctx context.Context, path string) (*models.Category, error) {
	var category models.Category
	err := s.db.WithContext(ctx).First(&category, "path = ?", path).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// EnsureCategoryPath walks a delimited category path ("Beverages/Soft
// Drinks/Cola") and creates any missing levels, returning the leaf.
// Migration-only fallback: referenced categories must never be left null
// during provisioning even when the hub manifest omits the category feed.
func (s *Store) EnsureCategoryPath(ctx context.Context, path string) (*models.Category, error) {
	segments := strings.Split(path, "/")
	var parent *models.Category
	var current string
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if current == "" {
			current = segment
		} else {
			current = current + "/" + segment
		}
		existing, err := s.GetCategoryByPath(ctx, current)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			existing = &models.Category{Name: segment, Path: current}
			if parent != nil {
				pid := parent.ID
				existing.ParentID = &pid
			}
			if err := s.db.WithContext(ctx).Create(existing).Error; err != nil {
				return nil, fmt.Errorf("create category %q: %w", current, err)
			}
		}
		parent = existing
	}
	if parent == nil {
		return nil, fmt.Errorf("empty category path")
	}
	return parent, nil
}

// EnsureDefaultUnit returns the fallback unit, creating it on first use.
// Migration-only fallback for products whose unit cannot be resolved.
func (s *Store) EnsureDefaultUnit(ctx context.Context) (*models.Unit, error) {
	var unit models.Unit
	err := s.db.WithContext(ctx).First(&unit, "code = ?", "EA").Error
	if err == gorm.ErrRecordNotFound {
		unit = models.Unit{Code: "EA", Name: "Each", Precision: 0}
		if err := s.db.WithContext(ctx).Create(&unit).Error; err != nil {
			return nil, fmt.Errorf("create default unit: %w", err)
		}
		return &unit, nil
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// RecordTombstone registers a hub-side deletion for global propagation.
func (s *Store) RecordTombstone(ctx context.Context, entityType, remoteID string) error {
	return s.db.WithContext(ctx).Create(&models.Tombstone{
		EntityType: entityType,
		RemoteID:   remoteID,
		DeletedAt:  time.Now().UTC(),
	}).Error
}

// ListTombstonesSince returns deletions of the given entity type recorded
// after the cursor. Deliberately not filtered by node: a hub-side delete
// propagates to every node regardless of which node's window asks.
func (s *Store) ListTombstonesSince(ctx context.Context, entityType string, since time.Time) ([]models.Tombstone, error) {
	var tombstones []models.Tombstone
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND deleted_at > ?", entityType, since).
		Order("deleted_at ASC").
		Find(&tombstones).Error
	return tombstones, err
}
