package registry

import (
	"context"
	"fmt"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// ProductPayload is the explicit wire schema of a product record. The
// category and unit travel as natural keys (path and code) so the
// receiving side can resolve them without sharing an identifier space;
// the raw foreign IDs are carried as a fallback.
type ProductPayload struct {
	ID           string  `json:"id,omitempty"`
	HubID        string  `json:"hub_id,omitempty"`
	LegacyID     string  `json:"legacy_id,omitempty"`
	Barcode      string  `json:"barcode,omitempty"`
	SKU          string  `json:"sku,omitempty"`
	Name         string  `json:"name"`
	CategoryPath string  `json:"category_path,omitempty"`
	CategoryID   string  `json:"category_id,omitempty"`
	UnitCode     string  `json:"unit_code,omitempty"`
	UnitID       string  `json:"unit_id,omitempty"`
	Price        float64 `json:"price"`
	Active       *bool   `json:"active,omitempty"`
}

type productCodec struct {
	base
}

// NewProductCodec builds the product codec. The natural key is the
// barcode; products depend on categories and units and sync after them.
func NewProductCodec(resolver *Resolver) Codec {
	model := func() any { return &models.Product{} }
	return &productCodec{base{
		entityType: TypeProduct,
		priority:   priorityProduct,
		model:      model,
		naturalKey: "barcode",
		resolver:   resolver,
		lookups: []Lookup{
			RemoteIDLookup(model),
			LegacyIDLookup(model),
			NaturalKeyLookup("barcode", model, "barcode", "barcode"),
			RawIDLookup(model),
		},
	}}
}

func (c *productCodec) Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error) {
	var product models.Product
	err := s.DB(ctx).
		Preload("Category").
		Preload("Unit").
		First(&product, "id = ?", localID).Error
	if err != nil {
		return wire.Record{}, fmt.Errorf("load product %s: %w", localID, err)
	}
	rec, err := snapshotRecord(TypeProduct, localID, &product)
	if err != nil {
		return wire.Record{}, err
	}
	if product.Category != nil {
		rec.Fields["category_path"] = product.Category.Path
	}
	if product.Unit != nil {
		rec.Fields["unit_code"] = product.Unit.Code
	}
	delete(rec.Fields, "category")
	delete(rec.Fields, "unit")
	return rec, nil
}

func (c *productCodec) Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	var payload ProductPayload
	if err := rec.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Name == "" {
		return "", fmt.Errorf("product record without a name")
	}

	categoryID, err := c.resolveCategory(ctx, s, payload)
	if err != nil {
		return "", err
	}
	unitID, err := c.resolveUnit(ctx, s, payload)
	if err != nil {
		return "", err
	}

	localID, found, err := c.resolve(ctx, s, rec)
	if err != nil {
		return "", err
	}
	if found {
		var product models.Product
		if err := loadByID(ctx, s, &product, localID); err != nil {
			return "", err
		}
		product.Name = payload.Name
		if payload.Barcode != "" {
			product.Barcode = payload.Barcode
		}
		product.SKU = payload.SKU
		product.CategoryID = categoryID
		product.UnitID = unitID
		product.Price = payload.Price
		if payload.Active != nil {
			product.Active = *payload.Active
		}
		if product.HubID == nil && rec.RemoteID != "" {
			product.HubID = strPtr(rec.RemoteID)
		}
		if product.LegacyID == nil {
			product.LegacyID = strPtr(payload.LegacyID)
		}
		if err := s.DB(ctx).Save(&product).Error; err != nil {
			return "", fmt.Errorf("update product: %w", err)
		}
		return localID, nil
	}

	product := models.Product{
		HubID:      strPtr(rec.RemoteID),
		LegacyID:   strPtr(payload.LegacyID),
		Barcode:    payload.Barcode,
		SKU:        payload.SKU,
		Name:       payload.Name,
		CategoryID: categoryID,
		UnitID:     unitID,
		Price:      payload.Price,
		Active:     true,
	}
	if payload.Active != nil {
		product.Active = *payload.Active
	}
	if err := s.DB(ctx).Create(&product).Error; err != nil {
		return "", fmt.Errorf("create product: %w", err)
	}
	return product.ID.String(), nil
}

// resolveCategory finds the product's category by path, then by foreign
// identifier. During provisioning a missing category is created from its
// path instead of failing the record; a required relation must never be
// left null by the bulk load.
func (c *productCodec) resolveCategory(ctx context.Context, s *store.Store, payload ProductPayload) (models.CategoryID, error) {
	if payload.CategoryPath != "" {
		existing, err := s.GetCategoryByPath(ctx, payload.CategoryPath)
		if err != nil {
			return models.CategoryID{}, err
		}
		if existing != nil {
			return existing.ID, nil
		}
		if store.IsProvisioning(ctx) {
			created, err := s.EnsureCategoryPath(ctx, payload.CategoryPath)
			if err != nil {
				return models.CategoryID{}, err
			}
			return created.ID, nil
		}
	}
	if payload.CategoryID != "" {
		for _, column := range []string{"hub_id", "id"} {
			id, ok, err := s.LocalIDByColumn(ctx, &models.Category{}, column, payload.CategoryID)
			if err != nil {
				return models.CategoryID{}, err
			}
			if ok {
				return models.ParseCategoryID(id)
			}
		}
	}
	if store.IsProvisioning(ctx) && payload.CategoryPath != "" {
		created, err := s.EnsureCategoryPath(ctx, payload.CategoryPath)
		if err != nil {
			return models.CategoryID{}, err
		}
		return created.ID, nil
	}
	return models.CategoryID{}, fmt.Errorf("product category not found (path=%q id=%q)", payload.CategoryPath, payload.CategoryID)
}

// resolveUnit finds the product's unit by code, then by foreign
// identifier, falling back to the default unit during provisioning.
func (c *productCodec) resolveUnit(ctx context.Context, s *store.Store, payload ProductPayload) (models.UnitID, error) {
	if payload.UnitCode != "" {
		id, ok, err := s.LocalIDByColumn(ctx, &models.Unit{}, "code", payload.UnitCode)
		if err != nil {
			return models.UnitID{}, err
		}
		if ok {
			return models.ParseUnitID(id)
		}
	}
	if payload.UnitID != "" {
		for _, column := range []string{"hub_id", "id"} {
			id, ok, err := s.LocalIDByColumn(ctx, &models.Unit{}, column, payload.UnitID)
			if err != nil {
				return models.UnitID{}, err
			}
			if ok {
				return models.ParseUnitID(id)
			}
		}
	}
	if store.IsProvisioning(ctx) {
		unit, err := s.EnsureDefaultUnit(ctx)
		if err != nil {
			return models.UnitID{}, err
		}
		return unit.ID, nil
	}
	return models.UnitID{}, fmt.Errorf("product unit not found (code=%q id=%q)", payload.UnitCode, payload.UnitID)
}
