package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// CategoryPayload is the explicit wire schema of a category record. Path
// is the full delimited path from the root and carries enough information
// to rebuild the hierarchy on the receiving side.
type CategoryPayload struct {
	ID       string `json:"id,omitempty"`
	HubID    string `json:"hub_id,omitempty"`
	LegacyID string `json:"legacy_id,omitempty"`
	Name     string `json:"name"`
	Path     string `json:"path"`
}

type categoryCodec struct {
	base
}

// NewCategoryCodec builds the category codec. The natural key is the full
// path.
func NewCategoryCodec(resolver *Resolver) Codec {
	model := func() any { return &models.Category{} }
	return &categoryCodec{base{
		entityType: TypeCategory,
		priority:   priorityFoundation,
		model:      model,
		naturalKey: "path",
		resolver:   resolver,
		lookups: []Lookup{
			RemoteIDLookup(model),
			LegacyIDLookup(model),
			NaturalKeyLookup("path", model, "path", "path"),
			RawIDLookup(model),
		},
	}}
}

func (c *categoryCodec) Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error) {
	var category models.Category
	if err := loadByID(ctx, s, &category, localID); err != nil {
		return wire.Record{}, err
	}
	return snapshotRecord(TypeCategory, localID, &category)
}

func (c *categoryCodec) Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	var payload CategoryPayload
	if err := rec.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Path == "" {
		payload.Path = payload.Name
	}
	if payload.Path == "" {
		return "", fmt.Errorf("category record without a path")
	}
	if payload.Name == "" {
		segments := strings.Split(payload.Path, "/")
		payload.Name = segments[len(segments)-1]
	}

	localID, found, err := c.resolve(ctx, s, rec)
	if err != nil {
		return "", err
	}
	if found {
		var category models.Category
		if err := loadByID(ctx, s, &category, localID); err != nil {
			return "", err
		}
		category.Name = payload.Name
		category.Path = payload.Path
		if category.HubID == nil && rec.RemoteID != "" {
			category.HubID = strPtr(rec.RemoteID)
		}
		if category.LegacyID == nil {
			category.LegacyID = strPtr(payload.LegacyID)
		}
		if err := c.linkParent(ctx, s, &category); err != nil {
			return "", err
		}
		if err := s.DB(ctx).Save(&category).Error; err != nil {
			return "", fmt.Errorf("update category: %w", err)
		}
		return localID, nil
	}

	category := models.Category{
		HubID:    strPtr(rec.RemoteID),
		LegacyID: strPtr(payload.LegacyID),
		Name:     payload.Name,
		Path:     payload.Path,
	}
	if err := c.linkParent(ctx, s, &category); err != nil {
		return "", err
	}
	if err := s.DB(ctx).Create(&category).Error; err != nil {
		return "", fmt.Errorf("create category: %w", err)
	}
	return category.ID.String(), nil
}

// linkParent derives the parent from the path. Missing ancestors are
// created level by level so a batch can arrive in any order within the
// category tier.
func (c *categoryCodec) linkParent(ctx context.Context, s *store.Store, category *models.Category) error {
	idx := strings.LastIndex(category.Path, "/")
	if idx < 0 {
		category.ParentID = nil
		return nil
	}
	parent, err := s.EnsureCategoryPath(ctx, category.Path[:idx])
	if err != nil {
		return fmt.Errorf("link category parent: %w", err)
	}
	pid := parent.ID
	category.ParentID = &pid
	return nil
}
