package registry

import (
	"context"
	"fmt"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// UnitPayload is the explicit wire schema of a unit-of-measure record.
type UnitPayload struct {
	ID        string `json:"id,omitempty"`
	HubID     string `json:"hub_id,omitempty"`
	LegacyID  string `json:"legacy_id,omitempty"`
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	Precision int    `json:"precision,omitempty"`
}

type unitCodec struct {
	base
}

// NewUnitCodec builds the unit codec. The natural key is the unit code.
func NewUnitCodec(resolver *Resolver) Codec {
	model := func() any { return &models.Unit{} }
	return &unitCodec{base{
		entityType: TypeUnit,
		priority:   priorityFoundation,
		model:      model,
		naturalKey: "code",
		resolver:   resolver,
		lookups: []Lookup{
			RemoteIDLookup(model),
			LegacyIDLookup(model),
			NaturalKeyLookup("code", model, "code", "code"),
			RawIDLookup(model),
		},
	}}
}

func (c *unitCodec) Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error) {
	var unit models.Unit
	if err := loadByID(ctx, s, &unit, localID); err != nil {
		return wire.Record{}, err
	}
	return snapshotRecord(TypeUnit, localID, &unit)
}

func (c *unitCodec) Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	var payload UnitPayload
	if err := rec.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Code == "" {
		return "", fmt.Errorf("unit record without a code")
	}

	localID, found, err := c.resolve(ctx, s, rec)
	if err != nil {
		return "", err
	}
	if found {
		var unit models.Unit
		if err := loadByID(ctx, s, &unit, localID); err != nil {
			return "", err
		}
		unit.Code = payload.Code
		unit.Name = payload.Name
		unit.Precision = payload.Precision
		if unit.HubID == nil && rec.RemoteID != "" {
			unit.HubID = strPtr(rec.RemoteID)
		}
		if unit.LegacyID == nil {
			unit.LegacyID = strPtr(payload.LegacyID)
		}
		if err := s.DB(ctx).Save(&unit).Error; err != nil {
			return "", fmt.Errorf("update unit: %w", err)
		}
		return localID, nil
	}

	unit := models.Unit{
		HubID:     strPtr(rec.RemoteID),
		LegacyID:  strPtr(payload.LegacyID),
		Code:      payload.Code,
		Name:      payload.Name,
		Precision: payload.Precision,
	}
	if err := s.DB(ctx).Create(&unit).Error; err != nil {
		return "", fmt.Errorf("create unit: %w", err)
	}
	return unit.ID.String(), nil
}
