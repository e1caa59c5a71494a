package registry

import (
	"context"
	"fmt"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// PartyPayload is the explicit wire schema of a party record.
type PartyPayload struct {
	ID       string `json:"id,omitempty"`
	HubID    string `json:"hub_id,omitempty"`
	LegacyID string `json:"legacy_id,omitempty"`
	Name     string `json:"name"`
	TaxID    string `json:"tax_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type partyCodec struct {
	base
}

// NewPartyCodec builds the party codec. The natural key is the tax ID.
func NewPartyCodec(resolver *Resolver) Codec {
	model := func() any { return &models.Party{} }
	return &partyCodec{base{
		entityType: TypeParty,
		priority:   priorityFoundation,
		model:      model,
		naturalKey: "tax_id",
		resolver:   resolver,
		lookups: []Lookup{
			RemoteIDLookup(model),
			LegacyIDLookup(model),
			NaturalKeyLookup("tax_id", model, "tax_id", "tax_id"),
			RawIDLookup(model),
		},
	}}
}

func (c *partyCodec) Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error) {
	var party models.Party
	if err := loadByID(ctx, s, &party, localID); err != nil {
		return wire.Record{}, err
	}
	return snapshotRecord(TypeParty, localID, &party)
}

func (c *partyCodec) Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	var payload PartyPayload
	if err := rec.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Name == "" {
		return "", fmt.Errorf("party record without a name")
	}

	localID, found, err := c.resolve(ctx, s, rec)
	if err != nil {
		return "", err
	}
	if found {
		var party models.Party
		if err := loadByID(ctx, s, &party, localID); err != nil {
			return "", err
		}
		party.Name = payload.Name
		if payload.TaxID != "" {
			party.TaxID = payload.TaxID
		}
		party.Email = payload.Email
		party.Phone = payload.Phone
		if party.HubID == nil && rec.RemoteID != "" {
			party.HubID = strPtr(rec.RemoteID)
		}
		if party.LegacyID == nil {
			party.LegacyID = strPtr(payload.LegacyID)
		}
		if err := s.DB(ctx).Save(&party).Error; err != nil {
			return "", fmt.Errorf("update party: %w", err)
		}
		return localID, nil
	}

	party := models.Party{
		HubID:    strPtr(rec.RemoteID),
		LegacyID: strPtr(payload.LegacyID),
		Name:     payload.Name,
		TaxID:    payload.TaxID,
		Email:    payload.Email,
		Phone:    payload.Phone,
	}
	if err := s.DB(ctx).Create(&party).Error; err != nil {
		return "", fmt.Errorf("create party: %w", err)
	}
	return party.ID.String(), nil
}
