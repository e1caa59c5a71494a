package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

func seedParty(t *testing.T, s *store.Store, party *models.Party) *models.Party {
	t.Helper()
	require.NoError(t, s.DB(context.Background()).Create(party).Error)
	return party
}

func partyLookups() []Lookup {
	model := func() any { return &models.Party{} }
	return []Lookup{
		RemoteIDLookup(model),
		LegacyIDLookup(model),
		NaturalKeyLookup("tax_id", model, "tax_id", "tax_id"),
		RawIDLookup(model),
	}
}

func TestResolveByRemoteID(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(zerolog.Nop())

	hubID := "hub-42"
	party := seedParty(t, s, &models.Party{Name: "ACME", TaxID: "TAX-1", HubID: &hubID})

	// The remote identifier wins even when the natural key would match a
	// different record.
	seedParty(t, s, &models.Party{Name: "Impostor", TaxID: "TAX-2"})
	rec := wire.Record{
		EntityType: TypeParty,
		RemoteID:   "hub-42",
		Fields:     map[string]any{"tax_id": "TAX-2"},
	}
	localID, found, err := r.Resolve(context.Background(), s, rec, partyLookups())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, party.ID.String(), localID)
}

func TestResolveByLegacyID(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(zerolog.Nop())

	legacy := "OLD-7"
	party := seedParty(t, s, &models.Party{Name: "ACME", LegacyID: &legacy})

	rec := wire.Record{
		EntityType: TypeParty,
		Fields:     map[string]any{"legacy_id": "OLD-7"},
	}
	localID, found, err := r.Resolve(context.Background(), s, rec, partyLookups())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, party.ID.String(), localID)
}

func TestResolveByNaturalKey(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(zerolog.Nop())

	party := seedParty(t, s, &models.Party{Name: "ACME", TaxID: "TAX-9"})

	rec := wire.Record{
		EntityType: TypeParty,
		RemoteID:   "hub-unknown",
		Fields:     map[string]any{"tax_id": "TAX-9"},
	}
	localID, found, err := r.Resolve(context.Background(), s, rec, partyLookups())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, party.ID.String(), localID)
}

func TestResolveByRawIDFallback(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(zerolog.Nop())

	party := seedParty(t, s, &models.Party{Name: "ACME"})

	rec := wire.Record{
		EntityType: TypeParty,
		LocalID:    party.ID.String(),
		Fields:     map[string]any{},
	}
	localID, found, err := r.Resolve(context.Background(), s, rec, partyLookups())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, party.ID.String(), localID)
}

func TestResolveNoMatch(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(zerolog.Nop())

	rec := wire.Record{
		EntityType: TypeParty,
		RemoteID:   "hub-nope",
		Fields:     map[string]any{"tax_id": "TAX-nope", "legacy_id": "OLD-nope"},
	}
	_, found, err := r.Resolve(context.Background(), s, rec, partyLookups())
	require.NoError(t, err)
	assert.False(t, found)
}
