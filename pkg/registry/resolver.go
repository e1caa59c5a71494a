package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// Lookup is one identity-resolution strategy: given an incoming record,
// find the local record it refers to.
type Lookup struct {
	Name string
	Find func(ctx context.Context, s *store.Store, rec wire.Record) (string, bool, error)
}

// Resolver walks an ordered strategy chain until one yields a match. The
// chain is the idempotency mechanism for inbound replication: replays of
// the same record must resolve to the same local record every time. When
// no strategy matches, the caller creates a new local record and stores
// the cross-system identifier for future resolution.
type Resolver struct {
	log zerolog.Logger
}

// NewResolver creates a resolver that logs weak matches.
func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve applies the lookups in order; first match wins. The raw-ID
// fallback is logged as a warning since shared-identifier-space equality
// is the weakest guarantee in the chain.
func (r *Resolver) Resolve(ctx context.Context, s *store.Store, rec wire.Record, lookups []Lookup) (string, bool, error) {
	for _, lookup := range lookups {
		localID, found, err := lookup.Find(ctx, s, rec)
		if err != nil {
			return "", false, fmt.Errorf("identity lookup %s for %s: %w", lookup.Name, rec.EntityType, err)
		}
		if !found {
			continue
		}
		if lookup.Name == lookupRawID {
			r.log.Warn().
				Str("entity_type", rec.EntityType).
				Str("remote_id", rec.RemoteID).
				Str("local_id", localID).
				Msg("resolved by raw identifier equality; verify the systems share an ID space")
		}
		return localID, true, nil
	}
	return "", false, nil
}

// Strategy names. The raw-ID name is matched by the resolver's warning.
const (
	lookupRemoteID = "remote_id"
	lookupLegacyID = "legacy_id"
	lookupRawID    = "raw_id"
)

// RemoteIDLookup matches the explicit cross-system identifier. On a node
// this is the stored hub_id column; on the hub the remote ID is the hub's
// own primary key, so both columns are checked.
func RemoteIDLookup(model func() any) Lookup {
	return Lookup{
		Name: lookupRemoteID,
		Find: func(ctx context.Context, s *store.Store, rec wire.Record) (string, bool, error) {
			if rec.RemoteID == "" {
				return "", false, nil
			}
			if id, ok, err := s.LocalIDByColumn(ctx, model(), "hub_id", rec.RemoteID); err != nil || ok {
				return id, ok, err
			}
			return s.LocalIDByColumn(ctx, model(), "id", rec.RemoteID)
		},
	}
}

// LegacyIDLookup matches the previous-system identifier carried on the
// record, used during migration and system cut-over.
func LegacyIDLookup(model func() any) Lookup {
	return Lookup{
		Name: lookupLegacyID,
		Find: func(ctx context.Context, s *store.Store, rec wire.Record) (string, bool, error) {
			legacy := rec.String("legacy_id")
			if legacy == "" {
				return "", false, nil
			}
			return s.LocalIDByColumn(ctx, model(), "legacy_id", legacy)
		},
	}
}

// NaturalKeyLookup matches an entity-specific business key (tax ID for a
// party, barcode for a product, reference for an order).
func NaturalKeyLookup(name string, model func() any, column, fieldKey string) Lookup {
	return Lookup{
		Name: name,
		Find: func(ctx context.Context, s *store.Store, rec wire.Record) (string, bool, error) {
			value := rec.String(fieldKey)
			if value == "" {
				return "", false, nil
			}
			return s.LocalIDByColumn(ctx, model(), column, value)
		},
	}
}

// RawIDLookup matches the sender's local identifier directly. Explicit
// fallback for deployments known to share one identifier space; the
// resolver logs every hit.
func RawIDLookup(model func() any) Lookup {
	return Lookup{
		Name: lookupRawID,
		Find: func(ctx context.Context, s *store.Store, rec wire.Record) (string, bool, error) {
			if rec.LocalID == "" {
				return "", false, nil
			}
			return s.LocalIDByColumn(ctx, model(), "id", rec.LocalID)
		},
	}
}
