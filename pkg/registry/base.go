package registry

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// Entity wire tags. One per codec, stable across versions.
const (
	TypeParty         = "party"
	TypeCategory      = "category"
	TypeUnit          = "unit"
	TypeProduct       = "product"
	TypePriceList     = "pricelist"
	TypeCreditAccount = "creditaccount"
	TypeOrder         = "order"
)

// Dependency priorities. Lower syncs first; equal priorities may be
// processed in parallel.
const (
	priorityFoundation = 10 // party, category, unit: no foreign references
	priorityProduct    = 20 // references category and unit
	priorityPriceList  = 30 // items reference products
	priorityCredit     = 35 // references party
	priorityOrder      = 40 // references party and products
)

// base carries the shared codec state: the wire tag, the dependency
// priority, the model constructor, the natural-key field used for in-page
// deduplication, and the identity-resolution chain.
type base struct {
	entityType string
	priority   int
	model      func() any
	naturalKey string
	resolver   *Resolver
	lookups    []Lookup
}

func (b base) EntityType() string { return b.entityType }
func (b base) Priority() int      { return b.priority }
func (b base) Model() any         { return b.model() }

// IdentityKey prefers the strongest identifier available on the record,
// mirroring the resolution chain's order.
func (b base) IdentityKey(rec wire.Record) string {
	if rec.RemoteID != "" {
		return "remote:" + rec.RemoteID
	}
	if b.naturalKey != "" {
		if v := rec.String(b.naturalKey); v != "" {
			return "natural:" + v
		}
	}
	return "local:" + rec.LocalID
}

// resolve runs the codec's chain against an incoming record.
func (b base) resolve(ctx context.Context, s *store.Store, rec wire.Record) (string, bool, error) {
	return b.resolver.Resolve(ctx, s, rec, b.lookups)
}

// Remove resolves an incoming deletion and removes the local record. A
// tombstone that resolves to nothing is a no-op: the record never existed
// on this side, and deletion is idempotent.
func (b base) Remove(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	localID, found, err := b.resolve(ctx, s, rec)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	if err := s.DeleteByID(ctx, b.model(), localID); err != nil {
		return "", err
	}
	return localID, nil
}

// loadByID fetches one row of target by primary key.
func loadByID(ctx context.Context, s *store.Store, target any, localID string) error {
	err := s.DB(ctx).First(target, "id = ?", localID).Error
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("record %s not found", localID)
	}
	return err
}

// snapshotRecord serializes a loaded entity into its wire record. The
// caller fills RemoteID when it owns the remote identifier space.
func snapshotRecord(entityType, localID string, entity any) (wire.Record, error) {
	fields, err := store.SnapshotFields(entity)
	if err != nil {
		return wire.Record{}, err
	}
	return wire.Record{
		EntityType: entityType,
		LocalID:    localID,
		Fields:     map[string]any(fields),
	}, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
