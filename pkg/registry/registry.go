// Package registry holds the per-entity-type descriptors the sync engine
// is driven by: a codec that serializes an entity to its wire record and
// applies an incoming record as a local upsert, a dependency priority, and
// the ordered identity-resolution chain that makes replays idempotent.
//
// The registry is populated at startup and read-only afterwards. Both the
// node and the hub run the same codecs against their own stores; only the
// direction of the records differs.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// Codec is the per-entity-type descriptor.
type Codec interface {
	// EntityType returns the wire tag ("party", "product", "order", ...).
	EntityType() string

	// Priority orders entity types by dependency: lower syncs first.
	// Types with no foreign dependencies occupy the lowest tier.
	Priority() int

	// Model returns a fresh pointer to the gorm model, for generic
	// queries (changed-ID listing, counting, remote-ID binding).
	Model() any

	// IdentityKey returns the key used to deduplicate records within a
	// pull page. Records with the same key supersede each other; the last
	// occurrence wins.
	IdentityKey(rec wire.Record) string

	// Serialize loads the local record and produces its wire form.
	Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error)

	// Apply upserts an incoming record through the identity-resolution
	// chain and returns the local ID it resolved or created.
	Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error)

	// Remove resolves an incoming deletion and removes the local record,
	// returning the local ID it removed. Unresolvable tombstones are a
	// no-op returning "": the record never existed here.
	Remove(ctx context.Context, s *store.Store, rec wire.Record) (string, error)
}

// Registry is the static set of registered codecs.
type Registry struct {
	codecs map[string]Codec
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds a codec. Duplicate registrations are a programming error.
func (r *Registry) Register(c Codec) error {
	if _, exists := r.codecs[c.EntityType()]; exists {
		return fmt.Errorf("codec already registered for %q", c.EntityType())
	}
	r.codecs[c.EntityType()] = c
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(c Codec) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get returns the codec for an entity type.
func (r *Registry) Get(entityType string) (Codec, bool) {
	c, ok := r.codecs[entityType]
	return c, ok
}

// EntityTypes returns all registered types in dependency-priority order.
func (r *Registry) EntityTypes() []string {
	ordered := r.InPriorityOrder()
	types := make([]string, 0, len(ordered))
	for _, c := range ordered {
		types = append(types, c.EntityType())
	}
	return types
}

// InPriorityOrder returns codecs sorted by ascending priority, ties broken
// by entity type for determinism.
func (r *Registry) InPriorityOrder() []Codec {
	ordered := make([]Codec, 0, len(r.codecs))
	for _, c := range r.codecs {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() < ordered[j].Priority()
		}
		return ordered[i].EntityType() < ordered[j].EntityType()
	})
	return ordered
}

// Tiers groups codecs by priority, ascending. Entity types within one tier
// have no ordering dependency on each other and may be processed in
// parallel; tiers themselves must stay sequential.
func (r *Registry) Tiers() [][]Codec {
	ordered := r.InPriorityOrder()
	var tiers [][]Codec
	for _, c := range ordered {
		if len(tiers) == 0 || tiers[len(tiers)-1][0].Priority() != c.Priority() {
			tiers = append(tiers, []Codec{c})
			continue
		}
		tiers[len(tiers)-1] = append(tiers[len(tiers)-1], c)
	}
	return tiers
}
