// Package migration implements the one-time bulk provisioning of a fresh
// node from the hub: manifest first, then every entity type's full data
// set in dependency order, page by page.
//
// The loader runs with both the inbound-sync marker (nothing it writes may
// re-enter the outbox) and the provisioning marker (identity fallbacks
// like category path creation and the default unit are enabled).
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// Source supplies the migration feed. The hub client implements it; tests
// substitute a stub.
type Source interface {
	Manifest(ctx context.Context, req wire.ManifestRequest) (*wire.ManifestResponse, error)
	PullBatch(ctx context.Context, req wire.BatchRequest) (*wire.BatchResponse, error)
}

// EntityReport is the per-entity outcome of a migration run.
type EntityReport struct {
	Expected int64
	Applied  int
	Failed   int
}

// Report summarizes a migration run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Entities   map[string]*EntityReport
}

// Ok reports whether every record applied.
func (r *Report) Ok() bool {
	for _, e := range r.Entities {
		if e.Failed > 0 {
			return false
		}
	}
	return true
}

// Loader runs bulk migrations.
type Loader struct {
	src       Source
	store     *store.Store
	reg       *registry.Registry
	nodeID    string
	batchSize int
	log       zerolog.Logger
}

// NewLoader creates a loader. batchSize is the fallback page size when the
// hub's manifest does not recommend one.
func NewLoader(src Source, s *store.Store, reg *registry.Registry, nodeID string, batchSize int, log zerolog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Loader{src: src, store: s, reg: reg, nodeID: nodeID, batchSize: batchSize, log: log}
}

// Run executes the full migration and returns its report. Entity types the
// manifest orders but this build does not know are skipped with a warning
// rather than failing the load.
func (l *Loader) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		StartedAt: time.Now().UTC(),
		Entities:  make(map[string]*EntityReport),
	}

	manifest, err := l.src.Manifest(ctx, wire.ManifestRequest{NodeID: l.nodeID})
	if err == nil {
		err = manifest.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("fetch migration manifest: %w", err)
	}

	batchSize := l.batchSize
	if manifest.RecommendedBatchSize > 0 {
		batchSize = manifest.RecommendedBatchSize
	}

	ctx = store.WithProvisioning(store.WithInboundSync(ctx))

	for _, entityType := range manifest.SyncOrder {
		codec, ok := l.reg.Get(entityType)
		if !ok {
			l.log.Warn().Str("entity_type", entityType).Msg("manifest names an unknown entity type; skipping")
			continue
		}
		er := &EntityReport{Expected: manifest.Manifest[entityType]}
		report.Entities[entityType] = er

		if err := l.loadEntity(ctx, codec, batchSize, er); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
		l.log.Info().
			Str("entity_type", entityType).
			Int64("expected", er.Expected).
			Int("applied", er.Applied).
			Int("failed", er.Failed).
			Msg("entity migrated")
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// loadEntity pages through one entity type's full data set. Each page
// applies in one transaction with a record-by-record fallback, mirroring
// the pull phase's isolation: a single bad record costs itself, not the
// page.
func (l *Loader) loadEntity(ctx context.Context, codec registry.Codec, batchSize int, er *EntityReport) error {
	offset := 0
	for {
		resp, err := l.src.PullBatch(ctx, wire.BatchRequest{
			EntityType: codec.EntityType(),
			Limit:      batchSize,
			Offset:     offset,
		})
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return fmt.Errorf("fetch %s batch at offset %d: %w", codec.EntityType(), offset, err)
		}

		l.applyBatch(ctx, codec, resp.Records, er)

		if !resp.HasMore {
			return nil
		}
		offset += batchSize
	}
}

func (l *Loader) applyBatch(ctx context.Context, codec registry.Codec, records []wire.Record, er *EntityReport) {
	if len(records) == 0 {
		return
	}
	err := l.store.Transaction(ctx, func(tx *store.Store) error {
		for _, rec := range records {
			if _, err := codec.Apply(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		er.Applied += len(records)
		return
	}

	l.log.Warn().
		Str("entity_type", codec.EntityType()).
		Err(err).
		Msg("migration batch rolled back; retrying record by record")
	for _, rec := range records {
		recErr := l.store.Transaction(ctx, func(tx *store.Store) error {
			_, err := codec.Apply(ctx, tx, rec)
			return err
		})
		if recErr != nil {
			er.Failed++
			l.log.Error().
				Str("entity_type", codec.EntityType()).
				Str("record", codec.IdentityKey(rec)).
				Err(recErr).
				Msg("migration record failed")
			continue
		}
		er.Applied++
	}
}
