package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// pull fetches hub changes since the node's cursor and applies them in
// dependency-priority order. Each page is one request covering every
// subscribed entity type, and the cursor only ever advances to the first
// page's sync date: a hub change landing mid-phase stays outside the
// advanced window and is re-fetched next cycle. Advancing also requires
// that every record of every page applied without a failure; a partial
// cycle re-fetches from the old cursor next time, which is safe because
// application is idempotent.
func (o *Orchestrator) pull(ctx context.Context, cfg *models.NodeSyncConfig, res *Result) error {
	codecs := o.reg.InPriorityOrder()
	entities := make([]string, 0, len(codecs))
	for _, codec := range codecs {
		entities = append(entities, codec.EntityType())
	}

	cursor := cfg.LastSyncCursor
	var syncDate time.Time
	clean := true
	offset := 0

	for {
		resp, err := o.transport.Pull(ctx, wire.PullRequest{
			NodeID:   cfg.NodeID,
			Entities: entities,
			Cursor:   cursor,
			Limit:    cfg.EffectiveBatchSize(),
			Offset:   offset,
		})
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}
		if syncDate.IsZero() {
			syncDate = resp.SyncDate
		}

		hasMore := false
		for _, codec := range codecs {
			entityType := codec.EntityType()

			applied, failures := o.applyPage(ctx, cfg, codec, resp.Data[entityType])
			res.Downloaded += applied
			res.Errors = append(res.Errors, failures...)
			if len(failures) > 0 {
				clean = false
			}

			deleted, failures := o.applyDeletions(ctx, codec, resp.Deletions[entityType])
			res.Deleted += deleted
			res.Errors = append(res.Errors, failures...)
			if len(failures) > 0 {
				clean = false
			}

			if resp.HasMore[entityType] {
				hasMore = true
			}
		}
		if !hasMore {
			break
		}
		offset += cfg.EffectiveBatchSize()
	}

	if clean && !syncDate.IsZero() {
		cfg.LastSyncCursor = syncDate
		if err := o.store.SaveSyncConfig(ctx, cfg); err != nil {
			return fmt.Errorf("advance sync cursor: %w", err)
		}
	}
	return nil
}

// applyPage applies one page of incoming records. The page is first
// deduplicated by identity key, keeping the last occurrence of each key
// so a create followed by its update collapses into the final state.
// Records apply in sub-batch transactions; a failing sub-batch falls back
// to record-by-record application so one bad record cannot sink its
// neighbours.
func (o *Orchestrator) applyPage(ctx context.Context, cfg *models.NodeSyncConfig, codec registry.Codec, records []wire.Record) (int, []string) {
	records = dedupeLastWins(codec, records)
	if len(records) == 0 {
		return 0, nil
	}

	inbound := store.WithInboundSync(ctx)
	applied := 0
	var failures []string

	size := cfg.EffectiveSubBatchSize()
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		err := o.store.Transaction(inbound, func(tx *store.Store) error {
			for _, rec := range batch {
				if _, err := codec.Apply(inbound, tx, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			applied += len(batch)
			continue
		}

		o.log.Warn().
			Str("entity_type", codec.EntityType()).
			Err(err).
			Msg("sub-batch rolled back; retrying record by record")
		for _, rec := range batch {
			recErr := o.store.Transaction(inbound, func(tx *store.Store) error {
				_, err := codec.Apply(inbound, tx, rec)
				return err
			})
			if recErr != nil {
				failures = append(failures, fmt.Sprintf("apply %s %s: %v", codec.EntityType(), codec.IdentityKey(rec), recErr))
				continue
			}
			applied++
		}
	}
	return applied, failures
}

// applyDeletions applies the tombstone feed for one entity type.
// Unresolvable tombstones are silent no-ops inside the codec.
func (o *Orchestrator) applyDeletions(ctx context.Context, codec registry.Codec, records []wire.Record) (int, []string) {
	if len(records) == 0 {
		return 0, nil
	}
	inbound := store.WithInboundSync(ctx)
	deleted := 0
	var failures []string
	for _, rec := range records {
		if _, err := codec.Remove(inbound, o.store, rec); err != nil {
			failures = append(failures, fmt.Sprintf("delete %s %s: %v", codec.EntityType(), rec.RemoteID, err))
			continue
		}
		deleted++
	}
	return deleted, failures
}

// dedupeLastWins collapses records that share an identity key, keeping the
// last occurrence in page order.
func dedupeLastWins(codec registry.Codec, records []wire.Record) []wire.Record {
	if len(records) < 2 {
		return records
	}
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[codec.IdentityKey(rec)] = i
	}
	out := records[:0]
	for i, rec := range records {
		if last[codec.IdentityKey(rec)] == i {
			out = append(out, rec)
		}
	}
	return out
}
