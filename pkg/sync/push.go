package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/wire"
)

// push drains the outbox. Entries are dequeued in insertion order, grouped
// by entity type, and dispatched tier by tier; one transport request
// carries one entity type's batch. A transport failure fails every entry
// of its group, leaving them eligible for the next cycle.
func (o *Orchestrator) push(ctx context.Context, cfg *models.NodeSyncConfig, res *Result) error {
	entries, err := o.store.DequeueReady(ctx, cfg.EffectiveBatchSize(), cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	groups := make(map[string][]*models.OutboxEntry)
	for _, e := range entries {
		groups[e.EntityType] = append(groups[e.EntityType], e)
	}

	var mu gosync.Mutex
	for _, tier := range o.reg.Tiers() {
		var wg gosync.WaitGroup
		for _, codec := range tier {
			batch := groups[codec.EntityType()]
			if len(batch) == 0 {
				continue
			}
			delete(groups, codec.EntityType())
			wg.Add(1)
			go func(codec registry.Codec, batch []*models.OutboxEntry) {
				defer wg.Done()
				uploaded, errs := o.pushGroup(ctx, cfg, codec, batch)
				mu.Lock()
				res.Uploaded += uploaded
				res.Errors = append(res.Errors, errs...)
				mu.Unlock()
			}(codec, batch)
		}
		wg.Wait()
	}

	// Entries of a type no codec claims cannot be sent; park them.
	for entityType, batch := range groups {
		for _, e := range batch {
			msg := fmt.Sprintf("no codec registered for %s", entityType)
			if err := o.store.Fail(ctx, e.ID, msg); err != nil {
				return err
			}
			mu.Lock()
			res.Errors = append(res.Errors, msg)
			mu.Unlock()
		}
	}
	return nil
}

// pushGroup sends one entity type's batch and settles each entry from the
// hub's per-record acknowledgements.
func (o *Orchestrator) pushGroup(ctx context.Context, cfg *models.NodeSyncConfig, codec registry.Codec, batch []*models.OutboxEntry) (int, []string) {
	records := make([]wire.Record, 0, len(batch))
	for _, e := range batch {
		rec := wire.Record{
			EntityType: e.EntityType,
			LocalID:    e.RecordID,
			QueueID:    e.ID,
			Operation:  string(e.Operation),
			Fields:     map[string]any(e.Payload),
		}
		// The bound cross-system identifier travels as the remote ID so
		// the hub resolves updates by its strongest strategy even when the
		// record carries no natural key.
		if hubID, ok := e.Payload["hub_id"].(string); ok {
			rec.RemoteID = hubID
		}
		records = append(records, rec)
	}

	resp, err := o.transport.Push(ctx, wire.PushRequest{
		EntityType: codec.EntityType(),
		NodeID:     cfg.NodeID,
		NodeName:   cfg.NodeName,
		Records:    records,
	})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		msg := fmt.Sprintf("push %s: %v", codec.EntityType(), err)
		o.log.Warn().Str("entity_type", codec.EntityType()).Err(err).Msg("push batch failed")
		for _, e := range batch {
			if failErr := o.store.Fail(ctx, e.ID, msg); failErr != nil {
				o.log.Error().Err(failErr).Uint64("entry", e.ID).Msg("failed to mark outbox entry")
			}
		}
		return 0, []string{msg}
	}

	results := make(map[uint64]wire.RecordResult, len(resp.Results))
	for _, r := range resp.Results {
		results[r.QueueID] = r
	}

	uploaded := 0
	var errs []string
	for _, e := range batch {
		r, ok := results[e.ID]
		if !ok {
			msg := fmt.Sprintf("push %s: hub did not acknowledge entry %d", codec.EntityType(), e.ID)
			errs = append(errs, msg)
			if failErr := o.store.Fail(ctx, e.ID, "missing acknowledgement"); failErr != nil {
				o.log.Error().Err(failErr).Uint64("entry", e.ID).Msg("failed to mark outbox entry")
			}
			continue
		}
		if !r.Success {
			errs = append(errs, fmt.Sprintf("push %s record %s: %s", codec.EntityType(), e.RecordID, r.Error))
			if failErr := o.store.Fail(ctx, e.ID, r.Error); failErr != nil {
				o.log.Error().Err(failErr).Uint64("entry", e.ID).Msg("failed to mark outbox entry")
			}
			continue
		}
		if err := o.settle(ctx, codec, e, r); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		uploaded++
	}
	return uploaded, errs
}

// settle acknowledges one accepted entry and binds the hub-assigned
// identifier to the local record so future resolution uses the strongest
// strategy.
func (o *Orchestrator) settle(ctx context.Context, codec registry.Codec, e *models.OutboxEntry, r wire.RecordResult) error {
	if err := o.store.Acknowledge(ctx, e.ID, r.CloudID); err != nil {
		return fmt.Errorf("acknowledge entry %d: %w", e.ID, err)
	}
	if r.CloudID != "" && e.Operation != models.OutboxOperationDelete {
		if err := o.store.BindRemoteID(ctx, codec.Model(), e.RecordID, r.CloudID); err != nil {
			return fmt.Errorf("bind remote id on %s %s: %w", e.EntityType, e.RecordID, err)
		}
	}
	return nil
}
