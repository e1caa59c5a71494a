package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
	"github.com/edgetill/posbridge/pkg/workflow"
)

// handlePush ingests one entity-type batch from a node. Records apply
// individually: one bad record yields a per-record failure in the
// response, never a rejected batch. Deletes are applied and recorded as
// tombstones so every other node picks them up from its pull feed.
func (a *App) handlePush(w http.ResponseWriter, r *http.Request) {
	var req wire.PushRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "malformed push request")
		return
	}
	codec, ok := a.reg.Get(req.EntityType)
	if !ok {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity type %q", req.EntityType))
		return
	}

	ctx := store.WithInboundSync(r.Context())
	results := make([]wire.RecordResult, 0, len(req.Records))
	for _, rec := range req.Records {
		rec.EntityType = req.EntityType
		result := wire.RecordResult{QueueID: rec.QueueID, LocalID: rec.LocalID}

		localID, err := a.applyPushed(ctx, codec, rec)
		if err != nil {
			result.Error = err.Error()
			a.log.Warn().
				Str("node", req.NodeID).
				Str("entity_type", req.EntityType).
				Str("record", rec.LocalID).
				Err(err).
				Msg("pushed record rejected")
		} else {
			result.Success = true
			result.CloudID = localID
		}
		results = append(results, result)
	}

	a.respondJSON(w, http.StatusOK, wire.PushResponse{
		Envelope: wire.Envelope{Success: true},
		Results:  results,
	})
}

func (a *App) applyPushed(ctx context.Context, codec registry.Codec, rec wire.Record) (string, error) {
	if rec.Operation == wire.OpDelete {
		var localID string
		err := a.store.Transaction(ctx, func(tx *store.Store) error {
			var err error
			localID, err = codec.Remove(ctx, tx, rec)
			if err != nil || localID == "" {
				return err
			}
			return tx.RecordTombstone(ctx, codec.EntityType(), localID)
		})
		return localID, err
	}
	var localID string
	err := a.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		localID, err = codec.Apply(ctx, tx, rec)
		return err
	})
	return localID, err
}

// handlePull serves one page of changes since the node's cursor, per
// entity type, in dependency-priority order, plus the global tombstone
// feed. The response's sync date is the cursor the node persists after a
// fully clean pull.
func (a *App) handlePull(w http.ResponseWriter, r *http.Request) {
	var req wire.PullRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "malformed pull request")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultBatchSize
	}

	wanted := make(map[string]bool, len(req.Entities))
	for _, e := range req.Entities {
		wanted[e] = true
	}

	ctx := r.Context()
	resp := wire.PullResponse{
		Envelope:  wire.Envelope{Success: true},
		Data:      make(map[string][]wire.Record),
		Deletions: make(map[string][]wire.Record),
		HasMore:   make(map[string]bool),
		SyncDate:  time.Now().UTC(),
	}

	for _, codec := range a.reg.InPriorityOrder() {
		entityType := codec.EntityType()
		if len(wanted) > 0 && !wanted[entityType] {
			continue
		}
		limit := req.Limit
		if override, ok := req.EntityLimits[entityType]; ok && override > 0 {
			limit = override
		}

		ids, hasMore, err := a.store.ChangedSince(ctx, codec.Model(), req.Cursor, limit, req.Offset)
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, fmt.Sprintf("list %s changes: %v", entityType, err))
			return
		}
		for _, id := range ids {
			rec, err := codec.Serialize(ctx, a.store, id)
			if err != nil {
				a.respondError(w, http.StatusInternalServerError, fmt.Sprintf("serialize %s %s: %v", entityType, id, err))
				return
			}
			resp.Data[entityType] = append(resp.Data[entityType], outbound(rec))
		}
		resp.HasMore[entityType] = hasMore

		// The deletion feed is not paginated; it rides on the first page
		// only so later pages do not re-apply it.
		if req.Offset > 0 {
			continue
		}
		tombstones, err := a.store.ListTombstonesSince(ctx, entityType, req.Cursor)
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, fmt.Sprintf("list %s deletions: %v", entityType, err))
			return
		}
		for _, t := range tombstones {
			resp.Deletions[entityType] = append(resp.Deletions[entityType], wire.Record{
				EntityType: entityType,
				RemoteID:   t.RemoteID,
				Operation:  wire.OpDelete,
				Fields:     map[string]any{},
			})
		}
	}

	a.respondJSON(w, http.StatusOK, resp)
}

// handleManifest describes the bulk migration transfer: per-entity counts
// and the dependency-respecting order a node must load them in.
func (a *App) handleManifest(w http.ResponseWriter, r *http.Request) {
	var req wire.ManifestRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "malformed manifest request")
		return
	}

	ctx := r.Context()
	resp := wire.ManifestResponse{
		Envelope:             wire.Envelope{Success: true},
		Manifest:             make(map[string]int64),
		RecommendedBatchSize: defaultBatchSize,
	}
	for _, codec := range a.reg.InPriorityOrder() {
		count, err := a.store.CountRows(ctx, codec.Model())
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, fmt.Sprintf("count %s: %v", codec.EntityType(), err))
			return
		}
		resp.Manifest[codec.EntityType()] = count
		resp.SyncOrder = append(resp.SyncOrder, codec.EntityType())
	}
	a.respondJSON(w, http.StatusOK, resp)
}

// handleBatch serves one page of a bulk migration transfer.
func (a *App) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req wire.BatchRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "malformed batch request")
		return
	}
	codec, ok := a.reg.Get(req.EntityType)
	if !ok {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity type %q", req.EntityType))
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultBatchSize
	}

	ctx := r.Context()
	ids, hasMore, err := a.store.AllIDs(ctx, codec.Model(), req.Limit, req.Offset)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, fmt.Sprintf("list %s: %v", req.EntityType, err))
		return
	}

	resp := wire.BatchResponse{
		Envelope: wire.Envelope{Success: true},
		HasMore:  hasMore,
	}
	for _, id := range ids {
		rec, err := codec.Serialize(ctx, a.store, id)
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, fmt.Sprintf("serialize %s %s: %v", req.EntityType, id, err))
			return
		}
		resp.Records = append(resp.Records, outbound(rec))
	}
	a.respondJSON(w, http.StatusOK, resp)
}

// handleCancelOrder cancels a draft or paid order by reference. The
// status change reaches every node through the regular pull feed.
func (a *App) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	ctx := store.WithInboundSync(r.Context())
	order, err := a.store.GetOrderByReference(ctx, reference)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, fmt.Sprintf("lookup order %q: %v", reference, err))
		return
	}
	if order == nil {
		a.respondError(w, http.StatusNotFound, fmt.Sprintf("order %q not found", reference))
		return
	}

	codec, ok := a.reg.Get(registry.TypeOrder)
	if !ok {
		a.respondError(w, http.StatusInternalServerError, "order entity type not registered")
		return
	}
	rec := wire.Record{
		EntityType: registry.TypeOrder,
		Operation:  wire.OpUpdate,
		Fields:     map[string]any{"reference": reference, "status": "cancelled"},
	}
	if _, err := a.applyPushed(ctx, codec, rec); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrNotCancellable) {
			status = http.StatusConflict
		}
		a.respondError(w, status, err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, wire.Envelope{Success: true})
}

// outbound rewrites a hub-serialized record for the wire: the hub's local
// ID is the remote identifier from every node's point of view.
func outbound(rec wire.Record) wire.Record {
	rec.RemoteID = rec.LocalID
	rec.LocalID = ""
	return rec
}
