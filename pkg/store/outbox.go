package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/edgetill/posbridge/pkg/models"
)

// Enqueue appends a pending outbox entry for a locally-owned mutation.
// It is a silent no-op when the context carries the inbound-sync marker:
// mutations applied as a result of replication must not replicate again.
func (s *Store) Enqueue(ctx context.Context, entityType, recordID string, op models.OutboxOperation, payload models.JSONMap) error {
	if IsInboundSync(ctx) {
		return nil
	}
	entry := &models.OutboxEntry{
		EntityType: entityType,
		RecordID:   recordID,
		Operation:  op,
		Payload:    payload,
		State:      models.OutboxStatePending,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// DequeueReady returns up to limit entries in pending or error state,
// atomically marking them processing so a concurrent call cannot dispatch
// them twice. Error entries past maxAttempts are skipped; they stay in
// error state until RequeueErrors resets them.
func (s *Store) DequeueReady(ctx context.Context, limit, maxAttempts int) ([]*models.OutboxEntry, error) {
	var entries []*models.OutboxEntry
	err := s.Transaction(ctx, func(tx *Store) error {
		q := tx.db.WithContext(ctx).
			Where("state IN ?", []models.OutboxState{models.OutboxStatePending, models.OutboxStateError})
		if maxAttempts > 0 {
			q = q.Where("attempts < ?", maxAttempts)
		}
		if err := q.Order("id ASC").Limit(limit).Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		ids := make([]uint64, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		if err := tx.db.WithContext(ctx).
			Model(&models.OutboxEntry{}).
			Where("id IN ?", ids).
			Update("state", models.OutboxStateProcessing).Error; err != nil {
			return err
		}
		for _, e := range entries {
			e.State = models.OutboxStateProcessing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue outbox entries: %w", err)
	}
	return entries, nil
}

// Acknowledge marks an entry synced and records the identifier the hub
// assigned to the record.
func (s *Store) Acknowledge(ctx context.Context, id uint64, remoteID string) error {
	return s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      models.OutboxStateSynced,
			"remote_id":  remoteID,
			"last_error": "",
		}).Error
}

// Fail marks an entry errored with the failure message and bumps its
// attempt counter. The entry remains eligible for the next DequeueReady
// until the attempt cap is reached.
func (s *Store) Fail(ctx context.Context, id uint64, message string) error {
	return s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      models.OutboxStateError,
			"last_error": message,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

// RequeueErrors resets errored entries to pending and clears their attempt
// counters. Maintenance operation for entries parked past the attempt cap.
func (s *Store) RequeueErrors(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("state = ?", models.OutboxStateError).
		Updates(map[string]any{
			"state":    models.OutboxStatePending,
			"attempts": 0,
		})
	return res.RowsAffected, res.Error
}

// HasPendingOutbox reports whether an unacknowledged entry exists for the
// exact record. The conflict resolver uses this to detect a local
// decrement still in flight.
func (s *Store) HasPendingOutbox(ctx context.Context, entityType, recordID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("entity_type = ? AND record_id = ? AND state IN ?",
			entityType, recordID,
			[]models.OutboxState{models.OutboxStatePending, models.OutboxStateProcessing, models.OutboxStateError}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PurgeSynced removes acknowledged entries older than the given time.
// Maintenance operation, not correctness-critical.
func (s *Store) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", models.OutboxStateSynced, olderThan).
		Delete(&models.OutboxEntry{})
	return res.RowsAffected, res.Error
}

// GetOutboxEntry fetches a single entry by ID. Used by tests and the CLI.
func (s *Store) GetOutboxEntry(ctx context.Context, id uint64) (*models.OutboxEntry, error) {
	var entry models.OutboxEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CountOutboxByState returns the number of entries per state for status
// reporting.
func (s *Store) CountOutboxByState(ctx context.Context) (map[models.OutboxState]int64, error) {
	type row struct {
		State models.OutboxState
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Select("state, count(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.OutboxState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.N
	}
	return counts, nil
}
