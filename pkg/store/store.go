// Package store provides the gorm-backed persistence layer shared by node
// and hub deployments.
//
// A node opens a sqlite database; the hub opens Postgres. Both sides use
// the same Store type so the entity registry, the order workflow, and the
// bulk migration loader run unchanged against either backend.
//
// The store also owns the two pieces of request-scoped state the sync
// engine needs: the inbound-sync marker that suppresses outbox writes
// while applying replicated records (loop prevention), and the
// provisioning marker that enables migration-only identity fallbacks.
// Both travel on the context, never on package globals.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/edgetill/posbridge/pkg/models"
)

// Store wraps a gorm database handle. Instances created by Transaction
// share the transaction handle, so store methods compose inside sub-batch
// boundaries without special casing.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// OpenSQLite opens the node-side store.
func OpenSQLite(path string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// OpenPostgres opens the hub-side store.
func OpenPostgres(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// NewWithDB wraps an existing gorm handle. Used by tests.
func NewWithDB(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Migrate creates or updates the schema for every engine-owned table.
// Idempotent; call at startup.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.Party{},
		&models.Category{},
		&models.Unit{},
		&models.Product{},
		&models.PriceList{},
		&models.PriceListItem{},
		&models.CreditAccount{},
		&models.SalesOrder{},
		&models.OrderLine{},
		&models.Payment{},
		&models.Invoice{},
		&models.OutboxEntry{},
		&models.NodeSyncConfig{},
		&models.Tombstone{},
	)
}

// Close releases the underlying database connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the gorm handle for query composition inside codecs.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Transaction runs fn inside a database transaction; fn receives a Store
// bound to the transaction. This is the sub-batch boundary used by the
// pull phase: a failing fn rolls back only its own batch.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, log: s.log})
	})
}

type contextKey int

const (
	inboundSyncKey contextKey = iota
	provisioningKey
)

// WithInboundSync marks the context as processing an inbound sync. While
// the marker is set, Enqueue is a no-op: mutations that originate from
// replication must never re-enter the outbox.
func WithInboundSync(ctx context.Context) context.Context {
	return context.WithValue(ctx, inboundSyncKey, true)
}

// IsInboundSync reports whether the context carries the inbound marker.
func IsInboundSync(ctx context.Context) bool {
	v, _ := ctx.Value(inboundSyncKey).(bool)
	return v
}

// WithProvisioning marks the context as running the one-time bulk
// migration, enabling migration-only identity fallbacks (category path
// auto-creation, default unit).
func WithProvisioning(ctx context.Context) context.Context {
	return context.WithValue(ctx, provisioningKey, true)
}

// IsProvisioning reports whether the context carries the migration marker.
func IsProvisioning(ctx context.Context) bool {
	v, _ := ctx.Value(provisioningKey).(bool)
	return v
}

// SnapshotFields serializes an entity into the flexible map stored on
// outbox entries and sent on the wire.
func SnapshotFields(entity any) (models.JSONMap, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("snapshot entity: %w", err)
	}
	var fields models.JSONMap
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("snapshot entity: %w", err)
	}
	return fields, nil
}

// SaveWithOutbox persists a locally-owned mutation and its outbox entry in
// one transaction, so the mutation and its replication intent commit or
// roll back together. When the context carries the inbound-sync marker the
// entity is saved but no outbox entry is written.
func (s *Store) SaveWithOutbox(ctx context.Context, entityType string, op models.OutboxOperation, localID string, entity any) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Save(entity).Error; err != nil {
			return fmt.Errorf("save %s: %w", entityType, err)
		}
		payload, err := SnapshotFields(entity)
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, entityType, localID, op, payload)
	})
}

// LocalIDByColumn returns the primary key of the first row of model whose
// column equals value, ordered by creation so repeated lookups are
// deterministic when a natural key is ambiguous.
func (s *Store) LocalIDByColumn(ctx context.Context, model any, column, value string) (string, bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(model).
		Where(fmt.Sprintf("%s = ?", column), value).
		Order("created_at ASC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

// BindRemoteID stores the cross-system identifier on a local record after
// the hub has acknowledged it, so future identity resolution matches on
// the strongest strategy.
func (s *Store) BindRemoteID(ctx context.Context, model any, localID, remoteID string) error {
	return s.db.WithContext(ctx).
		Model(model).
		Where("id = ?", localID).
		Update("hub_id", remoteID).Error
}

// ChangedSince lists primary keys of model rows modified within (since,
// now], paginated, oldest first. One extra row is fetched to compute
// hasMore without a second count query.
func (s *Store) ChangedSince(ctx context.Context, model any, since time.Time, limit, offset int) ([]string, bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(model).
		Where("updated_at > ?", since).
		Order("updated_at ASC, id ASC").
		Limit(limit + 1).
		Offset(offset).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, false, err
	}
	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}
	return ids, hasMore, nil
}

// AllIDs lists primary keys of model rows, paginated, oldest first. Used
// by the migration batch endpoint.
func (s *Store) AllIDs(ctx context.Context, model any, limit, offset int) ([]string, bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(model).
		Order("created_at ASC, id ASC").
		Limit(limit + 1).
		Offset(offset).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, false, err
	}
	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}
	return ids, hasMore, nil
}

// CountRows counts rows of model. Used by the migration manifest.
func (s *Store) CountRows(ctx context.Context, model any) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(model).Count(&count).Error
	return count, err
}

// DeleteByID removes a row of model by primary key.
func (s *Store) DeleteByID(ctx context.Context, model any, localID string) error {
	return s.db.WithContext(ctx).Where("id = ?", localID).Delete(model).Error
}
