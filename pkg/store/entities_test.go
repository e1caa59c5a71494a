package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgetill/posbridge/pkg/models"
)

func TestEnsureCategoryPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	leaf, err := s.EnsureCategoryPath(ctx, "Beverages/Soft Drinks/Cola")
	require.NoError(t, err)
	assert.Equal(t, "Cola", leaf.Name)
	assert.Equal(t, "Beverages/Soft Drinks/Cola", leaf.Path)
	require.NotNil(t, leaf.ParentID)

	mid, err := s.GetCategoryByPath(ctx, "Beverages/Soft Drinks")
	require.NoError(t, err)
	require.NotNil(t, mid)
	assert.Equal(t, mid.ID, *leaf.ParentID)

	root, err := s.GetCategoryByPath(ctx, "Beverages")
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Nil(t, root.ParentID)

	// Idempotent: a second walk creates nothing new.
	again, err := s.EnsureCategoryPath(ctx, "Beverages/Soft Drinks/Cola")
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, again.ID)
	count, err := s.CountRows(ctx, &models.Category{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestEnsureDefaultUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unit, err := s.EnsureDefaultUnit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EA", unit.Code)

	again, err := s.EnsureDefaultUnit(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, again.ID)
}

func TestNextInvoiceNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.NextInvoiceNumber(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, "INV-000001", n)

	party := &models.Party{Name: "ACME"}
	require.NoError(t, s.DB(ctx).Create(party).Error)
	order := &models.SalesOrder{Reference: "POS1-1", PartyID: party.ID, Status: models.OrderStatusPaid, Total: 10, PlacedAt: time.Now().UTC()}
	require.NoError(t, s.DB(ctx).Create(order).Error)
	invoice := &models.Invoice{OrderID: order.ID, Number: n, FiscalToken: "FT-1", IssuedAt: time.Now().UTC()}
	require.NoError(t, s.DB(ctx).Create(invoice).Error)

	n, err = s.NextInvoiceNumber(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, "INV-000002", n)
}

func TestLocalIDByColumnPicksOldestOnAmbiguity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.Party{Name: "First", TaxID: "DUP"}
	require.NoError(t, s.DB(ctx).Create(first).Error)
	require.NoError(t, s.DB(ctx).Model(first).Update("created_at", time.Now().UTC().Add(-time.Hour)).Error)
	second := &models.Party{Name: "Second", TaxID: "DUP"}
	require.NoError(t, s.DB(ctx).Create(second).Error)

	id, ok, err := s.LocalIDByColumn(ctx, &models.Party{}, "tax_id", "DUP")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID.String(), id)
}

func TestChangedSincePagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cursor := time.Now().UTC().Add(-time.Minute)
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, s.DB(ctx).Create(&models.Party{Name: name}).Error)
	}

	ids, hasMore, err := s.ChangedSince(ctx, &models.Party{}, cursor, 2, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.True(t, hasMore)

	ids, hasMore, err = s.ChangedSince(ctx, &models.Party{}, cursor, 2, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.False(t, hasMore)

	// Nothing changed after now.
	ids, hasMore, err = s.ChangedSince(ctx, &models.Party{}, time.Now().UTC().Add(time.Minute), 2, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.False(t, hasMore)
}

func TestTombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTombstone(ctx, "product", "hub-9"))

	since := time.Now().UTC().Add(-time.Minute)
	tombstones, err := s.ListTombstonesSince(ctx, "product", since)
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	assert.Equal(t, "hub-9", tombstones[0].RemoteID)

	// Cursor past the deletion filters it out; other types never match.
	tombstones, err = s.ListTombstonesSince(ctx, "product", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, tombstones)
	tombstones, err = s.ListTombstonesSince(ctx, "party", since)
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

func TestSyncConfigLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetSyncConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg = &models.NodeSyncConfig{
		NodeID:      "pos-1",
		HubEndpoint: "http://hub.local",
	}
	require.NoError(t, s.SaveSyncConfig(ctx, cfg))

	loaded, err := s.GetSyncConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "pos-1", loaded.NodeID)
	assert.Equal(t, 100, loaded.EffectiveBatchSize())
	assert.Equal(t, 50, loaded.EffectiveSubBatchSize())

	require.NoError(t, s.UpdateSyncStatus(ctx, loaded.ID, models.SyncStatusError, "boom"))
	loaded, err = s.GetSyncConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, loaded.Status)
	assert.Equal(t, "boom", loaded.LastError)
}
