package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

const testToken = "secret-token"

func newTestApp(t *testing.T) (*App, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.db")
	s, err := store.OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	reg := registry.NewDefault(zerolog.Nop())
	return New(s, reg, testToken, zerolog.Nop()), s
}

func postJSON(t *testing.T, app *App, path string, payload, target any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, req)
	if target != nil && w.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(w.Body).Decode(target))
	}
	return w
}

func TestAuthMiddleware(t *testing.T) {
	app, _ := newTestApp(t)

	body := bytes.NewReader([]byte(`{}`))
	req := httptest.NewRequest(http.MethodPost, "/api/sync/pull", body)
	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/sync/pull", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	app.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health stays open for probes.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	app.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPushIngestsAndAcknowledgesPerRecord(t *testing.T) {
	app, s := newTestApp(t)

	var resp wire.PushResponse
	w := postJSON(t, app, "/api/sync/push", wire.PushRequest{
		EntityType: registry.TypeParty,
		NodeID:     "pos-1",
		Records: []wire.Record{
			{QueueID: 1, LocalID: "node-local-1", Operation: wire.OpCreate, Fields: map[string]any{"name": "ACME", "tax_id": "TAX-1"}},
			{QueueID: 2, LocalID: "node-local-2", Operation: wire.OpCreate, Fields: map[string]any{"tax_id": "TAX-2"}}, // no name
		},
	}, &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)
	require.Len(t, resp.Results, 2)

	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, uint64(1), resp.Results[0].QueueID)
	assert.NotEmpty(t, resp.Results[0].CloudID)
	assert.False(t, resp.Results[1].Success)
	assert.NotEmpty(t, resp.Results[1].Error)

	count, err := s.CountRows(context.Background(), &models.Party{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "the bad record is rejected alone")
}

func TestPushIsIdempotent(t *testing.T) {
	app, s := newTestApp(t)

	req := wire.PushRequest{
		EntityType: registry.TypeParty,
		NodeID:     "pos-1",
		Records: []wire.Record{
			{QueueID: 1, LocalID: "node-local-1", Operation: wire.OpCreate, Fields: map[string]any{"name": "ACME", "tax_id": "TAX-1"}},
		},
	}

	var first wire.PushResponse
	postJSON(t, app, "/api/sync/push", req, &first)
	var second wire.PushResponse
	postJSON(t, app, "/api/sync/push", req, &second)

	assert.Equal(t, first.Results[0].CloudID, second.Results[0].CloudID, "replay resolves to the same record")
	count, err := s.CountRows(context.Background(), &models.Party{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestPushUpdateResolvesByRemoteIDWithoutNaturalKey(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	var created wire.PushResponse
	postJSON(t, app, "/api/sync/push", wire.PushRequest{
		EntityType: registry.TypeParty,
		NodeID:     "pos-1",
		Records: []wire.Record{
			{QueueID: 1, LocalID: "node-local-1", Operation: wire.OpCreate, Fields: map[string]any{"name": "ACME"}},
		},
	}, &created)
	require.True(t, created.Results[0].Success)
	cloudID := created.Results[0].CloudID
	require.NotEmpty(t, cloudID)

	// The update carries no tax ID; only the bound remote identifier can
	// resolve it to the existing row.
	var updated wire.PushResponse
	postJSON(t, app, "/api/sync/push", wire.PushRequest{
		EntityType: registry.TypeParty,
		NodeID:     "pos-1",
		Records: []wire.Record{
			{QueueID: 2, LocalID: "node-local-1", RemoteID: cloudID, Operation: wire.OpUpdate, Fields: map[string]any{"name": "ACME Ltd", "hub_id": cloudID}},
		},
	}, &updated)
	require.True(t, updated.Results[0].Success)
	assert.Equal(t, cloudID, updated.Results[0].CloudID)

	count, err := s.CountRows(ctx, &models.Party{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	var party models.Party
	require.NoError(t, s.DB(ctx).First(&party).Error)
	assert.Equal(t, "ACME Ltd", party.Name)
}

func TestPushDeleteRecordsTombstone(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	party := &models.Party{Name: "ACME", TaxID: "TAX-1"}
	require.NoError(t, s.DB(ctx).Create(party).Error)

	var resp wire.PushResponse
	postJSON(t, app, "/api/sync/push", wire.PushRequest{
		EntityType: registry.TypeParty,
		NodeID:     "pos-1",
		Records: []wire.Record{
			{QueueID: 1, Operation: wire.OpDelete, Fields: map[string]any{"tax_id": "TAX-1"}},
		},
	}, &resp)
	require.True(t, resp.Results[0].Success)

	count, err := s.CountRows(ctx, &models.Party{})
	require.NoError(t, err)
	assert.Zero(t, count)

	tombstones, err := s.ListTombstonesSince(ctx, registry.TypeParty, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	assert.Equal(t, party.ID.String(), tombstones[0].RemoteID)
}

func TestPullServesChangesAndDeletions(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, s.DB(ctx).Create(&models.Party{Name: "ACME", TaxID: "TAX-1"}).Error)
	require.NoError(t, s.RecordTombstone(ctx, registry.TypeProduct, "gone-1"))

	var resp wire.PullResponse
	w := postJSON(t, app, "/api/sync/pull", wire.PullRequest{
		NodeID:   "pos-1",
		Entities: []string{registry.TypeParty, registry.TypeProduct},
		Cursor:   time.Now().UTC().Add(-time.Hour),
		Limit:    10,
	}, &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	require.Len(t, resp.Data[registry.TypeParty], 1)
	rec := resp.Data[registry.TypeParty][0]
	assert.NotEmpty(t, rec.RemoteID, "hub key travels as the remote identifier")
	assert.Empty(t, rec.LocalID)
	assert.Equal(t, "ACME", rec.String("name"))
	assert.False(t, resp.HasMore[registry.TypeParty])

	require.Len(t, resp.Deletions[registry.TypeProduct], 1)
	assert.Equal(t, "gone-1", resp.Deletions[registry.TypeProduct][0].RemoteID)
	assert.False(t, resp.SyncDate.IsZero())
}

func TestPullRespectsCursor(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, s.DB(ctx).Create(&models.Party{Name: "Old", TaxID: "TAX-1"}).Error)

	var resp wire.PullResponse
	postJSON(t, app, "/api/sync/pull", wire.PullRequest{
		NodeID:   "pos-1",
		Entities: []string{registry.TypeParty},
		Cursor:   time.Now().UTC().Add(time.Hour),
		Limit:    10,
	}, &resp)
	assert.Empty(t, resp.Data[registry.TypeParty])
}

func TestPullHonorsEntityLimitOverride(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, s.DB(ctx).Create(&models.Party{Name: name}).Error)
	}

	var resp wire.PullResponse
	postJSON(t, app, "/api/sync/pull", wire.PullRequest{
		NodeID:       "pos-1",
		Entities:     []string{registry.TypeParty},
		Cursor:       time.Now().UTC().Add(-time.Hour),
		Limit:        10,
		EntityLimits: map[string]int{registry.TypeParty: 2},
	}, &resp)
	require.True(t, resp.Success)
	assert.Len(t, resp.Data[registry.TypeParty], 2)
	assert.True(t, resp.HasMore[registry.TypeParty])
}

func TestPullDeletionsRideFirstPageOnly(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTombstone(ctx, registry.TypeProduct, "gone-1"))

	var first wire.PullResponse
	postJSON(t, app, "/api/sync/pull", wire.PullRequest{
		NodeID:   "pos-1",
		Entities: []string{registry.TypeProduct},
		Cursor:   time.Now().UTC().Add(-time.Hour),
		Limit:    10,
	}, &first)
	require.Len(t, first.Deletions[registry.TypeProduct], 1)

	var second wire.PullResponse
	postJSON(t, app, "/api/sync/pull", wire.PullRequest{
		NodeID:   "pos-1",
		Entities: []string{registry.TypeProduct},
		Cursor:   time.Now().UTC().Add(-time.Hour),
		Limit:    10,
		Offset:   10,
	}, &second)
	assert.Empty(t, second.Deletions[registry.TypeProduct])
}

func TestManifestListsEntitiesInDependencyOrder(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, s.DB(ctx).Create(&models.Party{Name: "ACME"}).Error)

	var resp wire.ManifestResponse
	postJSON(t, app, "/api/migration/manifest", wire.ManifestRequest{NodeID: "pos-1"}, &resp)
	require.True(t, resp.Success)

	assert.EqualValues(t, 1, resp.Manifest[registry.TypeParty])
	assert.EqualValues(t, 0, resp.Manifest[registry.TypeProduct])
	assert.Positive(t, resp.RecommendedBatchSize)

	index := make(map[string]int, len(resp.SyncOrder))
	for i, e := range resp.SyncOrder {
		index[e] = i
	}
	assert.Less(t, index[registry.TypeParty], index[registry.TypeProduct])
	assert.Less(t, index[registry.TypeProduct], index[registry.TypeOrder])
}

func TestBatchPaginates(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, s.DB(ctx).Create(&models.Party{Name: name}).Error)
	}

	var page1 wire.BatchResponse
	postJSON(t, app, "/api/migration/batch", wire.BatchRequest{EntityType: registry.TypeParty, Limit: 2, Offset: 0}, &page1)
	require.True(t, page1.Success)
	assert.Len(t, page1.Records, 2)
	assert.True(t, page1.HasMore)

	var page2 wire.BatchResponse
	postJSON(t, app, "/api/migration/batch", wire.BatchRequest{EntityType: registry.TypeParty, Limit: 2, Offset: 2}, &page2)
	assert.Len(t, page2.Records, 1)
	assert.False(t, page2.HasMore)
}

func TestCancelOrder(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	party := &models.Party{Name: "ACME", TaxID: "TAX-1"}
	require.NoError(t, s.DB(ctx).Create(party).Error)
	require.NoError(t, s.DB(ctx).Create(&models.SalesOrder{
		Reference: "POS1-000042",
		PartyID:   party.ID,
		Status:    models.OrderStatusDraft,
		Total:     10,
	}).Error)
	require.NoError(t, s.DB(ctx).Create(&models.SalesOrder{
		Reference: "POS1-000043",
		PartyID:   party.ID,
		Status:    models.OrderStatusInvoiced,
		Total:     10,
	}).Error)

	var resp wire.Envelope
	w := postJSON(t, app, "/api/orders/POS1-000042/cancel", struct{}{}, &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	got, err := s.GetOrderByReference(ctx, "POS1-000042")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)

	// Replay stays a no-op.
	w = postJSON(t, app, "/api/orders/POS1-000042/cancel", struct{}{}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, app, "/api/orders/POS1-000043/cancel", struct{}{}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = postJSON(t, app, "/api/orders/missing/cancel", struct{}{}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchUnknownEntityType(t *testing.T) {
	app, _ := newTestApp(t)
	w := postJSON(t, app, "/api/migration/batch", wire.BatchRequest{EntityType: "hologram"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
