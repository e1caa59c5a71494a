package sync

import (
	"context"
	"fmt"
	"path/filepath"
	gosync "sync"
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

// stubTransport scripts hub behavior for orchestrator tests.
type stubTransport struct {
	mu        gosync.Mutex
	pushed    []wire.PushRequest
	pushErr   error
	pushFail  map[string]string // local ID -> error message
	pullData  map[string][]wire.Record
	pullDel   map[string][]wire.Record
	pullPages []*wire.PullResponse // when set, served in request order
	pullReqs  []wire.PullRequest
	pullErr   error
	syncDate  time.Time
	pushGate  chan struct{} // when set, Push blocks until closed
	cloudSeq  int
	pullCalls int
}

func (st *stubTransport) Push(_ context.Context, req wire.PushRequest) (*wire.PushResponse, error) {
	if st.pushGate != nil {
		<-st.pushGate
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pushErr != nil {
		return nil, st.pushErr
	}
	st.pushed = append(st.pushed, req)

	resp := &wire.PushResponse{Envelope: wire.Envelope{Success: true}}
	for _, rec := range req.Records {
		result := wire.RecordResult{QueueID: rec.QueueID, LocalID: rec.LocalID}
		if msg, bad := st.pushFail[rec.LocalID]; bad {
			result.Error = msg
		} else {
			st.cloudSeq++
			result.Success = true
			result.CloudID = fmt.Sprintf("cloud-%d", st.cloudSeq)
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

func (st *stubTransport) Pull(_ context.Context, req wire.PullRequest) (*wire.PullResponse, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pullCalls++
	st.pullReqs = append(st.pullReqs, req)
	if st.pullErr != nil {
		return nil, st.pullErr
	}
	if len(st.pullPages) > 0 {
		page := st.pullCalls - 1
		if page >= len(st.pullPages) {
			page = len(st.pullPages) - 1
		}
		return st.pullPages[page], nil
	}
	resp := &wire.PullResponse{
		Envelope:  wire.Envelope{Success: true},
		Data:      make(map[string][]wire.Record),
		Deletions: make(map[string][]wire.Record),
		HasMore:   make(map[string]bool),
		SyncDate:  st.syncDate,
	}
	for _, entity := range req.Entities {
		resp.Data[entity] = st.pullData[entity]
		resp.Deletions[entity] = st.pullDel[entity]
		resp.HasMore[entity] = false
	}
	return resp, nil
}

func newTestOrchestrator(t *testing.T, transport Transport) (*Orchestrator, *store.Store, *models.NodeSyncConfig) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := store.OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	cfg := &models.NodeSyncConfig{
		NodeID:        "pos-1",
		NodeName:      "Till 1",
		HubEndpoint:   "http://hub.local",
		OperationMode: models.ModeHybrid,
		BatchSize:     100,
		SubBatchSize:  10,
		MaxAttempts:   10,
	}
	require.NoError(t, s.SaveSyncConfig(context.Background(), cfg))

	reg := registry.NewDefault(zerolog.Nop())
	return New(s, reg, transport, zerolog.Nop()), s, cfg
}

func enqueue(t *testing.T, s *store.Store, entityType, recordID string, payload models.JSONMap) {
	t.Helper()
	require.NoError(t, s.Enqueue(context.Background(), entityType, recordID, models.OutboxOperationCreate, payload))
}

func TestPushRespectsDependencyTiers(t *testing.T) {
	st := &stubTransport{}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	// Enqueue in reverse dependency order; push must still send the
	// category tier before the product tier.
	enqueue(t, s, registry.TypeProduct, "p-1", models.JSONMap{"name": "Cola"})
	enqueue(t, s, registry.TypeCategory, "c-1", models.JSONMap{"name": "Beverages", "path": "Beverages"})

	cfg.OperationMode = models.ModeOffline
	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.True(t, res.Ok())

	require.Len(t, st.pushed, 2)
	assert.Equal(t, registry.TypeCategory, st.pushed[0].EntityType)
	assert.Equal(t, registry.TypeProduct, st.pushed[1].EntityType)
	assert.Equal(t, "pos-1", st.pushed[0].NodeID)
}

func TestPushAcknowledgementBindsRemoteID(t *testing.T) {
	st := &stubTransport{}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	party := &models.Party{Name: "ACME", TaxID: "TAX-1"}
	require.NoError(t, s.DB(ctx).Create(party).Error)
	enqueue(t, s, registry.TypeParty, party.ID.String(), models.JSONMap{"name": "ACME"})

	cfg.OperationMode = models.ModeOffline
	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)

	var got models.Party
	require.NoError(t, s.DB(ctx).First(&got, "id = ?", party.ID.String()).Error)
	require.NotNil(t, got.HubID)
	assert.Equal(t, "cloud-1", *got.HubID)

	counts, err := s.CountOutboxByState(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[models.OutboxStateSynced])
}

func TestPushCarriesStoredRemoteID(t *testing.T) {
	st := &stubTransport{}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	// An update to a record already bound to the hub may carry no natural
	// key at all; the snapshot's hub_id must travel as the remote
	// identifier or the hub creates a duplicate row.
	enqueue(t, s, registry.TypeParty, "a-1", models.JSONMap{"name": "ACME", "hub_id": "hub-9"})

	cfg.OperationMode = models.ModeOffline
	_, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)

	require.Len(t, st.pushed, 1)
	require.Len(t, st.pushed[0].Records, 1)
	assert.Equal(t, "hub-9", st.pushed[0].Records[0].RemoteID)
}

func TestPushTransportErrorFailsWholeGroup(t *testing.T) {
	st := &stubTransport{pushErr: fmt.Errorf("connection refused")}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	enqueue(t, s, registry.TypeParty, "a-1", models.JSONMap{"name": "A"})
	enqueue(t, s, registry.TypeParty, "a-2", models.JSONMap{"name": "B"})

	cfg.OperationMode = models.ModeOffline
	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Zero(t, res.Uploaded)
	assert.False(t, res.Ok())

	counts, err := s.CountOutboxByState(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[models.OutboxStateError], "both entries retry next cycle")
}

func TestPushPartialRejectionIsolatesRecords(t *testing.T) {
	st := &stubTransport{pushFail: map[string]string{"a-2": "validation failed"}}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	enqueue(t, s, registry.TypeParty, "a-1", models.JSONMap{"name": "A"})
	enqueue(t, s, registry.TypeParty, "a-2", models.JSONMap{"name": ""})

	cfg.OperationMode = models.ModeOffline
	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "validation failed")

	counts, err := s.CountOutboxByState(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[models.OutboxStateSynced])
	assert.EqualValues(t, 1, counts[models.OutboxStateError])
}

func TestPullAppliesAndAdvancesCursor(t *testing.T) {
	syncDate := time.Now().UTC().Truncate(time.Second)
	st := &stubTransport{
		syncDate: syncDate,
		pullData: map[string][]wire.Record{
			registry.TypeParty: {
				{EntityType: registry.TypeParty, RemoteID: "hub-1", Fields: map[string]any{"name": "ACME", "tax_id": "TAX-1"}},
			},
		},
	}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.True(t, res.Ok())

	count, err := s.CountRows(ctx, &models.Party{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	stored, err := s.GetSyncConfig(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, syncDate, stored.LastSyncCursor, time.Second)
	assert.Equal(t, models.SyncStatusSuccess, stored.Status)

	// Inbound application never re-enters the outbox.
	counts, err := s.CountOutboxByState(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[models.OutboxStatePending])
}

func TestPullDeduplicatesWithinPage(t *testing.T) {
	st := &stubTransport{
		syncDate: time.Now().UTC(),
		pullData: map[string][]wire.Record{
			registry.TypeParty: {
				{EntityType: registry.TypeParty, RemoteID: "hub-1", Fields: map[string]any{"name": "First", "tax_id": "TAX-1"}},
				{EntityType: registry.TypeParty, RemoteID: "hub-1", Fields: map[string]any{"name": "Last", "tax_id": "TAX-1"}},
			},
		},
	}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded, "superseded occurrence is dropped")

	var party models.Party
	require.NoError(t, s.DB(ctx).First(&party).Error)
	assert.Equal(t, "Last", party.Name)
}

func TestPullPagesAllEntitiesTogether(t *testing.T) {
	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	st := &stubTransport{pullPages: []*wire.PullResponse{
		{
			Envelope: wire.Envelope{Success: true},
			Data: map[string][]wire.Record{
				registry.TypeParty: {{EntityType: registry.TypeParty, RemoteID: "hub-1", Fields: map[string]any{"name": "ACME", "tax_id": "TAX-1"}}},
			},
			HasMore:  map[string]bool{registry.TypeParty: true},
			SyncDate: first,
		},
		{
			Envelope: wire.Envelope{Success: true},
			Data: map[string][]wire.Record{
				registry.TypeParty: {{EntityType: registry.TypeParty, RemoteID: "hub-2", Fields: map[string]any{"name": "Globex", "tax_id": "TAX-2"}}},
			},
			SyncDate: first.Add(30 * time.Second),
		},
	}}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 2, st.pullCalls)

	// One request covers every subscribed entity type so the whole phase
	// shares one change window.
	require.Len(t, st.pullReqs, 2)
	assert.Len(t, st.pullReqs[0].Entities, 7)
	assert.Contains(t, st.pullReqs[0].Entities, registry.TypeParty)
	assert.Contains(t, st.pullReqs[0].Entities, registry.TypeOrder)
	assert.Equal(t, 100, st.pullReqs[1].Offset)

	// The cursor stops at the first page's stamp; a later stamp would
	// claim changes this phase never saw.
	stored, err := s.GetSyncConfig(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, first, stored.LastSyncCursor, time.Second)
}

func TestPullBadRecordKeepsCursor(t *testing.T) {
	st := &stubTransport{
		syncDate: time.Now().UTC(),
		pullData: map[string][]wire.Record{
			registry.TypeParty: {
				{EntityType: registry.TypeParty, RemoteID: "hub-1", Fields: map[string]any{"name": "ACME", "tax_id": "TAX-1"}},
				{EntityType: registry.TypeParty, RemoteID: "hub-2", Fields: map[string]any{"tax_id": "TAX-2"}}, // no name
			},
		},
	}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded, "the good record still lands")
	assert.False(t, res.Ok())

	stored, err := s.GetSyncConfig(ctx)
	require.NoError(t, err)
	assert.True(t, stored.LastSyncCursor.IsZero(), "cursor must not advance past unapplied records")
	assert.Equal(t, models.SyncStatusError, stored.Status)
}

func TestPullAppliesDeletions(t *testing.T) {
	st := &stubTransport{
		syncDate: time.Now().UTC(),
		pullDel: map[string][]wire.Record{
			registry.TypeParty: {
				{EntityType: registry.TypeParty, RemoteID: "hub-1", Operation: wire.OpDelete, Fields: map[string]any{}},
			},
		},
	}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	hubID := "hub-1"
	require.NoError(t, s.DB(ctx).Create(&models.Party{Name: "ACME", HubID: &hubID}).Error)

	res, err := orch.RunCycle(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	count, err := s.CountRows(ctx, &models.Party{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOfflineModeSkipsPull(t *testing.T) {
	st := &stubTransport{syncDate: time.Now().UTC()}
	orch, _, cfg := newTestOrchestrator(t, st)
	cfg.OperationMode = models.ModeOffline

	_, err := orch.RunCycle(context.Background(), cfg)
	require.NoError(t, err)
	assert.Zero(t, st.pullCalls)
}

func TestRunCycleRejectsOverlap(t *testing.T) {
	gate := make(chan struct{})
	st := &stubTransport{pushGate: gate, syncDate: time.Now().UTC()}
	orch, s, cfg := newTestOrchestrator(t, st)
	ctx := context.Background()

	enqueue(t, s, registry.TypeParty, "a-1", models.JSONMap{"name": "A"})
	cfg.OperationMode = models.ModeOffline

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = orch.RunCycle(ctx, cfg)
	}()

	require.Eventually(t, orch.InFlight, time.Second, time.Millisecond)
	_, err := orch.RunCycle(ctx, cfg)
	assert.ErrorIs(t, err, ErrCycleInFlight)

	close(gate)
	<-done
	assert.False(t, orch.InFlight())
}
