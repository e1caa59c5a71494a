package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSnapshotFields(t *testing.T) {
	type widget struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	fields, err := SnapshotFields(widget{Name: "cola", Price: 1.5})
	require.NoError(t, err)
	require.Equal(t, "cola", fields["name"])
	require.Equal(t, 1.5, fields["price"])
}

func TestContextMarkers(t *testing.T) {
	ctx := context.Background()
	require.False(t, IsInboundSync(ctx))
	require.False(t, IsProvisioning(ctx))

	inbound := WithInboundSync(ctx)
	require.True(t, IsInboundSync(inbound))
	require.False(t, IsProvisioning(inbound))

	prov := WithProvisioning(inbound)
	require.True(t, IsInboundSync(prov))
	require.True(t, IsProvisioning(prov))
}
