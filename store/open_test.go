package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/config"
	"github.com/warp/fleet-ledger/store"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "fleet.db")}

	s, err := store.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Ping(ctx))
	n, err := s.CurrentSequence(ctx, "receipt:global:")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := store.Open(context.Background(), &config.Config{StoreDriver: "mongo"})
	assert.ErrorContains(t, err, "unknown store driver")
}
