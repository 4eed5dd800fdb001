// Package store selects the ledger store backend from configuration.
package store

import (
	"context"
	"fmt"

	"github.com/warp/fleet-ledger/config"
	"github.com/warp/fleet-ledger/ledger"
	"github.com/warp/fleet-ledger/store/postgres"
	"github.com/warp/fleet-ledger/store/sqlite"
)

// Store is the contract both backends satisfy.
type Store interface {
	ledger.TxStore
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open connects the configured backend. Both run their migrations.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	// Lock waits give up before the transaction deadline, surfacing as
	// contention rather than timeout.
	lockWait := cfg.TxTimeout / 2
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath, sqlite.WithBusyTimeout(lockWait))
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PGDSN, postgres.WithLockTimeout(lockWait))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
