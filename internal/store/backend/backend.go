// Package backend opens the record store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/caseimport/internal/config"
	"github.com/JonMunkholm/caseimport/internal/store"
	"github.com/JonMunkholm/caseimport/internal/store/memory"
	"github.com/JonMunkholm/caseimport/internal/store/postgres"
	"github.com/JonMunkholm/caseimport/internal/store/sqlite"
)

// Open returns the store for cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.Store.SQLiteDir)
	case config.DriverPostgres:
		return postgres.Connect(ctx, cfg.Database.URL, postgres.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
