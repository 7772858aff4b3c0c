package infra

import (
	"context"
	"fmt"

	"github.com/school-records/school_records/internal/account"
	"github.com/school-records/school_records/internal/config"
)

// OpenAccountStore builds the account store selected by cfg: PostgreSQL when
// DATABASE_URL is set, SQLite at SQLITE_PATH otherwise. The returned close
// func releases the pool and must run after the HTTP server has shut down.
func OpenAccountStore(ctx context.Context, cfg config.Config) (account.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
		defer cancel()

		pool, err := NewPostgresPool(connectCtx, cfg.DatabaseURL, PoolOptions{
			MaxConns:       cfg.DBMaxConns,
			MinConns:       cfg.DBMinConns,
			ConnectTimeout: cfg.DBConnectTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return account.NewPostgresStore(pool), pool.Close, nil
	}

	if cfg.SQLitePath == "" {
		return nil, nil, fmt.Errorf("no account store configured")
	}
	store, err := account.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
