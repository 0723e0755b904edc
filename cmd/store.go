package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/store"
	"github.com/sells-group/product-fusion/internal/vertical"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "fusion.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore initializes and migrates the configured store. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// loadVertical reads the vertical at path, falling back to the configured
// fusion.vertical_path.
func loadVertical(path string) (*vertical.Config, error) {
	if path == "" {
		path = cfg.Fusion.VerticalPath
	}
	vc, err := vertical.LoadConfig(path)
	if err != nil {
		return nil, eris.Wrap(err, "load vertical")
	}
	return vc, nil
}
