package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	"github.com/mr1hm/go-hazard-alerts/internal/repository"
)

// openStore connects the repository selected by STORE_DRIVER.
func openStore(ctx context.Context, c *config.Config) (repository.Store, error) {
	switch c.DB.Driver {
	case config.StorePostgres:
		db, err := repository.NewPostgresDB(ctx, c.DB.URL)
		if err != nil {
			return nil, err
		}
		return db, nil

	case config.StoreSQLite:
		if c.DB.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.DB.Path), 0o755); err != nil {
				return nil, eris.Wrapf(err, "create data directory for %s", c.DB.Path)
			}
		}
		db, err := repository.NewSQLiteDB(c.DB.Path)
		if err != nil {
			return nil, err
		}
		return db, nil

	default:
		return nil, eris.Errorf("unknown store driver %q", c.DB.Driver)
	}
}
