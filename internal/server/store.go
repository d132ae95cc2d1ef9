package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sakif/glucose-api/internal/config"
	"github.com/sakif/glucose-api/internal/repository"
	"github.com/sakif/glucose-api/internal/repository/memory"
	"github.com/sakif/glucose-api/internal/repository/sqlstore"
)

// OpenStore opens the record store selected by cfg. The caller owns the
// returned store and must Close it.
func OpenStore(cfg config.Storage) (repository.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageSQLite:
		if cfg.SQLitePath != ":memory:" {
			// like `mkdir -p` for the database directory
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqlstore.OpenSQLite(cfg.SQLitePath)
	case config.StoragePostgres:
		return sqlstore.OpenPostgres(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
