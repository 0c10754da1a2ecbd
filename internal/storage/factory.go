package storage

import (
	"fmt"
	"path/filepath"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/internal/storage/memory"
	"github.com/trailerlab/trailerd/internal/storage/postgres"
	sqlitestorage "github.com/trailerlab/trailerd/internal/storage/sqlite"
	"github.com/trailerlab/trailerd/internal/storage/websocket"
)

// NewBackend creates a storage backend based on configuration. Postgres falls
// back to the in-memory SQLite backend when the server is unreachable, so a
// run is never lost to a down database.
func NewBackend(cfg config.StorageConfig, logManager *logging.SlogManager, runCtx *run.Context) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		b, err := postgres.New(logManager, runCtx)
		if err == nil {
			return b, nil
		}
		if logManager != nil {
			logManager.WriteLog("NewBackend",
				fmt.Sprintf("Postgres unavailable, falling back to SQLite: %s", err), "WARN")
		}
		return newSqliteBackend(cfg, logManager, runCtx)
	case "sqlite":
		return newSqliteBackend(cfg, logManager, runCtx)
	case "memory":
		return memory.New(cfg.Memory), nil
	case "websocket":
		return websocket.New(websocket.Config{
			URL:    cfg.Websocket.URL,
			Secret: cfg.Websocket.Secret,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func newSqliteBackend(cfg config.StorageConfig, logManager *logging.SlogManager, runCtx *run.Context) (Backend, error) {
	dumpPath := filepath.Join(config.GetString("dataDir"), "trailerd.db")
	return sqlitestorage.New(sqlitestorage.Config{
		DumpInterval: cfg.SQLite.DumpInterval,
		DumpPath:     dumpPath,
	}, logManager, runCtx)
}
