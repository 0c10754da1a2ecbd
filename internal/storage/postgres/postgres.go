// Package postgres implements the storage.Backend interface on PostgreSQL
// by composing the shared GORM backend with a standalone connection.
package postgres

import (
	"fmt"

	"github.com/trailerlab/trailerd/internal/database"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/run"
	gormstorage "github.com/trailerlab/trailerd/internal/storage/gorm"
)

// Backend wraps the GORM backend with a dedicated Postgres connection.
type Backend struct {
	*gormstorage.Backend
}

// New connects to Postgres using viper config and builds the backend.
func New(logManager *logging.SlogManager, runCtx *run.Context) (*Backend, error) {
	db, err := database.OpenPostgres()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:         db,
		LogManager: logManager,
		RunContext: runCtx,
	})

	return &Backend{Backend: gormBackend}, nil
}
