// internal/storage/storage_test.go
package storage_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/storage"
	sqlitestorage "github.com/trailerlab/trailerd/internal/storage/sqlite"
)

func TestNewBackend_Memory(t *testing.T) {
	b, err := storage.NewBackend(config.StorageConfig{
		Type:   "memory",
		Memory: config.MemoryConfig{OutputDir: t.TempDir()},
	}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, b)

	// The memory backend is uploadable.
	_, ok := b.(storage.Uploadable)
	assert.True(t, ok)
}

func TestNewBackend_Websocket(t *testing.T) {
	b, err := storage.NewBackend(config.StorageConfig{
		Type:      "websocket",
		Websocket: config.WebsocketConfig{URL: "ws://localhost:5001/ingest"},
	}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, b)

	// Streaming backend produces no export file.
	_, ok := b.(storage.Uploadable)
	assert.False(t, ok)
}

func TestNewBackend_PostgresFallsBackToSqlite(t *testing.T) {
	// Nothing listens on port 1; the connection is refused immediately and
	// the factory falls back so the run can still be recorded.
	viper.Set("db.host", "127.0.0.1")
	viper.Set("db.port", "1")
	viper.Set("dataDir", t.TempDir())
	defer viper.Reset()

	b, err := storage.NewBackend(config.StorageConfig{Type: "postgres"},
		logging.NewSlogManager(), nil)
	require.NoError(t, err)

	_, ok := b.(*sqlitestorage.Backend)
	assert.True(t, ok, "expected the SQLite fallback backend, got %T", b)
}

func TestNewBackend_UnknownType(t *testing.T) {
	_, err := storage.NewBackend(config.StorageConfig{Type: "carrier-pigeon"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}
