package memory_test

import (
	"github.com/trailerlab/trailerd/internal/storage"
	"github.com/trailerlab/trailerd/internal/storage/memory"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*memory.Backend)(nil)

// Verify Backend implements storage.Uploadable interface
var _ storage.Uploadable = (*memory.Backend)(nil)
