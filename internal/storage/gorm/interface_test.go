package gormstorage_test

import (
	"github.com/trailerlab/trailerd/internal/storage"
	gormstorage "github.com/trailerlab/trailerd/internal/storage/gorm"
)

// Compile-time interface check
var _ storage.Backend = (*gormstorage.Backend)(nil)
