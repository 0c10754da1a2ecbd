package websocket_test

import (
	"github.com/trailerlab/trailerd/internal/storage"
	"github.com/trailerlab/trailerd/internal/storage/websocket"
)

// Compile-time interface check.
var _ storage.Backend = (*websocket.Backend)(nil)
