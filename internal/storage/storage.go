// internal/storage/storage.go
package storage

import "github.com/trailerlab/trailerd/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run, course *core.Course) error
	EndRun() error

	// Recording
	RecordFrame(f *core.Frame) error
	RecordSolveReport(r *core.SolveReport) error
	RecordEvent(e *core.RunEvent) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the viewer web frontend.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}
