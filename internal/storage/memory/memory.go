// internal/storage/memory/memory.go
package memory

import (
	"sync"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/pkg/core"
)

// Backend stores run data in memory and exports to JSON when the run ends.
type Backend struct {
	cfg    config.MemoryConfig
	run    *core.Run
	course *core.Course

	frames     []core.Frame
	solveStats []core.SolveReport
	events     []core.RunEvent

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg: cfg,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run
func (b *Backend) StartRun(run *core.Run, course *core.Course) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.course = course

	// Reset all collections
	b.frames = nil
	b.solveStats = nil
	b.events = nil

	return nil
}

// EndRun finalizes and exports the run data
func (b *Backend) EndRun() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return nil
	}
	return b.exportJSON()
}

// RecordFrame records a simulation step
func (b *Backend) RecordFrame(f *core.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, *f)
	return nil
}

// RecordSolveReport records solver performance for one step
func (b *Backend) RecordSolveReport(r *core.SolveReport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.solveStats = append(b.solveStats, *r)
	return nil
}

// RecordEvent records a run event
func (b *Backend) RecordEvent(e *core.RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *e)
	return nil
}

// GetExportedFilePath returns the path of the last exported recording.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the last recording for upload.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	meta := core.UploadMetadata{}
	if b.run != nil {
		meta.RunName = b.run.Name
		meta.Tag = b.run.Tag
	}
	if b.course != nil {
		meta.CourseName = b.course.Name
	}
	if n := len(b.frames); n > 0 {
		meta.RunDuration = b.frames[n-1].SimTime
	}
	return meta
}
