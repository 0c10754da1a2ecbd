// Package worker owns the control-surface state: the pending parameter set,
// the loaded course, and the lifecycle of the active run.
package worker

import (
	"sync"
	"time"

	"github.com/trailerlab/trailerd/internal/api"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/parser"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/internal/sim"
	"github.com/trailerlab/trailerd/internal/storage"
	"github.com/trailerlab/trailerd/pkg/core"
)

// Dependencies holds all dependencies for the worker manager.
type Dependencies struct {
	LogManager *logging.SlogManager
	RunContext *run.Context
	Parser     *parser.Parser
	APIClient  *api.Client // optional, enables :EXPORT:
}

// Manager handles control commands and drives the runner.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	runner  *sim.Runner

	mu     sync.Mutex
	params core.SimParams
	course *core.Course
}

// NewManager creates a worker manager. Parameters start at their defaults.
func NewManager(deps Dependencies, backend storage.Backend, runner *sim.Runner) *Manager {
	return &Manager{
		deps:    deps,
		backend: backend,
		runner:  runner,
		params:  core.DefaultParams(),
	}
}

// Params returns a copy of the pending parameter set.
func (m *Manager) Params() core.SimParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// Course returns the loaded course, or nil when none is set.
func (m *Manager) Course() *core.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.course
}

// DBWriteDurationProvider is an optional interface that backends can
// implement to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}
