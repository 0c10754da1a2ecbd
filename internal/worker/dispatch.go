package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trailerlab/trailerd/internal/dispatcher"
	"github.com/trailerlab/trailerd/internal/storage"
)

// ErrRunActive is returned for commands that are rejected while a run is in
// progress. Parameters and the course are frozen for the run's duration.
var ErrRunActive = errors.New("a run is active")

// ErrNoCourse is returned when a run is started before a course is loaded.
var ErrNoCourse = errors.New("no course loaded")

// RegisterHandlers registers all control command handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Parameter surface - sync so the caller sees range errors immediately
	d.Register(":PARAM:SET:", m.handleParamSet, dispatcher.Logged())
	d.Register(":PARAM:GET:", m.handleParamGet)

	// Course loading - sync (must be in place before :RUN:START:)
	d.Register(":COURSE:PATH:", m.handleCoursePath, dispatcher.Logged())
	d.Register(":COURSE:CIRCLE:", m.handleCourseCircle, dispatcher.Logged())

	// Run lifecycle
	d.Register(":RUN:START:", m.handleRunStart, dispatcher.Logged())
	d.Register(":RUN:STOP:", m.handleRunStop, dispatcher.Logged())
	d.Register(":STATUS:", m.handleStatus)

	// Upload is slow, keep it off the caller's thread
	d.Register(":EXPORT:", m.handleExport, dispatcher.Buffered(1), dispatcher.Logged())
}

func (m *Manager) handleParamSet(e dispatcher.Event) (any, error) {
	field, value, err := m.deps.Parser.ParseParamSet(e.Args)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runner.IsRunning() {
		return nil, fmt.Errorf("cannot set %q: %w", field, ErrRunActive)
	}
	if err := m.params.Set(field, value); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (m *Manager) handleParamGet(e dispatcher.Event) (any, error) {
	m.mu.Lock()
	params := m.params
	m.mu.Unlock()

	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return string(data), nil
}

func (m *Manager) handleCoursePath(e dispatcher.Event) (any, error) {
	course, err := m.deps.Parser.ParseCoursePath(e.Args)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runner.IsRunning() {
		return nil, fmt.Errorf("cannot load course: %w", ErrRunActive)
	}
	// A new path replaces the whole course, obstacles included.
	m.course = course
	return fmt.Sprintf("course %q: %d waypoints", course.Name, len(course.Waypoints)), nil
}

func (m *Manager) handleCourseCircle(e dispatcher.Event) (any, error) {
	circle, err := m.deps.Parser.ParseCourseCircle(e.Args)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runner.IsRunning() {
		return nil, fmt.Errorf("cannot add obstacle: %w", ErrRunActive)
	}
	if m.course == nil {
		return nil, ErrNoCourse
	}
	m.course.Obstacles = append(m.course.Obstacles, circle)
	return fmt.Sprintf("obstacle %d added", len(m.course.Obstacles)), nil
}

func (m *Manager) handleRunStart(e dispatcher.Event) (any, error) {
	newRun, err := m.deps.Parser.ParseRunStart(e.Args)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.course == nil {
		m.mu.Unlock()
		return nil, ErrNoCourse
	}
	if err := m.params.Validate(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	newRun.Params = m.params
	params := m.params
	course := m.course
	m.mu.Unlock()

	if err := m.runner.Start(newRun, course, params); err != nil {
		return nil, err
	}
	m.deps.RunContext.SetRun(newRun, course)
	return fmt.Sprintf("run %q started", newRun.Name), nil
}

func (m *Manager) handleRunStop(e dispatcher.Event) (any, error) {
	if !m.runner.IsRunning() {
		return "no run active", nil
	}
	m.runner.Stop()
	return "run stopped", nil
}

// statusReport is the JSON shape returned by :STATUS:.
type statusReport struct {
	Running             bool    `json:"running"`
	RunName             string  `json:"runName"`
	CourseName          string  `json:"courseName"`
	LastWriteDurationMs float32 `json:"lastWriteDurationMs"`
}

func (m *Manager) handleStatus(e dispatcher.Event) (any, error) {
	status := statusReport{
		Running:             m.runner.IsRunning(),
		RunName:             m.deps.RunContext.GetRun().Name,
		CourseName:          m.deps.RunContext.GetCourse().Name,
		LastWriteDurationMs: float32(m.GetLastDBWriteDuration().Milliseconds()),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

func (m *Manager) handleExport(e dispatcher.Event) (any, error) {
	if m.runner.IsRunning() {
		return nil, fmt.Errorf("cannot export: %w", ErrRunActive)
	}

	uploadable, ok := m.backend.(storage.Uploadable)
	if !ok {
		return nil, errors.New("storage backend does not produce export files")
	}
	path := uploadable.GetExportedFilePath()
	if path == "" {
		return nil, errors.New("no export available, finish a run first")
	}
	if m.deps.APIClient == nil {
		return nil, errors.New("no API endpoint configured")
	}

	meta := uploadable.GetExportMetadata()
	if err := m.deps.APIClient.Upload(path, meta); err != nil {
		m.deps.LogManager.Logger().Error("upload failed", "path", path, "error", err)
		return nil, err
	}
	m.deps.LogManager.Logger().Info("recording uploaded", "path", path, "run", meta.RunName)
	return "uploaded", nil
}
