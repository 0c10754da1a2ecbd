package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/dispatcher"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/parser"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/internal/sim"
	"github.com/trailerlab/trailerd/internal/storage/memory"
	"github.com/trailerlab/trailerd/pkg/core"
)

func newTestSetup(t *testing.T) (*Manager, *dispatcher.Dispatcher) {
	t.Helper()

	backend := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	runner := sim.NewRunner(config.SimConfig{GoalTolerance: 2.0, MaxDuration: time.Minute}, backend, nil)

	m := NewManager(Dependencies{
		LogManager: logging.NewSlogManager(),
		RunContext: run.NewContext(),
		Parser:     parser.New(nil, "1.0.0"),
	}, backend, runner)

	d, err := dispatcher.New(logging.NewCommandLogger(zerolog.Nop()))
	require.NoError(t, err)
	m.RegisterHandlers(d)
	return m, d
}

func dispatch(t *testing.T, d *dispatcher.Dispatcher, cmd string, args ...string) (any, error) {
	t.Helper()
	return d.Dispatch(dispatcher.Event{Command: cmd, Args: args, Timestamp: time.Now()})
}

func TestParamSetAndGet(t *testing.T) {
	m, d := newTestSetup(t)

	_, err := dispatch(t, d, ":PARAM:SET:", "speed", "4")
	require.NoError(t, err)
	_, err = dispatch(t, d, ":PARAM:SET:", `"max_angle"`, `"30"`)
	require.NoError(t, err)

	res, err := dispatch(t, d, ":PARAM:GET:")
	require.NoError(t, err)

	var params core.SimParams
	require.NoError(t, json.Unmarshal([]byte(res.(string)), &params))
	assert.Equal(t, 4.0, params.Speed)
	// Angles are degrees on the surface, radians inside.
	assert.InDelta(t, 30.0*3.14159265/180, params.MaxSteer, 1e-3)

	assert.Equal(t, 4.0, m.Params().Speed)
}

func TestParamSet_Rejections(t *testing.T) {
	_, d := newTestSetup(t)

	// Unknown parameter name.
	_, err := dispatch(t, d, ":PARAM:SET:", "warp_factor", "9")
	require.Error(t, err)

	// Out of range.
	_, err = dispatch(t, d, ":PARAM:SET:", "speed", "500")
	require.Error(t, err)
	var rangeErr *core.RangeError
	assert.ErrorAs(t, err, &rangeErr)

	// Not a number.
	_, err = dispatch(t, d, ":PARAM:SET:", "speed", "fast")
	require.Error(t, err)
}

func TestCourseFlow(t *testing.T) {
	m, d := newTestSetup(t)

	// Obstacles need a course first.
	_, err := dispatch(t, d, ":COURSE:CIRCLE:", "10,0,2")
	assert.ErrorIs(t, err, ErrNoCourse)

	_, err = dispatch(t, d, ":COURSE:PATH:", "Loading Bay", "[[0,0],[40,0]]")
	require.NoError(t, err)

	_, err = dispatch(t, d, ":COURSE:CIRCLE:", "10,0,2")
	require.NoError(t, err)

	course := m.Course()
	require.NotNil(t, course)
	assert.Equal(t, "Loading Bay", course.Name)
	assert.Len(t, course.Obstacles, 1)

	// Reloading the path replaces the course, obstacles included.
	_, err = dispatch(t, d, ":COURSE:PATH:", "Second", "[[0,0],[20,0]]")
	require.NoError(t, err)
	assert.Empty(t, m.Course().Obstacles)
}

func TestRunStart_NoCourse(t *testing.T) {
	_, d := newTestSetup(t)

	_, err := dispatch(t, d, ":RUN:START:", "orphan")
	assert.ErrorIs(t, err, ErrNoCourse)
}

func TestRunLifecycle(t *testing.T) {
	m, d := newTestSetup(t)

	_, err := dispatch(t, d, ":COURSE:PATH:", "Short", "[[0,0],[30,0]]")
	require.NoError(t, err)
	// Track the trailer axle directly so the straight course terminates.
	_, err = dispatch(t, d, ":PARAM:SET:", "heading", "0")
	require.NoError(t, err)

	m.mu.Lock()
	m.params.TrailerPoint = core.Position2D{}
	m.mu.Unlock()

	res, err := dispatch(t, d, ":RUN:START:", `"Dock Approach"`, "regression")
	require.NoError(t, err)
	assert.Contains(t, res.(string), "Dock Approach")

	// Parameters are frozen while the run is active.
	if m.runner.IsRunning() {
		_, err = dispatch(t, d, ":PARAM:SET:", "speed", "1")
		assert.ErrorIs(t, err, ErrRunActive)
	}

	// The short straight course finishes on its own.
	require.Eventually(t, func() bool {
		return !m.runner.IsRunning()
	}, 10*time.Second, 10*time.Millisecond)

	// Status reflects the finished run.
	res, err = dispatch(t, d, ":STATUS:")
	require.NoError(t, err)
	var status statusReport
	require.NoError(t, json.Unmarshal([]byte(res.(string)), &status))
	assert.False(t, status.Running)
	assert.Equal(t, "Dock Approach", status.RunName)
	assert.Equal(t, "Short", status.CourseName)

	// Stop with nothing running is a no-op.
	res, err = dispatch(t, d, ":RUN:STOP:")
	require.NoError(t, err)
	assert.Equal(t, "no run active", res)
}

func TestExport_NoAPIClient(t *testing.T) {
	m, d := newTestSetup(t)

	_, err := dispatch(t, d, ":COURSE:PATH:", "Short", "[[0,0],[20,0]]")
	require.NoError(t, err)
	m.mu.Lock()
	m.params.TrailerPoint = core.Position2D{}
	m.mu.Unlock()

	_, err = dispatch(t, d, ":RUN:START:", "exportable")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return !m.runner.IsRunning()
	}, 10*time.Second, 10*time.Millisecond)

	// Call the handler directly; the registered version is buffered.
	_, err = m.handleExport(dispatcher.Event{Command: ":EXPORT:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API endpoint")
}

func TestExport_NothingRecorded(t *testing.T) {
	m, _ := newTestSetup(t)

	_, err := m.handleExport(dispatcher.Event{Command: ":EXPORT:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no export available")
}
