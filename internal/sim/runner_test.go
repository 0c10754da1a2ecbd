package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/storage"
	"github.com/trailerlab/trailerd/pkg/core"
)

// recordingBackend captures everything the runner records.
type recordingBackend struct {
	mu      sync.Mutex
	started bool
	ended   bool
	frames  []core.Frame
	reports []core.SolveReport
	events  []core.RunEvent
}

var _ storage.Backend = (*recordingBackend)(nil)

func (b *recordingBackend) Init() error  { return nil }
func (b *recordingBackend) Close() error { return nil }

func (b *recordingBackend) StartRun(run *core.Run, course *core.Course) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *recordingBackend) EndRun() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
	return nil
}

func (b *recordingBackend) RecordFrame(f *core.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, *f)
	return nil
}

func (b *recordingBackend) RecordSolveReport(r *core.SolveReport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, *r)
	return nil
}

func (b *recordingBackend) RecordEvent(e *core.RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *e)
	return nil
}

func (b *recordingBackend) eventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.events))
	for i, e := range b.events {
		names[i] = e.Name
	}
	return names
}

type countingSink struct {
	mu      sync.Mutex
	frames  int
	reports int
}

func (s *countingSink) OnFrame(core.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
}

func (s *countingSink) OnSolveReport(core.SolveReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports++
}

// straightCourse is a short straight path the vehicle can follow from its
// initial pose without maneuvering.
func straightCourse() *core.Course {
	return &core.Course{
		Name:      "straight",
		Waypoints: core.Polyline{{X: 0, Y: 0}, {X: 40, Y: 0}},
	}
}

// testParams uses a zero control point offset so the goal check tracks the
// trailer axle directly.
func testParams() core.SimParams {
	p := core.DefaultParams()
	p.TrailerPoint = core.Position2D{}
	p.Horizon = 10
	p.MaxIter = 20
	return p
}

func TestRun_ReachesGoalOnStraightPath(t *testing.T) {
	backend := &recordingBackend{}
	sink := &countingSink{}

	r := NewRunner(config.SimConfig{GoalTolerance: 2.0, MaxDuration: time.Minute}, backend, nil)
	r.AddSink(sink)

	res, err := r.Run(context.Background(), &core.Run{Name: "straight run"}, straightCourse(), testParams())
	require.NoError(t, err)

	assert.Equal(t, ReasonGoalReached, res.Reason)
	assert.Greater(t, res.Frames, uint(0))
	assert.InDelta(t, float64(res.Frames)*0.1, res.SimTime, 1e-9)

	assert.True(t, backend.started)
	assert.True(t, backend.ended)
	assert.Len(t, backend.frames, int(res.Frames))
	assert.Len(t, backend.reports, int(res.Frames))

	names := backend.eventNames()
	assert.Equal(t, core.EventRunStarted, names[0])
	assert.Contains(t, names, core.EventGoalReached)
	assert.Equal(t, core.EventRunStopped, names[len(names)-1])

	// Every frame reaches registered sinks.
	assert.Equal(t, int(res.Frames), sink.frames)
	assert.Equal(t, int(res.Frames), sink.reports)
}

func TestRun_FrameNumbersAndTime(t *testing.T) {
	backend := &recordingBackend{}
	r := NewRunner(config.SimConfig{GoalTolerance: 2.0, MaxDuration: 500 * time.Millisecond}, backend, nil)

	p := testParams()
	course := &core.Course{
		Name:      "long",
		Waypoints: core.Polyline{{X: 0, Y: 0}, {X: 1000, Y: 0}},
	}
	res, err := r.Run(context.Background(), &core.Run{Name: "capped"}, course, p)
	require.NoError(t, err)

	// 0.5 s of sim time at dt=0.1 is 5 frames.
	assert.Equal(t, ReasonMaxDuration, res.Reason)
	assert.Equal(t, uint(5), res.Frames)

	require.Len(t, backend.frames, 5)
	for i, f := range backend.frames {
		assert.Equal(t, uint(i+1), f.CaptureFrame)
		assert.InDelta(t, float64(i+1)*p.Dt, f.SimTime, 1e-9)
	}
}

func TestRun_InvalidParams(t *testing.T) {
	backend := &recordingBackend{}
	r := NewRunner(config.SimConfig{GoalTolerance: 2.0}, backend, nil)

	p := testParams()
	p.Dt = 0
	_, err := r.Run(context.Background(), &core.Run{Name: "bad"}, straightCourse(), p)
	require.Error(t, err)
	assert.False(t, backend.started)
}

func TestRun_InvalidCourse(t *testing.T) {
	backend := &recordingBackend{}
	r := NewRunner(config.SimConfig{GoalTolerance: 2.0}, backend, nil)

	course := &core.Course{Name: "empty"}
	_, err := r.Run(context.Background(), &core.Run{Name: "bad"}, course, testParams())
	require.Error(t, err)
	assert.False(t, backend.started)
}

func TestRun_ContextCancel(t *testing.T) {
	backend := &recordingBackend{}
	r := NewRunner(config.SimConfig{GoalTolerance: 2.0, MaxDuration: time.Hour}, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	course := &core.Course{
		Name:      "long",
		Waypoints: core.Polyline{{X: 0, Y: 0}, {X: 1000, Y: 0}},
	}
	res, err := r.Run(ctx, &core.Run{Name: "cancelled"}, course, testParams())
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, res.Reason)
	assert.True(t, backend.ended)
}

func TestStartStop(t *testing.T) {
	backend := &recordingBackend{}
	// Realtime pacing keeps the run alive long enough to observe it.
	r := NewRunner(config.SimConfig{Realtime: true, GoalTolerance: 2.0, MaxDuration: time.Hour}, backend, nil)

	course := &core.Course{
		Name:      "long",
		Waypoints: core.Polyline{{X: 0, Y: 0}, {X: 10000, Y: 0}},
	}
	require.NoError(t, r.Start(&core.Run{Name: "bg"}, course, testParams()))
	assert.True(t, r.IsRunning())

	// A second start is rejected while the first is active.
	err := r.Start(&core.Run{Name: "second"}, course, testParams())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	r.Stop()
	assert.False(t, r.IsRunning())
	assert.True(t, backend.ended)
}

func TestRun_JackknifeAbortsRun(t *testing.T) {
	backend := &recordingBackend{}
	r := NewRunner(config.SimConfig{GoalTolerance: 2.0, MaxDuration: time.Minute}, backend, nil)

	// Reversing with the hitch already folded past the bound. The hitch
	// angle only grows from here, whatever the solver commands.
	p := testParams()
	p.Speed = -5
	p.TrailerAngle = 0.6

	res, err := r.Run(context.Background(), &core.Run{Name: "reverse"}, straightCourse(), p)
	require.NoError(t, err)

	assert.Equal(t, ReasonJackknife, res.Reason)
	assert.Equal(t, uint(1), res.Frames)
	assert.Contains(t, backend.eventNames(), core.EventJackknife)
	assert.True(t, backend.ended)
}

func TestRun_SolverStalledAbortsRun(t *testing.T) {
	backend := &recordingBackend{}
	r := NewRunner(config.SimConfig{GoalTolerance: 2.0, MaxDuration: time.Hour}, backend, nil)

	// Hard constraints with the vehicle starting deep inside an obstacle it
	// cannot leave within the horizon. Every solve is infeasible.
	course := &core.Course{
		Name:      "blocked",
		Waypoints: core.Polyline{{X: 0, Y: 0}, {X: 100, Y: 0}},
		Obstacles: []core.Circle{{Center: core.Position2D{X: 0, Y: 0}, Radius: 30}},
	}
	p := testParams()
	p.SoftConstraints = false

	res, err := r.Run(context.Background(), &core.Run{Name: "stalled"}, course, p)
	require.NoError(t, err)

	assert.Equal(t, ReasonSolverStalled, res.Reason)
	assert.Equal(t, uint(maxSolverFailures), res.Frames)

	// A failed solve holds the previous steering angle, zero throughout.
	// The aborting frame itself is not recorded.
	require.Len(t, backend.frames, maxSolverFailures-1)
	for _, f := range backend.frames {
		assert.Zero(t, f.Steering, "frame %d", f.CaptureFrame)
	}

	failed := 0
	for _, n := range backend.eventNames() {
		if n == core.EventSolverFailed {
			failed++
		}
	}
	assert.Equal(t, maxSolverFailures, failed)
	assert.True(t, backend.ended)
}

func TestRun_ObstacleContact(t *testing.T) {
	backend := &recordingBackend{}
	r := NewRunner(config.SimConfig{GoalTolerance: 2.0, MaxDuration: time.Minute}, backend, nil)

	course := straightCourse()
	// Obstacle sitting directly on the path.
	course.Obstacles = []core.Circle{{Center: core.Position2D{X: 15, Y: 0}, Radius: 1}}

	p := testParams()
	// Hard constraints off so the solver tolerates driving through it.
	p.SoftConstraints = true
	p.XTrackWeight = 1e6

	res, err := r.Run(context.Background(), &core.Run{Name: "contact"}, course, p)
	require.NoError(t, err)
	require.Greater(t, res.Frames, uint(0))

	names := backend.eventNames()
	count := 0
	for _, n := range names {
		if n == core.EventObstacleTouch {
			count++
		}
	}
	// Recorded once per obstacle, not per frame in contact.
	assert.Equal(t, 1, count)
}
