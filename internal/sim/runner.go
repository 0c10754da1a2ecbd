// Package sim drives the closed loop simulation: solve, apply the first
// control, integrate the vehicle, record the frame.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/geo"
	"github.com/trailerlab/trailerd/internal/mpc"
	"github.com/trailerlab/trailerd/internal/storage"
	"github.com/trailerlab/trailerd/internal/vehicle"
	"github.com/trailerlab/trailerd/pkg/core"
)

// maxSolverFailures is the number of consecutive solver failures tolerated
// before the run is aborted. A failed solve holds the previous steering
// angle for that step.
const maxSolverFailures = 25

// Stop reasons recorded with the run_stopped event.
const (
	ReasonGoalReached   = "goal_reached"
	ReasonJackknife     = "jackknife"
	ReasonSolverStalled = "solver_stalled"
	ReasonMaxDuration   = "max_duration"
	ReasonStopped       = "stopped"
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// FrameSink receives every recorded frame, in capture order, synchronously
// from the simulation loop. Implementations must not block; a camera view
// that cannot keep up should drop frames on its own side.
type FrameSink interface {
	OnFrame(f core.Frame)
}

// SolveSink optionally receives solver statistics. Sinks registered with
// AddSink that also implement SolveSink get a report per solved frame.
type SolveSink interface {
	OnSolveReport(r core.SolveReport)
}

// Result summarizes a finished run.
type Result struct {
	Frames  uint
	SimTime float64
	Reason  string
}

// Runner executes simulation runs against a storage backend. A Runner is
// reusable; at most one run is active at a time.
type Runner struct {
	cfg     config.SimConfig
	backend storage.Backend
	log     *slog.Logger

	mu      sync.Mutex
	sinks   []FrameSink
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner creates a Runner recording to the given backend.
func NewRunner(cfg config.SimConfig, backend storage.Backend, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, backend: backend, log: logger}
}

// AddSink registers a frame sink. Sinks must be registered before Start.
func (r *Runner) AddSink(s FrameSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// IsRunning reports whether a run is currently active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches a run in the background. It returns ErrAlreadyRunning if a
// run is active.
func (r *Runner) Start(run *core.Run, course *core.Course, params core.SimParams) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		res, err := r.run(ctx, run, course, params)
		if err != nil {
			r.log.Error("run failed", "run", run.Name, "error", err)
		} else {
			r.log.Info("run finished",
				"run", run.Name, "frames", res.Frames,
				"simTime", res.SimTime, "reason", res.Reason)
		}
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
	}()
	return nil
}

// Stop cancels the active run, if any, and waits for it to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run executes a run synchronously and returns its result. It is used by the
// one-shot CLI path; the control surface uses Start/Stop.
func (r *Runner) Run(ctx context.Context, run *core.Run, course *core.Course, params core.SimParams) (Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	res, err := r.run(ctx, run, course, params)

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return res, err
}

func (r *Runner) run(ctx context.Context, run *core.Run, course *core.Course, params core.SimParams) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	path, err := geo.NewPath(course.Waypoints)
	if err != nil {
		return Result{}, fmt.Errorf("invalid course: %w", err)
	}

	model := vehicle.New(params)
	solver := mpc.NewSolver(params, path, course.Obstacles)

	if err := r.backend.StartRun(run, course); err != nil {
		return Result{}, fmt.Errorf("failed to start run: %w", err)
	}

	r.log.Info("run started",
		"run", run.Name, "course", course.Name,
		"dt", params.Dt, "speed", params.Speed, "realtime", r.cfg.Realtime)

	r.recordEvent(run.ID, 0, core.EventRunStarted, course.Name, 0)

	maxFrames := uint(0)
	if r.cfg.MaxDuration > 0 {
		maxFrames = uint(math.Round(r.cfg.MaxDuration.Seconds() / params.Dt))
	}

	var ticker *time.Ticker
	if r.cfg.Realtime {
		ticker = time.NewTicker(time.Duration(params.Dt * float64(time.Second)))
		defer ticker.Stop()
	}

	state := params.InitialState()
	steering := 0.0
	failures := 0
	touched := make(map[int]bool)
	reason := ReasonStopped

	var frame uint
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
			}
		}

		frame++
		simTime := float64(frame) * params.Dt

		sol, solveErr := solver.Solve(state, steering)
		command := steering
		if solveErr != nil {
			failures++
			r.recordEvent(run.ID, frame, core.EventSolverFailed, solveErr.Error(), simTime)
			if failures >= maxSolverFailures {
				reason = ReasonSolverStalled
				r.log.Warn("solver stalled, aborting run", "frame", frame, "failures", failures)
				break loop
			}
		} else {
			failures = 0
			command = sol.Steering
		}

		steering = vehicle.LimitSteering(steering, command, params.MaxSteerRate, params.MaxSteer, params.Dt)
		state = model.Step(state, params.Speed, steering, params.Dt)
		cp := model.ControlPoint(state, params.TrailerPoint)

		f := core.Frame{
			RunID:        run.ID,
			CaptureFrame: frame,
			SimTime:      simTime,
			State:        state,
			Steering:     steering,
			ControlPoint: cp,
			Predicted:    sol.Predicted,
		}
		if err := r.backend.RecordFrame(&f); err != nil {
			r.log.Error("failed to record frame", "frame", frame, "error", err)
		}
		r.emitFrame(f)

		if solveErr == nil {
			rep := core.SolveReport{
				RunID:        run.ID,
				CaptureFrame: frame,
				Cost:         sol.Cost,
				Iterations:   sol.Iterations,
				Duration:     sol.Duration,
				Converged:    sol.Converged,
			}
			if err := r.backend.RecordSolveReport(&rep); err != nil {
				r.log.Error("failed to record solve report", "frame", frame, "error", err)
			}
			r.emitSolveReport(rep)
		}

		r.checkObstacles(run.ID, frame, simTime, state, model, course.Obstacles, params.CircleRadius, touched)

		if vehicle.Jackknifed(state, params.MaxTrailerAngle) {
			reason = ReasonJackknife
			r.recordEvent(run.ID, frame, core.EventJackknife, "", simTime)
			break loop
		}
		if path.GoalReached(cp, r.cfg.GoalTolerance) {
			reason = ReasonGoalReached
			r.recordEvent(run.ID, frame, core.EventGoalReached, "", simTime)
			break loop
		}
		if maxFrames > 0 && frame >= maxFrames {
			reason = ReasonMaxDuration
			break loop
		}
	}

	simTime := float64(frame) * params.Dt
	r.recordEvent(run.ID, frame, core.EventRunStopped, reason, simTime)
	if err := r.backend.EndRun(); err != nil {
		return Result{}, fmt.Errorf("failed to end run: %w", err)
	}
	return Result{Frames: frame, SimTime: simTime, Reason: reason}, nil
}

// checkObstacles records an obstacle_contact event the first time the tractor
// or trailer bounding circle intersects each obstacle.
func (r *Runner) checkObstacles(runID, frame uint, simTime float64, state core.State, model vehicle.Model, obstacles []core.Circle, radius float64, touched map[int]bool) {
	tractor := core.Position2D{X: state.X, Y: state.Y}
	trailer := model.AxlePosition(state)
	for i, obs := range obstacles {
		if touched[i] {
			continue
		}
		limit := obs.Radius + radius
		if dist(tractor, obs.Center) <= limit || dist(trailer, obs.Center) <= limit {
			touched[i] = true
			msg := fmt.Sprintf("obstacle %d at (%.1f, %.1f)", i, obs.Center.X, obs.Center.Y)
			r.recordEvent(runID, frame, core.EventObstacleTouch, msg, simTime)
		}
	}
}

func (r *Runner) recordEvent(runID, frame uint, name, message string, simTime float64) {
	e := core.RunEvent{
		RunID:        runID,
		CaptureFrame: frame,
		Name:         name,
		Message:      message,
		SimTime:      simTime,
	}
	if err := r.backend.RecordEvent(&e); err != nil {
		r.log.Error("failed to record event", "event", name, "error", err)
	}
}

func (r *Runner) emitFrame(f core.Frame) {
	r.mu.Lock()
	sinks := r.sinks
	r.mu.Unlock()
	for _, s := range sinks {
		s.OnFrame(f)
	}
}

func (r *Runner) emitSolveReport(rep core.SolveReport) {
	r.mu.Lock()
	sinks := r.sinks
	r.mu.Unlock()
	for _, s := range sinks {
		if ss, ok := s.(SolveSink); ok {
			ss.OnSolveReport(rep)
		}
	}
}

func dist(a, b core.Position2D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
