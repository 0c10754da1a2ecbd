// Package mpc implements the receding-horizon steering optimizer. Each step
// it minimizes a cross-track plus heading-error cost over a fixed horizon of
// steering commands, subject to steering angle, steering rate, hitch angle
// and obstacle clearance constraints.
package mpc

import (
	"errors"
	"math"
	"time"

	"github.com/trailerlab/trailerd/internal/geo"
	"github.com/trailerlab/trailerd/internal/vehicle"
	"github.com/trailerlab/trailerd/pkg/core"
)

// ErrNoSolution is returned when the optimizer cannot find a feasible
// steering sequence from the current state.
var ErrNoSolution = errors.New("mpc: no feasible steering sequence")

// Penalty weights for soft constraint mode. Chosen large relative to the
// tracking weights so violations dominate the cost.
const (
	trailerPenalty  = 1e6
	obstaclePenalty = 1e6
)

const (
	gradEps       = 1e-4 // central difference step, rad
	convergeDelta = 1e-9 // relative cost improvement cutoff
	initialAlpha  = 0.5
	minAlpha      = 1e-8
)

// Solution is the result of one solve.
type Solution struct {
	Steering   float64      // first command of the optimized sequence, rad
	Predicted  []core.State // horizon trajectory under the optimized sequence
	Cost       float64
	Iterations int
	Duration   time.Duration
	Converged  bool
}

// Solver optimizes steering over a fixed horizon. It is not safe for
// concurrent use; the runner owns one per run.
type Solver struct {
	params    core.SimParams
	model     vehicle.Model
	path      *geo.Path
	obstacles []core.Circle

	seq  []float64 // warm-started steering sequence
	grad []float64
	cand []float64
	pred []core.State
}

// NewSolver builds a solver for one run. The path and obstacles are fixed for
// the lifetime of the run.
func NewSolver(p core.SimParams, path *geo.Path, obstacles []core.Circle) *Solver {
	return &Solver{
		params:    p,
		model:     vehicle.New(p),
		path:      path,
		obstacles: obstacles,
		seq:       make([]float64, p.Horizon),
		grad:      make([]float64, p.Horizon),
		cand:      make([]float64, p.Horizon),
		pred:      make([]core.State, p.Horizon),
	}
}

// Reset clears the warm start, typically between runs.
func (s *Solver) Reset() {
	for i := range s.seq {
		s.seq[i] = 0
	}
}

// Solve optimizes the steering sequence from the given state and applied
// steering angle. On success the warm start is advanced for the next call.
func (s *Solver) Solve(state core.State, steering float64) (Solution, error) {
	start := time.Now()

	s.project(s.seq, steering)
	cost := s.cost(state, s.seq)
	if math.IsInf(cost, 1) {
		// Warm start infeasible, retry from a zero sequence.
		for i := range s.seq {
			s.seq[i] = 0
		}
		s.project(s.seq, steering)
		cost = s.cost(state, s.seq)
	}

	sol := Solution{Cost: cost}
	if math.IsInf(cost, 1) {
		sol.Duration = time.Since(start)
		return sol, ErrNoSolution
	}

	for iter := 0; iter < s.params.MaxIter; iter++ {
		sol.Iterations = iter + 1

		norm := s.gradient(state, steering, cost)
		if norm == 0 {
			sol.Converged = true
			break
		}

		next, ok := s.lineSearch(state, steering, cost, norm)
		if !ok {
			sol.Converged = true
			break
		}
		if cost-next < convergeDelta*(1+math.Abs(cost)) {
			cost = next
			sol.Converged = true
			break
		}
		cost = next
	}
	sol.Cost = cost

	// Rebuild the trajectory for the final sequence.
	s.rollout(state, s.seq, s.pred)
	sol.Steering = s.seq[0]
	sol.Predicted = append([]core.State(nil), s.pred...)
	sol.Duration = time.Since(start)

	s.advance()
	return sol, nil
}

// gradient fills s.grad with central difference estimates and returns its
// Euclidean norm. Entries whose perturbed cost is infeasible fall back to a
// one-sided difference.
func (s *Solver) gradient(state core.State, steering, base float64) float64 {
	var norm float64
	for i := range s.seq {
		copy(s.cand, s.seq)

		s.cand[i] = s.seq[i] + gradEps
		up := s.cost(state, s.cand)
		s.cand[i] = s.seq[i] - gradEps
		down := s.cost(state, s.cand)

		var g float64
		switch {
		case !math.IsInf(up, 1) && !math.IsInf(down, 1):
			g = (up - down) / (2 * gradEps)
		case !math.IsInf(up, 1):
			g = (up - base) / gradEps
		case !math.IsInf(down, 1):
			g = (base - down) / gradEps
		default:
			g = 0
		}
		s.grad[i] = g
		norm += g * g
	}
	return math.Sqrt(norm)
}

// lineSearch takes a backtracking step along the negative gradient, projects
// the candidate onto the steering constraints, and accepts the first cost
// improvement. Returns false when no step length improves the cost.
func (s *Solver) lineSearch(state core.State, steering, base, norm float64) (float64, bool) {
	for alpha := initialAlpha; alpha >= minAlpha; alpha /= 2 {
		for i := range s.seq {
			s.cand[i] = s.seq[i] - alpha*s.grad[i]/norm
		}
		s.project(s.cand, steering)
		c := s.cost(state, s.cand)
		if c < base {
			copy(s.seq, s.cand)
			return c, true
		}
	}
	return base, false
}

// project clamps a steering sequence to the angle bound and the per-step rate
// bound relative to the previously applied command.
func (s *Solver) project(seq []float64, applied float64) {
	maxDelta := s.params.MaxSteerRate * s.params.Dt
	prev := applied
	for i := range seq {
		v := core.Clamp(seq[i], -s.params.MaxSteer, s.params.MaxSteer)
		seq[i] = core.Clamp(v, prev-maxDelta, prev+maxDelta)
		prev = seq[i]
	}
}

// rollout simulates the horizon under seq, writing states into out.
func (s *Solver) rollout(state core.State, seq []float64, out []core.State) {
	cur := state
	for i, cmd := range seq {
		cur = s.model.Step(cur, s.params.Speed, cmd, s.params.Dt)
		out[i] = cur
	}
}

// cost evaluates the objective for a steering sequence. In hard constraint
// mode any hitch angle or obstacle violation yields +Inf; in soft mode the
// violation is squared and heavily penalized.
func (s *Solver) cost(state core.State, seq []float64) float64 {
	cur := state
	var total float64
	for _, cmd := range seq {
		cur = s.model.Step(cur, s.params.Speed, cmd, s.params.Dt)

		cp := s.model.ControlPoint(cur, s.params.TrailerPoint)
		q := s.path.Nearest(cp)
		headingErr := core.WrapAngle(cur.TrailerHeading - q.Heading)
		total += s.params.XTrackWeight*q.CrossTrack*q.CrossTrack +
			s.params.HeadingWeight*headingErr*headingErr

		if excess := math.Abs(cur.HitchAngle()) - s.params.MaxTrailerAngle; excess > 0 {
			if !s.params.SoftConstraints {
				return math.Inf(1)
			}
			total += trailerPenalty * excess * excess
		}

		for _, ob := range s.obstacles {
			clear := math.Hypot(cur.X-ob.Center.X, cur.Y-ob.Center.Y) -
				ob.Radius - s.params.CircleRadius
			if clear < 0 {
				if !s.params.SoftConstraints {
					return math.Inf(1)
				}
				total += obstaclePenalty * clear * clear
			}
		}
	}
	return total
}

// advance shifts the optimized sequence one step for the next warm start,
// repeating the final command.
func (s *Solver) advance() {
	copy(s.seq, s.seq[1:])
	s.seq[len(s.seq)-1] = s.seq[len(s.seq)-2]
}
