// Package vehicle implements the kinematic car+trailer model. The tractor is
// a rear-axle bicycle model; the trailer is hitched at an optional offset
// behind the rear axle and tows from there.
package vehicle

import (
	"math"

	"github.com/trailerlab/trailerd/pkg/core"
)

// Model holds the geometry of the tractor and trailer.
type Model struct {
	WheelBase     float64 // m
	TrailerLen    float64 // m, hitch to trailer axle
	TrailerOffset float64 // m, rear axle to hitch
}

// New creates a Model from simulation parameters.
func New(p core.SimParams) Model {
	return Model{
		WheelBase:     p.WheelBase,
		TrailerLen:    p.TrailerLen,
		TrailerOffset: p.TrailerOffset,
	}
}

// Derivative returns the state rates for the given speed and steering angle.
//
//	x' = v cos θ
//	y' = v sin θ
//	θ' = v tan δ / L
//	ψ' = v sin(θ−ψ)/Lt − a θ' cos(θ−ψ)/Lt
func (m Model) Derivative(s core.State, speed, steering float64) core.State {
	headingRate := speed * math.Tan(steering) / m.WheelBase
	hitch := s.Heading - s.TrailerHeading
	trailerRate := speed*math.Sin(hitch)/m.TrailerLen -
		m.TrailerOffset*headingRate*math.Cos(hitch)/m.TrailerLen

	return core.State{
		X:              speed * math.Cos(s.Heading),
		Y:              speed * math.Sin(s.Heading),
		Heading:        headingRate,
		TrailerHeading: trailerRate,
	}
}

// Step advances the state by dt using forward Euler integration.
func (m Model) Step(s core.State, speed, steering, dt float64) core.State {
	d := m.Derivative(s, speed, steering)
	return core.State{
		X:              s.X + d.X*dt,
		Y:              s.Y + d.Y*dt,
		Heading:        core.WrapAngle(s.Heading + d.Heading*dt),
		TrailerHeading: core.WrapAngle(s.TrailerHeading + d.TrailerHeading*dt),
	}
}

// LimitSteering moves the current steering angle toward command, bounded by
// the rate limit over dt and the absolute angle limit.
func LimitSteering(current, command, maxRate, maxAngle, dt float64) float64 {
	command = core.Clamp(command, -maxAngle, maxAngle)
	maxDelta := maxRate * dt
	return core.Clamp(command, current-maxDelta, current+maxDelta)
}

// Jackknifed reports whether the hitch angle exceeds the allowed bound.
func Jackknifed(s core.State, maxTrailerAngle float64) bool {
	return math.Abs(s.HitchAngle()) > maxTrailerAngle
}

// HitchPosition returns the world position of the hitch point.
func (m Model) HitchPosition(s core.State) core.Position2D {
	return core.Position2D{
		X: s.X - m.TrailerOffset*math.Cos(s.Heading),
		Y: s.Y - m.TrailerOffset*math.Sin(s.Heading),
	}
}

// ControlPoint maps a point given in the trailer frame (origin at the hitch,
// x toward the tractor) to the world frame. The steering point the cost
// function tracks rides trailerLen behind the hitch plus the configured
// lateral offset.
func (m Model) ControlPoint(s core.State, point core.Position2D) core.Position2D {
	hitch := m.HitchPosition(s)
	// Local coordinates of the point relative to the hitch.
	lx := point.X - m.TrailerLen
	ly := point.Y

	sin, cos := math.Sincos(s.TrailerHeading)
	return core.Position2D{
		X: hitch.X + lx*cos - ly*sin,
		Y: hitch.Y + lx*sin + ly*cos,
	}
}

// AxlePosition returns the world position of the trailer axle.
func (m Model) AxlePosition(s core.State) core.Position2D {
	return m.ControlPoint(s, core.Position2D{})
}
