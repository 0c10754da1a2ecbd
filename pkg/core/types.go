// pkg/core/types.go
package core

import "math"

// Position2D represents a planar coordinate in meters.
type Position2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polyline is an ordered list of path waypoints.
type Polyline []Position2D

// Circle is a circular obstacle in the world frame.
type Circle struct {
	Center Position2D `json:"center"`
	Radius float64    `json:"radius"`
}

// State is the car+trailer configuration: tractor rear-axle position,
// tractor heading and trailer heading, all in world frame.
type State struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Heading        float64 `json:"heading"`        // rad
	TrailerHeading float64 `json:"trailerHeading"` // rad
}

// HitchAngle returns the angle between tractor and trailer headings,
// normalized to (-pi, pi].
func (s State) HitchAngle() float64 {
	return WrapAngle(s.Heading - s.TrailerHeading)
}

// WrapAngle normalizes an angle to (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Clamp limits v to the range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
