// pkg/core/params.go
package core

import (
	"fmt"
	"math"
	"strconv"
)

// Default parameter values, matching the reference vehicle.
const (
	DefaultHorizon         = 20
	DefaultDt              = 0.1
	DefaultSpeed           = 5.0
	DefaultWheelBase       = 5.0
	DefaultMaxSteerDeg     = 25.0
	DefaultMaxSteerRateDeg = 30.0
	DefaultMaxTrailerDeg   = 30.0
	DefaultTrailerLen      = 5.0
	DefaultTrailerOffset   = 0.0
	DefaultXTrackWeight    = 1.0
	DefaultHeadingWeight   = 30.0
	DefaultCircleRadius    = 5.0
	DefaultMaxIter         = 50
)

// RangeError is returned when a parameter value falls outside its
// documented bounds.
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("parameter %q = %g out of range [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

// ErrUnknownParam is returned by SimParams.Set for unrecognized field names.
type ErrUnknownParam struct {
	Field string
}

func (e *ErrUnknownParam) Error() string {
	return fmt.Sprintf("unknown parameter %q", e.Field)
}

// SimParams is the full simulation parameter set. Angles are stored in
// radians; the external parameter surface (Set, config) uses degrees.
type SimParams struct {
	Horizon         int     `json:"horizon" mapstructure:"horizon"`                 // prediction steps
	Dt              float64 `json:"dt" mapstructure:"dt"`                           // s
	Speed           float64 `json:"speed" mapstructure:"speed"`                     // m/s, fixed during a run
	WheelBase       float64 `json:"wheelBase" mapstructure:"wheelBase"`             // m
	MaxSteer        float64 `json:"maxSteer"`                                       // rad
	MaxSteerRate    float64 `json:"maxSteerRate"`                                   // rad/s
	MaxTrailerAngle float64 `json:"maxTrailerAngle"`                                // rad
	TrailerLen      float64 `json:"trailerLen" mapstructure:"trailerLen"`           // m
	TrailerOffset   float64 `json:"trailerOffset" mapstructure:"trailerOffset"`     // m, hitch offset behind rear axle
	TrailerPoint    Position2D `json:"trailerPoint"`                                // control point in trailer frame
	XTrackWeight    float64 `json:"xtrackWeight" mapstructure:"xtrackWeight"`       // cross-track cost weight
	HeadingWeight   float64 `json:"headingWeight" mapstructure:"headingWeight"`     // heading cost weight
	Heading         float64 `json:"heading"`                                        // rad, initial tractor heading
	TrailerAngle    float64 `json:"trailerAngle"`                                   // rad, initial hitch angle
	CircleRadius    float64 `json:"circleRadius" mapstructure:"circleRadius"`       // m, vehicle bounding circle
	MaxIter         int     `json:"maxIter" mapstructure:"maxIter"`                 // solver iteration cap
	SoftConstraints bool    `json:"softConstraints" mapstructure:"softConstraints"` // penalty vs hard constraint mode
}

// DefaultParams returns a SimParams populated with the reference defaults.
func DefaultParams() SimParams {
	return SimParams{
		Horizon:         DefaultHorizon,
		Dt:              DefaultDt,
		Speed:           DefaultSpeed,
		WheelBase:       DefaultWheelBase,
		MaxSteer:        DefaultMaxSteerDeg * math.Pi / 180,
		MaxSteerRate:    DefaultMaxSteerRateDeg * math.Pi / 180,
		MaxTrailerAngle: DefaultMaxTrailerDeg * math.Pi / 180,
		TrailerLen:      DefaultTrailerLen,
		TrailerOffset:   DefaultTrailerOffset,
		TrailerPoint:    Position2D{X: 0, Y: 3},
		XTrackWeight:    DefaultXTrackWeight,
		HeadingWeight:   DefaultHeadingWeight,
		CircleRadius:    DefaultCircleRadius,
		MaxIter:         DefaultMaxIter,
		SoftConstraints: true,
	}
}

// paramRange describes the accepted bounds of one externally settable field,
// in external units (degrees for angles).
type paramRange struct {
	min, max float64
}

// Bounds for the external parameter surface. Initial-state fields (heading,
// trailer_angle) are intentionally unbounded: they are normalized, not
// constrained.
var paramRanges = map[string]paramRange{
	"horizon":           {5, 100},
	"dt":                {0, 2}, // exclusive lower bound, checked separately
	"speed":             {-30, 30},
	"wheel_base":        {1, 30},
	"max_angle":         {5, 90},
	"max_rate":          {10, 180},
	"max_trailer_angle": {10, 90},
	"trailer_len":       {1, 30},
	"trailer_offset":    {-10, 10},
	"xtrack_weight":     {0, 1e23},
	"heading_weight":    {0, 1e15},
	"circle_radius":     {0, 1e15},
	"max_iter":          {1, 1000},
}

func checkRange(field string, v float64) error {
	r, ok := paramRanges[field]
	if !ok {
		return nil
	}
	if v < r.min || v > r.max {
		return &RangeError{Field: field, Value: v, Min: r.min, Max: r.max}
	}
	if field == "dt" && v == 0 {
		return &RangeError{Field: field, Value: v, Min: r.min, Max: r.max}
	}
	return nil
}

// Set applies a named parameter from its external string representation.
// Angle fields are given in degrees.
func (p *SimParams) Set(field, value string) error {
	switch field {
	case "soft_constraints":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", field, err)
		}
		p.SoftConstraints = b
		return nil
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", field, err)
	}
	if err := checkRange(field, v); err != nil {
		return err
	}

	switch field {
	case "horizon":
		p.Horizon = int(v)
	case "dt":
		p.Dt = v
	case "speed":
		p.Speed = v
	case "wheel_base":
		p.WheelBase = v
	case "max_angle":
		p.MaxSteer = v * math.Pi / 180
	case "max_rate":
		p.MaxSteerRate = v * math.Pi / 180
	case "max_trailer_angle":
		p.MaxTrailerAngle = v * math.Pi / 180
	case "trailer_len":
		p.TrailerLen = v
	case "trailer_offset":
		p.TrailerOffset = v
	case "xtrack_weight":
		p.XTrackWeight = v
	case "heading_weight":
		p.HeadingWeight = v
	case "heading":
		p.Heading = WrapAngle(v * math.Pi / 180)
	case "trailer_angle":
		p.TrailerAngle = WrapAngle(v * math.Pi / 180)
	case "circle_radius":
		p.CircleRadius = v
	case "max_iter":
		p.MaxIter = int(v)
	default:
		return &ErrUnknownParam{Field: field}
	}
	return nil
}

// Validate checks every bounded field against its documented range.
func (p *SimParams) Validate() error {
	deg := 180 / math.Pi
	checks := []struct {
		field string
		value float64
	}{
		{"horizon", float64(p.Horizon)},
		{"dt", p.Dt},
		{"speed", p.Speed},
		{"wheel_base", p.WheelBase},
		{"max_angle", p.MaxSteer * deg},
		{"max_rate", p.MaxSteerRate * deg},
		{"max_trailer_angle", p.MaxTrailerAngle * deg},
		{"trailer_len", p.TrailerLen},
		{"trailer_offset", p.TrailerOffset},
		{"xtrack_weight", p.XTrackWeight},
		{"heading_weight", p.HeadingWeight},
		{"circle_radius", p.CircleRadius},
		{"max_iter", float64(p.MaxIter)},
	}
	for _, c := range checks {
		if err := checkRange(c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

// InitialState builds the run starting state from the initial-condition
// fields. The car starts at the origin; the trailer heading is derived from
// the hitch angle.
func (p *SimParams) InitialState() State {
	return State{
		X:              0,
		Y:              0,
		Heading:        p.Heading,
		TrailerHeading: WrapAngle(p.Heading - p.TrailerAngle),
	}
}
