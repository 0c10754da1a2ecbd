package geo

import (
	"errors"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/trailerlab/trailerd/pkg/core"
)

// Courses are always handled in planar meters. GPS input (lon/lat, EPSG:4326)
// is projected to EPSG:3857 on ingest so the kinematics and solver never see
// spherical coordinates.

// ErrInvalidCoordinates is returned when coordinates cannot be parsed.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Position2DFromString parses an "x,y" string into a core.Position2D.
func Position2DFromString(coords string) (core.Position2D, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		return core.Position2D{}, ErrInvalidCoordinates
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Position2D{}, ErrInvalidCoordinates
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Position2D{}, ErrInvalidCoordinates
	}
	return core.Position2D{X: x, Y: y}, nil
}

// CircleFromString parses an "x,y,radius" string into a core.Circle.
func CircleFromString(coords string) (core.Circle, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 3 {
		return core.Circle{}, ErrInvalidCoordinates
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Circle{}, ErrInvalidCoordinates
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Circle{}, ErrInvalidCoordinates
	}
	r, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil || r < 0 {
		return core.Circle{}, ErrInvalidCoordinates
	}
	return core.Circle{Center: core.Position2D{X: x, Y: y}, Radius: r}, nil
}

// Coords3857From4326 projects a lon/lat pair to EPSG:3857 meters.
func Coords3857From4326(longitude, latitude float64) core.Position2D {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	return core.Position2D{X: x, Y: y}
}

// ProjectPolyline converts a polyline of lon/lat waypoints to EPSG:3857
// meters, translated so the first waypoint sits at the origin.
func ProjectPolyline(waypoints core.Polyline) core.Polyline {
	if len(waypoints) == 0 {
		return nil
	}
	out := make(core.Polyline, len(waypoints))
	origin := Coords3857From4326(waypoints[0].X, waypoints[0].Y)
	for i, wp := range waypoints {
		p := Coords3857From4326(wp.X, wp.Y)
		out[i] = core.Position2D{X: p.X - origin.X, Y: p.Y - origin.Y}
	}
	return out
}

// LineStringFromPolyline builds a simplefeatures LineString from waypoints.
func LineStringFromPolyline(pl core.Polyline) (geom.LineString, error) {
	if len(pl) < 2 {
		return geom.LineString{}, errors.New("polyline must have at least 2 points")
	}
	flat := make([]float64, 0, len(pl)*2)
	for _, p := range pl {
		flat = append(flat, p.X, p.Y)
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	return geom.NewLineString(seq), nil
}
