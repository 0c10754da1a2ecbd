package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/trailerlab/trailerd/pkg/core"
)

// Path is a reference polyline with precomputed segment geometry. The solver
// queries it once per horizon step per iteration, so nearest-segment lookups
// avoid any allocation.
type Path struct {
	line       geom.LineString
	pts        core.Polyline
	segHeading []float64 // heading of segment i, rad
	segLen     []float64 // length of segment i, m
	cumLen     []float64 // arc length at the start of segment i, m
	total      float64
}

// PathQuery is the result of projecting a point onto the path.
type PathQuery struct {
	CrossTrack float64 // signed lateral offset, positive left of travel, m
	Heading    float64 // heading of the nearest segment, rad
	Progress   float64 // arc length along the path of the projection, m
}

// NewPath builds a Path from waypoints. Zero-length segments are rejected.
func NewPath(pl core.Polyline) (*Path, error) {
	line, err := LineStringFromPolyline(pl)
	if err != nil {
		return nil, err
	}

	n := len(pl) - 1
	p := &Path{
		line:       line,
		pts:        pl,
		segHeading: make([]float64, n),
		segLen:     make([]float64, n),
		cumLen:     make([]float64, n),
	}
	for i := 0; i < n; i++ {
		dx := pl[i+1].X - pl[i].X
		dy := pl[i+1].Y - pl[i].Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			return nil, errors.New("path contains a zero-length segment")
		}
		p.segHeading[i] = math.Atan2(dy, dx)
		p.segLen[i] = length
		p.cumLen[i] = p.total
		p.total += length
	}
	return p, nil
}

// Length returns the total arc length of the path in meters.
func (p *Path) Length() float64 { return p.total }

// End returns the final waypoint.
func (p *Path) End() core.Position2D { return p.pts[len(p.pts)-1] }

// Waypoints returns the underlying polyline.
func (p *Path) Waypoints() core.Polyline { return p.pts }

// LineString returns the path as a simplefeatures LineString.
func (p *Path) LineString() geom.LineString { return p.line }

// Nearest projects pt onto the path and returns the signed cross-track
// distance, segment heading and arc-length progress of the projection.
func (p *Path) Nearest(pt core.Position2D) PathQuery {
	best := PathQuery{CrossTrack: math.Inf(1)}
	bestAbs := math.Inf(1)

	for i := range p.segLen {
		a := p.pts[i]
		b := p.pts[i+1]
		abx := b.X - a.X
		aby := b.Y - a.Y
		apx := pt.X - a.X
		apy := pt.Y - a.Y

		t := (apx*abx + apy*aby) / (p.segLen[i] * p.segLen[i])
		t = core.Clamp(t, 0, 1)

		cx := a.X + t*abx
		cy := a.Y + t*aby
		dist := math.Hypot(pt.X-cx, pt.Y-cy)
		if dist < bestAbs {
			bestAbs = dist
			// Positive cross-track when the point lies left of travel.
			sign := 1.0
			if abx*apy-aby*apx < 0 {
				sign = -1.0
			}
			best = PathQuery{
				CrossTrack: sign * dist,
				Heading:    p.segHeading[i],
				Progress:   p.cumLen[i] + t*p.segLen[i],
			}
		}
	}
	return best
}

// GoalReached reports whether pt is within tol meters of the path end and the
// projection has consumed the full arc length. The progress condition keeps a
// pose that merely passes near the endpoint of a self-approaching course from
// counting as goal.
func (p *Path) GoalReached(pt core.Position2D, tol float64) bool {
	end := p.End()
	if math.Hypot(pt.X-end.X, pt.Y-end.Y) > tol {
		return false
	}
	return p.total-p.Nearest(pt).Progress <= tol
}
