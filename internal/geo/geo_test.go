package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailerlab/trailerd/pkg/core"
)

func TestPosition2DFromString(t *testing.T) {
	p, err := Position2DFromString("3.5, -2")
	require.NoError(t, err)
	assert.Equal(t, core.Position2D{X: 3.5, Y: -2}, p)
}

func TestPosition2DFromString_Invalid(t *testing.T) {
	for _, input := range []string{"", "5", "a,b", "1;2"} {
		_, err := Position2DFromString(input)
		assert.ErrorIs(t, err, ErrInvalidCoordinates, "input %q", input)
	}
}

func TestCircleFromString(t *testing.T) {
	c, err := CircleFromString("10,20,5")
	require.NoError(t, err)
	assert.Equal(t, core.Circle{Center: core.Position2D{X: 10, Y: 20}, Radius: 5}, c)
}

func TestCircleFromString_Invalid(t *testing.T) {
	for _, input := range []string{"10,20", "10,20,-1", "x,y,r"} {
		_, err := CircleFromString(input)
		assert.ErrorIs(t, err, ErrInvalidCoordinates, "input %q", input)
	}
}

func TestProjectPolyline_OriginAtFirstWaypoint(t *testing.T) {
	// Two points about 111m apart in longitude at the equator.
	pl := core.Polyline{
		{X: 13.0, Y: 0.0},
		{X: 13.001, Y: 0.0},
	}
	out := ProjectPolyline(pl)
	require.Len(t, out, 2)
	assert.InDelta(t, 0, out[0].X, 1e-9)
	assert.InDelta(t, 0, out[0].Y, 1e-9)
	// ~111m per 0.001 degree of longitude in EPSG:3857 at the equator.
	assert.InDelta(t, 111.3, out[1].X, 1.0)
}

func TestLineStringFromPolyline_TooShort(t *testing.T) {
	_, err := LineStringFromPolyline(core.Polyline{{X: 1, Y: 1}})
	require.Error(t, err)
}
