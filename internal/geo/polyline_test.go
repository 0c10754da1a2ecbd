package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailerlab/trailerd/pkg/core"
)

func TestParsePolylineToCore(t *testing.T) {
	pl, err := ParsePolylineToCore("[[0,0],[10,0],[10,10]]")
	require.NoError(t, err)
	assert.Equal(t, core.Polyline{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}, pl)
}

func TestParsePolylineToCore_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid JSON", "[[0,0],"},
		{"single point", "[[0,0]]"},
		{"short coordinate", "[[0,0],[5]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolylineToCore(tt.input)
			require.Error(t, err)
		})
	}
}
