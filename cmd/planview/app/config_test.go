package app

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/positions"
	"github.com/roman-kulish/emscan/internal/scan"
)

func parse(args ...string) (*Config, error) {
	fs := flag.NewFlagSet("planview", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return ParseConfig(fs, args)
}

func TestParseConfig(t *testing.T) {
	c, err := parse("-radius", "120", "-padding", "15", "-target-radius", "30",
		"-n", "12", "-seed", "9", "-order", "nearest_neighbour", "-o", "plan", "-f", "JPEG", "-theme", "marine")
	require.NoError(t, err)

	assert.Equal(t, 120.0, c.Radius)
	assert.Equal(t, geometry.Target{Shape: geometry.ShapeCircular, Radius: 30}, c.Target)
	assert.Equal(t, ImageJPEG, c.Format)
	assert.Equal(t, "plan.jpeg", c.OutputFile)
	assert.Equal(t, MarineTheme, c.Theme)

	m := c.MotionPlan()
	assert.Equal(t, scan.SourceUniform, m.Source)
	assert.Equal(t, 12, m.Count)
	assert.Equal(t, uint64(9), m.Seed)
	assert.Equal(t, positions.OrderNearestNeighbor, m.Order)
	assert.Equal(t, 75.0, m.Envelope().SafeRadius())
}

func TestParseConfigList(t *testing.T) {
	c, err := parse("-radius", "100", "-target-length", "40", "-target-width", "30", "-list", "points.csv", "-dim", "3", "-o", "plan")
	require.NoError(t, err)

	assert.Equal(t, ImagePNG, c.Format)
	assert.Equal(t, geometry.ShapeRectangular, c.Target.Shape)

	m := c.MotionPlan()
	assert.Equal(t, scan.SourceList, m.Source)
	assert.Equal(t, "points.csv", m.ListFile)
	assert.Equal(t, 3, m.Dimension)
}

func TestParseConfigInvalid(t *testing.T) {
	cases := map[string][]string{
		"no radius":      {"-o", "plan"},
		"no output":      {"-radius", "100"},
		"format":         {"-radius", "100", "-o", "plan", "-f", "gif"},
		"run without db": {"-radius", "100", "-o", "plan", "-run", "abc"},
		"order":          {"-radius", "100", "-o", "plan", "-order", "spiral"},
		"theme":          {"-radius", "100", "-o", "plan", "-theme", "neon"},
		"size":           {"-radius", "100", "-o", "plan", "-size", "50"},
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(args...)
			assert.Error(t, err)
		})
	}
}
