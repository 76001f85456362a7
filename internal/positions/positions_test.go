package positions

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/emscan/internal/geometry"
)

func TestGenerateUniform(t *testing.T) {
	const radius = 50.0

	points := GenerateUniform(200, radius, WithSeed(42))
	require.Len(t, points, 200)

	for i, p := range points {
		assert.LessOrEqual(t, p.Mag(), radius, "point %d outside disk", i)
		for j := i + 1; j < len(points); j++ {
			assert.GreaterOrEqual(t, p.Dist(points[j]), DefaultMinSeparation, "points %d and %d too close", i, j)
		}
	}
}

func TestGenerateUniformIsReproducible(t *testing.T) {
	a := GenerateUniform(20, 10, WithRand(rand.New(rand.NewPCG(1, 2))))
	b := GenerateUniform(20, 10, WithRand(rand.New(rand.NewPCG(1, 2))))
	assert.Equal(t, a, b)
}

func TestGenerateUniformExhaustsAttempts(t *testing.T) {
	// A separation larger than the disk diameter admits exactly one point.
	points := GenerateUniform(10, 1, WithSeed(7), WithMinSeparation(5), WithMaxAttempts(100))
	assert.Len(t, points, 1)
}

func TestGenerateUniformEmpty(t *testing.T) {
	assert.Empty(t, GenerateUniform(0, 10))
	assert.Empty(t, GenerateUniform(5, 0))
}

func TestNearestNeighbor(t *testing.T) {
	in := []geometry.Point{geometry.Pt(10, 0), geometry.Pt(1, 0), geometry.Pt(5, 0), geometry.Pt(-3, 0)}
	got := NearestNeighbor(in)

	want := []geometry.Point{geometry.Pt(1, 0), geometry.Pt(-3, 0), geometry.Pt(5, 0), geometry.Pt(10, 0)}
	assert.Equal(t, want, got)
	assert.Equal(t, geometry.Pt(10, 0), in[0], "input must not be modified")
}

func TestNearestNeighborTiePicksLast(t *testing.T) {
	in := []geometry.Point{geometry.Pt(2, 0), geometry.Pt(0, 2), geometry.Pt(-2, 0)}
	got := NearestNeighbor(in)
	require.Len(t, got, 3)
	assert.Equal(t, geometry.Pt(-2, 0), got[0])
}

func TestNearestNeighborIsPermutation(t *testing.T) {
	in := GenerateUniform(50, 30, WithSeed(3))
	got := NearestNeighbor(in)
	assert.ElementsMatch(t, in, got)
	assert.LessOrEqual(t, PathLength(got), PathLength(in))
}

func TestOrderApply(t *testing.T) {
	in := []geometry.Point{geometry.Pt(5, 0), geometry.Pt(1, 0)}
	assert.Equal(t, in, OrderNone.Apply(in))
	assert.Equal(t, []geometry.Point{geometry.Pt(1, 0), geometry.Pt(5, 0)}, OrderNearestNeighbor.Apply(in))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		dimension int
		want      []geometry.Point
		wantErr   error
	}{
		{
			name:      "one point per line",
			input:     "1,2\n3,4\n",
			dimension: 2,
			want:      []geometry.Point{geometry.Pt(1, 2), geometry.Pt(3, 4)},
		},
		{
			name:      "points spanning lines and empty tokens",
			input:     "1,2,,3\n4,5,6,\n",
			dimension: 3,
			want:      []geometry.Point{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}},
		},
		{
			name:      "incomplete point",
			input:     "1,2,3\n4,5\n",
			dimension: 3,
			wantErr:   ErrMalformedList,
		},
		{
			name:      "not a number",
			input:     "1,x\n",
			dimension: 2,
			wantErr:   ErrMalformedList,
		},
		{
			name:      "empty file",
			input:     "",
			dimension: 2,
			want:      []geometry.Point{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input), tt.dimension)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsDimension(t *testing.T) {
	_, err := Parse(strings.NewReader("1,2"), 4)
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.csv")
	require.NoError(t, os.WriteFile(path, []byte("10.5,-3\n0,0\n"), 0o644))

	got, err := LoadFromFile(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []geometry.Point{geometry.Pt(10.5, -3), geometry.Pt(0, 0)}, got)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.csv"), 2)
	assert.Error(t, err)
}
