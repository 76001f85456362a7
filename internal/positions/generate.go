package positions

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/roman-kulish/emscan/internal/geometry"
)

const (
	// DefaultMaxAttempts bounds the number of candidates drawn by GenerateUniform.
	DefaultMaxAttempts = 8000

	// DefaultMinSeparation is the minimum distance in millimetres between two generated points.
	DefaultMinSeparation = 0.10
)

// GenerateOption configures GenerateUniform.
type GenerateOption func(*generator)

type generator struct {
	rng           *rand.Rand
	maxAttempts   int
	minSeparation float64
}

// WithRand sets the random source, mainly to make generation reproducible.
func WithRand(rng *rand.Rand) GenerateOption {
	return func(g *generator) {
		g.rng = rng
	}
}

// WithSeed seeds a deterministic random source.
func WithSeed(seed uint64) GenerateOption {
	return func(g *generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithMaxAttempts overrides the candidate budget.
func WithMaxAttempts(n int) GenerateOption {
	return func(g *generator) {
		g.maxAttempts = n
	}
}

// WithMinSeparation overrides the minimum distance between accepted points.
func WithMinSeparation(d float64) GenerateOption {
	return func(g *generator) {
		g.minSeparation = d
	}
}

// GenerateUniform draws up to n points uniformly distributed by area over a
// disk of the given radius centred on the origin. Candidates closer than the
// minimum separation to an accepted point are rejected. Generation stops after
// n points or when the attempt budget is spent, whichever comes first, so the
// result may be shorter than n.
func GenerateUniform(n int, radius float64, opts ...GenerateOption) []geometry.Point {
	g := generator{
		maxAttempts:   DefaultMaxAttempts,
		minSeparation: DefaultMinSeparation,
	}
	for _, opt := range opts {
		opt(&g)
	}
	if g.rng == nil {
		seed := uint64(time.Now().UnixNano())
		g.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	if n <= 0 || radius <= 0 {
		return nil
	}

	points := make([]geometry.Point, 0, n)
	for attempt := 0; len(points) < n && attempt < g.maxAttempts; attempt++ {
		angle := g.rng.Float64() * 2 * math.Pi
		mag := radius * math.Sqrt(g.rng.Float64()) // sqrt keeps the density uniform by area
		candidate := geometry.Pt(mag*math.Cos(angle), mag*math.Sin(angle))

		if g.tooClose(points, candidate) {
			continue
		}
		points = append(points, candidate)
	}

	return points
}

func (g *generator) tooClose(points []geometry.Point, p geometry.Point) bool {
	for _, q := range points {
		if p.Dist(q) < g.minSeparation {
			return true
		}
	}
	return false
}
