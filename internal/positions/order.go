package positions

import (
	"math"

	"github.com/roman-kulish/emscan/internal/geometry"
)

const (
	OrderNone            Order = "none"
	OrderNearestNeighbor Order = "nearest_neighbour"
)

// Order selects how a generated position list is sequenced.
type Order string

func (o Order) String() string {
	return string(o)
}

// Apply returns the points sequenced according to the order.
func (o Order) Apply(points []geometry.Point) []geometry.Point {
	if o == OrderNearestNeighbor {
		return NearestNeighbor(points)
	}
	return points
}

// NearestNeighbor sequences points greedily, starting at the origin and
// repeatedly visiting the closest unvisited point. When several points are
// equally close the one appearing last in the remaining list is chosen. The
// input slice is left untouched.
func NearestNeighbor(points []geometry.Point) []geometry.Point {
	remaining := make([]geometry.Point, len(points))
	copy(remaining, points)

	ordered := make([]geometry.Point, 0, len(points))
	current := geometry.Origin

	for len(remaining) > 0 {
		i := nearest(remaining, current)
		current = remaining[i]
		ordered = append(ordered, current)
		remaining = append(remaining[:i], remaining[i+1:]...)
	}

	return ordered
}

func nearest(points []geometry.Point, from geometry.Point) int {
	best := -1
	bestDist := math.Inf(1)
	for i, p := range points {
		if d := p.Dist(from); d <= bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// PathLength returns the distance travelled from the origin through every point in order.
func PathLength(points []geometry.Point) float64 {
	var total float64
	current := geometry.Origin
	for _, p := range points {
		total += current.Dist(p)
		current = p
	}
	return total
}
