package geometry

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Origin is the work-coordinate zero of the motion stage.
var Origin = Point{}

// Point is a stage position in millimetres. Planar positions leave Z at zero.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Pt returns a planar point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

func (p Point) vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// Mag returns the distance of the point from the origin.
func (p Point) Mag() float64 {
	return p.vector().Norm()
}

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(o Point) float64 {
	return p.vector().Distance(o.vector())
}

// Sub returns p - o.
func (p Point) Sub(o Point) Point {
	v := p.vector().Sub(o.vector())
	return Point{X: v.X, Y: v.Y, Z: v.Z}
}

func (p Point) String() string {
	if p.Z != 0 {
		return fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X, p.Y, p.Z)
	}
	return fmt.Sprintf("(%.3f, %.3f)", p.X, p.Y)
}
