package geometry

import (
	"fmt"
	"math"
)

const (
	ShapeCircular    Shape = "circular"
	ShapeRectangular Shape = "rectangular"
)

// Shape is the footprint of the target mounted on the stage.
type Shape string

func (s Shape) String() string {
	return string(s)
}

// Target describes the object carried by the stage. Radius is used by
// circular targets, Length and Width by rectangular ones.
type Target struct {
	Shape  Shape   `json:"shape" yaml:"shape"`
	Radius float64 `json:"radius,omitempty" yaml:"radius"`
	Length float64 `json:"length,omitempty" yaml:"length"`
	Width  float64 `json:"width,omitempty" yaml:"width"`
}

// BoundingRadius returns the radius of the smallest circle around the target
// centre containing the whole target. Invalid dimensions yield 0.
func (t Target) BoundingRadius() float64 {
	switch t.Shape {
	case ShapeRectangular:
		if !validDimension(t.Length) || !validDimension(t.Width) {
			return 0
		}
		return 0.5 * math.Hypot(t.Length, t.Width)

	default:
		if !validDimension(t.Radius) {
			return 0
		}
		return t.Radius
	}
}

// Validate reports whether every dimension the shape uses is positive and finite.
func (t Target) Validate() error {
	switch t.Shape {
	case ShapeRectangular:
		if !validDimension(t.Length) {
			return fmt.Errorf("target length %v must be positive and finite", t.Length)
		}
		if !validDimension(t.Width) {
			return fmt.Errorf("target width %v must be positive and finite", t.Width)
		}

	case ShapeCircular, "":
		if !validDimension(t.Radius) {
			return fmt.Errorf("target radius %v must be positive and finite", t.Radius)
		}

	default:
		return fmt.Errorf("unknown target shape '%s'", t.Shape)
	}

	return nil
}

func validDimension(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Envelope is the circular keep-out boundary of the working area. The safe
// radius is derived on every call so that it always reflects the current fields.
type Envelope struct {
	Radius       float64 `json:"radius"`
	Padding      float64 `json:"padding"`
	TargetRadius float64 `json:"target_radius"`
}

// NewEnvelope returns an envelope for the working area and target.
func NewEnvelope(radius, padding float64, target Target) Envelope {
	return Envelope{
		Radius:       radius,
		Padding:      padding,
		TargetRadius: target.BoundingRadius(),
	}
}

// WithTarget returns a copy of the envelope sized for the given target.
func (e Envelope) WithTarget(t Target) Envelope {
	e.TargetRadius = t.BoundingRadius()
	return e
}

// SafeRadius returns the radius the target centre must stay strictly inside.
// A non-positive value means no position is reachable.
func (e Envelope) SafeRadius() float64 {
	return e.Radius - e.Padding - e.TargetRadius
}

// Valid reports whether the envelope leaves any reachable area.
func (e Envelope) Valid() bool {
	return e.SafeRadius() > 0
}

// IsReachable reports whether p lies strictly inside the safe radius.
func (e Envelope) IsReachable(p Point) bool {
	return p.Mag() < e.SafeRadius()
}
