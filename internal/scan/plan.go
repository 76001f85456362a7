package scan

import (
	"fmt"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/positions"
	"github.com/roman-kulish/emscan/internal/switching"
)

const (
	SourceUniform PositionSource = "uniform"
	SourceList    PositionSource = "list"

	// MaxUniformPositions is the exclusive upper bound on generated positions.
	MaxUniformPositions = 512
)

// PositionSource selects how the position list of a run is produced.
type PositionSource string

// Plan describes one run.
type Plan struct {
	Name        string
	OutputDir   string
	Description string

	Settings instrument.Settings

	PortMin int
	PortMax int

	// Motion is nil when the target stays in place for a single position.
	Motion *MotionPlan
}

// MotionPlan describes the working area and the positions visited.
type MotionPlan struct {
	Radius  float64
	Padding float64
	Target  geometry.Target

	Source    PositionSource
	Count     int
	Order     positions.Order
	ListFile  string
	Dimension int

	// Seed makes uniform generation reproducible when non-zero.
	Seed          uint64
	MinSeparation float64
	MaxAttempts   int

	// ThreeAxis is set when the stage drives Z; otherwise every position
	// must lie on the Z=0 plane.
	ThreeAxis bool
}

// Envelope returns the keep-out envelope of the working area.
func (m *MotionPlan) Envelope() geometry.Envelope {
	return geometry.NewEnvelope(m.Radius, m.Padding, m.Target)
}

// Positions produces the ordered position list.
func (m *MotionPlan) Positions() ([]geometry.Point, error) {
	switch m.Source {
	case SourceList:
		dim := m.Dimension
		if dim == 0 {
			dim = 2
		}
		points, err := positions.LoadFromFile(m.ListFile, dim)
		if err != nil {
			return nil, err
		}
		return m.Order.Apply(points), nil

	case SourceUniform, "":
		var opts []positions.GenerateOption
		if m.Seed != 0 {
			opts = append(opts, positions.WithSeed(m.Seed))
		}
		if m.MinSeparation > 0 {
			opts = append(opts, positions.WithMinSeparation(m.MinSeparation))
		}
		if m.MaxAttempts > 0 {
			opts = append(opts, positions.WithMaxAttempts(m.MaxAttempts))
		}
		points := positions.GenerateUniform(m.Count, m.Envelope().SafeRadius(), opts...)
		return m.Order.Apply(points), nil

	default:
		return nil, fmt.Errorf("unknown position source '%s'", m.Source)
	}
}

func (p *Plan) portRange() (int, int) {
	min, max := p.PortMin, p.PortMax
	if min == 0 {
		min = switching.PortMin
	}
	if max == 0 {
		max = switching.PortMax
	}
	return min, max
}
