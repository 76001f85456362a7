package storage

import (
	"time"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/switching"
)

// Run is a scan run as recorded in the ledger.
type Run struct {
	ID            string
	Name          string
	Root          string
	VNAName       string
	Description   string
	Parameters    []string
	PortMin       int
	PortMax       int
	PositionCount int
	StartedAt     time.Time

	// FinishedAt and Outcome are nil while the run is in progress, or when
	// the process exited before the run ended.
	FinishedAt *time.Time
	Outcome    *string

	// Config is the JSON encoded analyzer configuration.
	Config *string
}

// Position is a visited scan position.
type Position struct {
	RunID     string
	Index     int
	Point     geometry.Point
	StartedAt time.Time
}

// Sweep records one measured port pair.
type Sweep struct {
	ID            int64
	RunID         string
	PositionIndex int
	Pair          switching.Pair
	Parameters    []string
	Duration      time.Duration
	RecordedAt    time.Time
}

// Fault records a fault raised during a run.
type Fault struct {
	ID            int64
	RunID         string
	PositionIndex int
	Kind          string
	Op            string
	Message       string
	RecordedAt    time.Time
}
