package scan

import (
	"time"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/switching"
)

const (
	EventRunStarted      EventType = "run_started"
	EventPositionStarted EventType = "position_started"
	EventSweep           EventType = "sweep"
	EventFault           EventType = "fault"
	EventRunFinished     EventType = "run_finished"

	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFaulted   Outcome = "faulted"
)

// EventType identifies what happened in an Event.
type EventType string

// Outcome is how a run ended.
type Outcome string

// Event is published to every Observer as a run progresses. Fields that do
// not apply to the event type are left zero.
type Event struct {
	Type  EventType
	Time  time.Time
	RunID string
	State State

	// Run is set for EventRunStarted and EventRunFinished.
	Run *RunInfo

	PositionIndex int
	PositionCount int
	Position      geometry.Point

	Pair          switching.Pair
	Parameters    []string
	SweepDuration time.Duration
	PairsMeasured int
	PairsPerCycle int
	PortsComplete []int

	Fault   *Fault
	Outcome Outcome
}

// RunInfo summarizes a run for observers.
type RunInfo struct {
	ID          string
	Name        string
	Root        string
	VNAName     string
	Description string
	Parameters  []string
	PortMin     int
	PortMax     int
	Positions   []geometry.Point
	Started     time.Time
	Config      any
}

// Observer receives run events. HandleEvent is called on the orchestrator
// goroutine and must not block for long.
type Observer interface {
	HandleEvent(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

func (f ObserverFunc) HandleEvent(ev Event) {
	f(ev)
}
