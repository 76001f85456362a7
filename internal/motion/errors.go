package motion

import (
	"errors"
	"fmt"

	"github.com/roman-kulish/emscan/internal/geometry"
)

var (
	// ErrNotConnected is returned by operations that need an open controller.
	ErrNotConnected = errors.New("motion controller not connected")

	// ErrOriginNotSet is returned by motion requests before SetOrigin.
	ErrOriginNotSet = errors.New("origin has not been set")

	// ErrNoMorePositions is returned by NextPosition past the end of the list.
	ErrNoMorePositions = errors.New("no more positions")

	// ErrTimeout is returned when the controller does not answer in time.
	ErrTimeout = errors.New("timed out waiting for reply")

	// ErrMotionTimeout is returned when a move does not settle in time.
	ErrMotionTimeout = errors.New("motion did not complete in time")

	// ErrPlanarTarget is returned for a target off the Z=0 plane when the
	// stage has no Z axis.
	ErrPlanarTarget = errors.New("target has a Z coordinate but the stage is planar")
)

// ConnectionError reports a failure to open the controller line.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to motion controller at %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError reports a command the controller rejected or did not answer.
type CommandError struct {
	Command string
	Reply   string
	Err     error
}

func (e *CommandError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("command '%s': %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("command '%s': unexpected reply '%s'", e.Command, e.Reply)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// OutOfBoundsError reports a target, or a live position while moving, that
// lies outside the safe radius. InFlight is set when motion was interrupted.
type OutOfBoundsError struct {
	Target     geometry.Point
	Live       geometry.Point
	SafeRadius float64
	InFlight   bool
}

func (e *OutOfBoundsError) Error() string {
	if e.InFlight {
		return fmt.Sprintf("position %v left the safe radius %.3f while moving to %v; feed held", e.Live, e.SafeRadius, e.Target)
	}
	return fmt.Sprintf("target %v is outside the safe radius %.3f", e.Target, e.SafeRadius)
}
