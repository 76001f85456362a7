// Package motion drives a GRBL based planar positioning stage within a
// circular keep-out envelope.
package motion

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/roman-kulish/emscan/internal/geometry"
)

const (
	// DefaultFeedRate is the feed rate in mm/min set by Initialize.
	DefaultFeedRate = 100

	// DefaultPollInterval is the delay between status queries while moving.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultMotionTimeout bounds the duration of a single move.
	DefaultMotionTimeout = 5 * time.Minute

	// positionTolerance is the distance in mm at which an idle stage counts
	// as arrived without having been seen moving.
	positionTolerance = 0.01

	// settlePolls is the number of consecutive idle reports after which a
	// move that was never seen running is complete.
	settlePolls = 3
)

// WithDialer replaces the serial dialer.
func WithDialer(dial Dialer) func(*Controller) {
	return func(c *Controller) {
		c.dial = dial
	}
}

// WithFeedRate sets the feed rate in mm/min.
func WithFeedRate(rate float64) func(*Controller) {
	return func(c *Controller) {
		c.feedRate = rate
	}
}

// WithPollInterval sets the delay between status queries while moving.
func WithPollInterval(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.pollInterval = d
	}
}

// WithMotionTimeout bounds the duration of a single move.
func WithMotionTimeout(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.motionTimeout = d
	}
}

// WithThreeAxis enables the Z axis in origin and move commands.
func WithThreeAxis() func(*Controller) {
	return func(c *Controller) {
		c.threeAxis = true
	}
}

// WithLogger sets the logger used by the Controller.
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller moves the stage through a list of positions. It goes from
// disconnected, to connected with the origin unset, to connected with the
// origin set; only the last state accepts motion. Every move is checked
// against the envelope before a command is sent, and the live position is
// checked on every status poll until the stage is idle again. A Controller
// is not safe for concurrent use.
type Controller struct {
	dial     Dialer
	t        Transport
	envelope geometry.Envelope

	positions []geometry.Point
	index     int
	pos       geometry.Point
	wco       geometry.Point
	originSet bool

	feedRate      float64
	pollInterval  time.Duration
	motionTimeout time.Duration
	threeAxis     bool

	sleep  func(time.Duration)
	now    func() time.Time
	logger *slog.Logger
}

// New creates a disconnected Controller bounded by envelope.
func New(envelope geometry.Envelope, options ...func(*Controller)) *Controller {
	c := Controller{
		dial:          SerialDialer(DefaultBaudRate),
		envelope:      envelope,
		index:         -1,
		feedRate:      DefaultFeedRate,
		pollInterval:  DefaultPollInterval,
		motionTimeout: DefaultMotionTimeout,
		sleep:         time.Sleep,
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Connect opens the controller line. AutoAddress selects the only USB serial
// port present. On failure the controller stays disconnected.
func (c *Controller) Connect(address string) error {
	if c.t != nil {
		_ = c.t.Close()
		c.t = nil
	}
	c.originSet = false

	if address == AutoAddress {
		detected, err := DetectPort()
		if err != nil {
			return &ConnectionError{Address: address, Err: err}
		}
		address = detected
	}

	t, err := c.dial(address)
	if err != nil {
		return &ConnectionError{Address: address, Err: err}
	}

	c.t = t
	c.logger.Info("motion controller connected", slog.String("address", address))

	return nil
}

// Connected reports whether the controller line is open.
func (c *Controller) Connected() bool {
	return c.t != nil
}

// Initialize selects millimetre units and sets the feed rate.
func (c *Controller) Initialize() error {
	if _, err := c.sendCommand("G21"); err != nil {
		return err
	}
	_, err := c.sendCommand("F" + formatCoord(c.feedRate))
	return err
}

// SetOrigin makes the current physical location the work origin.
func (c *Controller) SetOrigin() error {
	if _, err := c.sendCommand("G90"); err != nil {
		return err
	}

	cmd := "G92 X0 Y0"
	if c.threeAxis {
		cmd += " Z0"
	}
	if _, err := c.sendCommand(cmd); err != nil {
		return err
	}

	f, err := c.status()
	if err != nil {
		return err
	}
	if !f.HasWPos && !f.HasWCO {
		c.wco = f.MPos
	}

	c.pos = geometry.Origin
	c.originSet = true
	c.logger.Info("origin set")

	return nil
}

// OriginSet reports whether SetOrigin succeeded on the current connection.
func (c *Controller) OriginSet() bool {
	return c.originSet
}

// Envelope returns the keep-out envelope.
func (c *Controller) Envelope() geometry.Envelope {
	return c.envelope
}

// SetEnvelope replaces the keep-out envelope.
func (c *Controller) SetEnvelope(e geometry.Envelope) {
	c.envelope = e
}

// Load installs the position list and rewinds to before its first entry.
func (c *Controller) Load(points []geometry.Point) {
	c.positions = make([]geometry.Point, len(points))
	copy(c.positions, points)
	c.index = -1
}

// Positions returns the loaded position list.
func (c *Controller) Positions() []geometry.Point {
	return c.positions
}

// Index returns the index of the last position moved to, or -1.
func (c *Controller) Index() int {
	return c.index
}

// Position returns the last known work position.
func (c *Controller) Position() geometry.Point {
	return c.pos
}

// NextPosition moves to the next position of the list.
func (c *Controller) NextPosition() error {
	if c.index+1 >= len(c.positions) {
		return ErrNoMorePositions
	}

	c.index++
	return c.MoveTo(c.positions[c.index])
}

// MoveTo moves the stage to target and waits until it is idle. A target
// outside the safe radius is refused without any command being sent, as is a
// target off the Z=0 plane unless the stage has three axes. If a status poll
// reports a position outside the safe radius, the feed is held immediately
// and an *OutOfBoundsError with InFlight set is returned.
//
// The move is complete on the first idle report after the stage was seen
// running. GRBL stops on its own step grid, so the reported position is not
// compared with the target then. A move too short to be seen running is
// complete once the stage is idle within positionTolerance of the target, or
// after settlePolls idle reports in a row.
func (c *Controller) MoveTo(target geometry.Point) error {
	if c.t == nil {
		return ErrNotConnected
	}
	if !c.originSet {
		return ErrOriginNotSet
	}
	if !c.threeAxis && target.Z != 0 {
		return fmt.Errorf("moving to %v: %w", target, ErrPlanarTarget)
	}
	if !c.envelope.IsReachable(target) {
		return &OutOfBoundsError{Target: target, SafeRadius: c.envelope.SafeRadius()}
	}

	cmd := "G0 X" + formatCoord(target.X) + " Y" + formatCoord(target.Y)
	if c.threeAxis {
		cmd += " Z" + formatCoord(target.Z)
	}
	if _, err := c.sendCommand(cmd); err != nil {
		return err
	}

	c.logger.Debug("moving", slog.String("target", target.String()))

	var (
		moved    bool
		idle     int
		deadline = c.now().Add(c.motionTimeout)
	)
	for {
		status, err := c.QueryStatus()
		if err != nil {
			return err
		}

		if !c.envelope.IsReachable(status.Position) {
			holdErr := c.t.Realtime(FeedHold)
			c.logger.Error("stage left the safe area, feed held",
				slog.String("position", status.Position.String()),
				slog.Float64("safe_radius", c.envelope.SafeRadius()))

			return errors.Join(&OutOfBoundsError{
				Target:     target,
				Live:       status.Position,
				SafeRadius: c.envelope.SafeRadius(),
				InFlight:   true,
			}, holdErr)
		}

		switch status.State {
		case StateIdle:
			idle++
			if moved || idle >= settlePolls || status.Position.Dist(target) <= positionTolerance {
				c.logger.Debug("move complete",
					slog.String("position", status.Position.String()),
					slog.Float64("error", status.Position.Dist(target)))
				return nil
			}
		case StateAlarm:
			return &CommandError{Command: cmd, Reply: "Alarm"}
		default:
			moved = true
			idle = 0
		}

		if c.now().After(deadline) {
			return &CommandError{Command: cmd, Err: ErrMotionTimeout}
		}

		c.sleep(c.pollInterval)
	}
}

// QueryStatus requests a status report and updates the known position.
// Without a Z axis the reported Z is ignored.
func (c *Controller) QueryStatus() (Status, error) {
	f, err := c.status()
	if err != nil {
		return Status{}, err
	}

	if f.HasWCO {
		c.wco = f.WCO
	}

	pos := f.WPos
	if !f.HasWPos {
		pos = f.MPos.Sub(c.wco)
	}
	if !c.threeAxis {
		pos.Z = 0
	}
	c.pos = pos

	return Status{State: f.State, Position: pos}, nil
}

// Close closes the controller line.
func (c *Controller) Close() error {
	if c.t == nil {
		return nil
	}

	err := c.t.Close()
	c.t = nil
	c.originSet = false

	return err
}

// sendCommand sends cmd and checks that every reply line is "ok".
func (c *Controller) sendCommand(cmd string) ([]string, error) {
	if c.t == nil {
		return nil, ErrNotConnected
	}

	lines, err := c.t.Send(cmd)
	if err != nil {
		return nil, &CommandError{Command: cmd, Err: err}
	}

	for _, line := range lines {
		if line != "ok" {
			return nil, &CommandError{Command: cmd, Reply: line}
		}
	}

	return lines, nil
}

// status sends the real-time status query and parses the report.
func (c *Controller) status() (Frame, error) {
	if c.t == nil {
		return Frame{}, ErrNotConnected
	}

	line, err := c.t.Status()
	if err != nil {
		return Frame{}, &CommandError{Command: "?", Err: err}
	}

	f, err := ParseFrame(line)
	if err != nil {
		return Frame{}, &CommandError{Command: "?", Reply: line, Err: err}
	}

	return f, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// String describes the controller state for logs.
func (c *Controller) String() string {
	switch {
	case c.t == nil:
		return "disconnected"
	case !c.originSet:
		return "connected (origin unset)"
	default:
		return fmt.Sprintf("connected at %v", c.pos)
	}
}
