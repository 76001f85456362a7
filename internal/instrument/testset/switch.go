// Package testset drives a multiport S-parameter test set, such as the
// 87050A, that routes analyzer ports to antenna ports.
package testset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/instrument/scpi"
	"github.com/roman-kulish/emscan/internal/switching"
)

// DefaultDebounce is the settling time after each port change.
const DefaultDebounce = 30 * time.Millisecond

// ErrNotConnected is returned by operations that need an open session.
var ErrNotConnected = errors.New("switch matrix not connected")

// InvalidPortError is returned for a port outside the matrix range.
type InvalidPortError struct {
	Port     int
	Min, Max int
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("port %d is outside [%d, %d]", e.Port, e.Min, e.Max)
}

// WithPortRange sets the ports available on the matrix.
func WithPortRange(min, max int) func(*Switch) {
	return func(s *Switch) {
		s.min, s.max = min, max
	}
}

// WithDebounce overrides the settling time after each port change.
func WithDebounce(d time.Duration) func(*Switch) {
	return func(s *Switch) {
		s.debounce = d
	}
}

// WithDialer replaces the SCPI socket dialer.
func WithDialer(dial instrument.DialFunc) func(*Switch) {
	return func(s *Switch) {
		s.dial = dial
	}
}

// WithLogger sets the logger used by the Switch.
func WithLogger(logger *slog.Logger) func(*Switch) {
	return func(s *Switch) {
		s.logger = logger
	}
}

// Switch selects the transmit and receive ports of the test set. The
// transmit command is terminated with a semicolon, the receive command is not.
type Switch struct {
	dial     instrument.DialFunc
	t        instrument.Transport
	min, max int
	debounce time.Duration
	sleep    func(time.Duration)

	logger *slog.Logger
}

// New creates a Switch for the 24 port test set.
func New(options ...func(*Switch)) *Switch {
	s := Switch{
		min:      switching.PortMin,
		max:      switching.PortMax,
		debounce: DefaultDebounce,
		sleep:    time.Sleep,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	if s.dial == nil {
		s.dial = func(ctx context.Context, resource string) (instrument.Transport, error) {
			return scpi.Dial(ctx, resource, scpi.WithLogger(s.logger))
		}
	}

	return &s
}

// PortRange returns the ports available on the matrix.
func (s *Switch) PortRange() (min, max int) {
	return s.min, s.max
}

// Connect opens a session with the test set.
func (s *Switch) Connect(ctx context.Context, resource string) error {
	if s.t != nil {
		_ = s.t.Close()
		s.t = nil
	}

	t, err := s.dial(ctx, resource)
	if err != nil {
		return &instrument.ConnectionError{Resource: resource, Err: err}
	}

	s.t = t
	s.logger.Info("switch matrix connected", slog.String("resource", resource))

	return nil
}

// Initialize resets the test set.
func (s *Switch) Initialize() error {
	return s.write("*rst")
}

// SetTransmit routes the analyzer source to port.
func (s *Switch) SetTransmit(port int) error {
	if err := s.check(port); err != nil {
		return err
	}
	return s.set(fmt.Sprintf("tran_%02d;", port))
}

// SetReceive routes the analyzer receiver to port.
func (s *Switch) SetReceive(port int) error {
	if err := s.check(port); err != nil {
		return err
	}
	return s.set(fmt.Sprintf("refl_%02d", port))
}

// Close closes the session.
func (s *Switch) Close() error {
	if s.t == nil {
		return nil
	}

	err := s.t.Close()
	s.t = nil

	return err
}

func (s *Switch) check(port int) error {
	if port < s.min || port > s.max {
		return &InvalidPortError{Port: port, Min: s.min, Max: s.max}
	}
	return nil
}

func (s *Switch) set(cmd string) error {
	if err := s.write(cmd); err != nil {
		return err
	}
	s.sleep(s.debounce)
	return nil
}

func (s *Switch) write(cmd string) error {
	if s.t == nil {
		return ErrNotConnected
	}
	if err := s.t.Write(cmd); err != nil {
		return &instrument.CommandError{Command: cmd, Err: err}
	}
	return nil
}
