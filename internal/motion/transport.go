package motion

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the GRBL serial speed.
	DefaultBaudRate = 115200

	// DefaultReplyTimeout bounds the wait for a command's reply. GRBL only
	// acknowledges a motion command once the planner buffer has room for it,
	// which can take as long as the queued moves.
	DefaultReplyTimeout = 60 * time.Second

	wakeSettle  = 2 * time.Second
	readTimeout = 50 * time.Millisecond
)

const (
	// FeedHold is the real-time command that decelerates and pauses motion.
	FeedHold byte = '!'

	// StatusQuery is the real-time command answered with a status report.
	StatusQuery byte = '?'
)

// Transport exchanges commands with a GRBL controller.
type Transport interface {
	// Send writes a line command and returns the reply lines up to and
	// including the terminating "ok", "error:" or "ALARM:".
	Send(cmd string) ([]string, error)

	// Status requests a status report and returns its "<...>" line.
	Status() (string, error)

	// Realtime writes a single real-time command byte, which GRBL does not
	// acknowledge.
	Realtime(b byte) error

	Close() error
}

// Dialer opens a Transport to the controller at address.
type Dialer func(address string) (Transport, error)

// port is the subset of serial.Port used by SerialTransport.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// SerialTransport speaks the GRBL line protocol over a serial port.
type SerialTransport struct {
	port         port
	replyTimeout time.Duration
	pending      []byte
}

// WithReplyTimeout bounds the wait for a reply to a single command.
func WithReplyTimeout(d time.Duration) func(*SerialTransport) {
	return func(t *SerialTransport) {
		if d > 0 {
			t.replyTimeout = d
		}
	}
}

// DialSerial opens the serial port, wakes GRBL and discards its start-up banner.
func DialSerial(address string, baudRate int, options ...func(*SerialTransport)) (*SerialTransport, error) {
	p, err := serial.Open(address, &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", address, err)
	}

	t := newSerialTransport(p, options...)
	if err = t.wake(time.Sleep); err != nil {
		_ = p.Close()
		return nil, err
	}

	return t, nil
}

// SerialDialer returns a Dialer opening serial ports at baudRate.
func SerialDialer(baudRate int, options ...func(*SerialTransport)) Dialer {
	return func(address string) (Transport, error) {
		return DialSerial(address, baudRate, options...)
	}
}

func newSerialTransport(p port, options ...func(*SerialTransport)) *SerialTransport {
	t := SerialTransport{port: p, replyTimeout: DefaultReplyTimeout}
	for _, option := range options {
		option(&t)
	}
	return &t
}

func (t *SerialTransport) wake(sleep func(time.Duration)) error {
	if _, err := t.port.Write([]byte("\r\n\r\n")); err != nil {
		return fmt.Errorf("waking controller: %w", err)
	}
	sleep(wakeSettle)

	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flushing input: %w", err)
	}
	if err := t.port.SetReadTimeout(readTimeout); err != nil {
		return fmt.Errorf("setting read timeout: %w", err)
	}
	t.pending = t.pending[:0]

	return nil
}

func (t *SerialTransport) Send(cmd string) ([]string, error) {
	if _, err := t.port.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("writing: %w", err)
	}

	var lines []string
	deadline := time.Now().Add(t.replyTimeout)
	for {
		line, err := t.readLine(deadline)
		if err != nil {
			return lines, err
		}
		// A report left over from an earlier status query is not part of
		// this command's reply.
		if line == "" || isReport(line) {
			continue
		}

		lines = append(lines, line)
		if isTerminal(line) {
			return lines, nil
		}
	}
}

// Status sends the real-time status query. GRBL answers it outside the line
// protocol, so any "ok" read before the report belongs to no pending command
// and is dropped.
func (t *SerialTransport) Status() (string, error) {
	if err := t.Realtime(StatusQuery); err != nil {
		return "", fmt.Errorf("writing: %w", err)
	}

	deadline := time.Now().Add(t.replyTimeout)
	for {
		line, err := t.readLine(deadline)
		if err != nil {
			return "", err
		}
		if isReport(line) {
			return line, nil
		}
	}
}

func (t *SerialTransport) Realtime(b byte) error {
	_, err := t.port.Write([]byte{b})
	return err
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

func (t *SerialTransport) readLine(deadline time.Time) (string, error) {
	buf := make([]byte, 128)
	for {
		if i := bytes.IndexByte(t.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(t.pending[:i]))
			t.pending = t.pending[i+1:]
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}

		n, err := t.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("reading: %w", err)
		}
		t.pending = append(t.pending, buf[:n]...)
	}
}

func isTerminal(line string) bool {
	return line == "ok" ||
		strings.HasPrefix(line, "error") ||
		strings.HasPrefix(line, "ALARM")
}

func isReport(line string) bool {
	return strings.HasPrefix(line, "<")
}
