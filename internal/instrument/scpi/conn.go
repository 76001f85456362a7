package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPort is the standard SCPI raw socket port.
	DefaultPort = "5025"

	// DefaultTimeout leaves room for long sweeps to complete before a reply is due.
	DefaultTimeout = 100 * time.Second

	dialTimeout = 5 * time.Second
)

// ErrNotConnected is returned when the connection has been closed.
var ErrNotConnected = errors.New("not connected")

// ParseAddress converts an instrument resource string into a host:port
// network address. Accepted forms are the VISA TCPIP INSTR and SOCKET
// resource strings ("TCPIP0::10.0.0.5::inst0::INSTR",
// "TCPIP::10.0.0.5::5025::SOCKET"), "host:port" and a bare host.
func ParseAddress(resource string) (string, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return "", fmt.Errorf("empty instrument address")
	}

	if !strings.Contains(resource, "::") {
		if _, _, err := net.SplitHostPort(resource); err == nil {
			return resource, nil
		}
		return net.JoinHostPort(resource, DefaultPort), nil
	}

	parts := strings.Split(resource, "::")
	if !strings.HasPrefix(strings.ToUpper(parts[0]), "TCPIP") {
		return "", fmt.Errorf("unsupported instrument interface '%s'", parts[0])
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("missing host in '%s'", resource)
	}

	port := DefaultPort
	if len(parts) >= 4 && strings.EqualFold(parts[len(parts)-1], "SOCKET") {
		port = parts[2]
	}

	return net.JoinHostPort(parts[1], port), nil
}

// WithTimeout sets the read and write deadline applied to every exchange.
func WithTimeout(d time.Duration) func(*Conn) {
	return func(c *Conn) {
		c.timeout = d
	}
}

// WithLogger sets the logger used to trace exchanged messages.
func WithLogger(logger *slog.Logger) func(*Conn) {
	return func(c *Conn) {
		c.logger = logger
	}
}

// Conn is a newline terminated SCPI session over a stream connection. It
// is safe for concurrent use; exchanges are serialized.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	timeout time.Duration
	logger  *slog.Logger
}

// Dial connects to the instrument at the given resource address.
func Dial(ctx context.Context, resource string, options ...func(*Conn)) (*Conn, error) {
	addr, err := ParseAddress(resource)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	return NewConn(nc, options...), nil
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, options ...func(*Conn)) *Conn {
	c := Conn{
		conn:    nc,
		reader:  bufio.NewReader(nc),
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Write sends a command that produces no reply.
func (c *Conn) Write(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeLocked(cmd)
}

// Query sends a command and returns its reply without the terminator.
func (c *Conn) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(cmd); err != nil {
		return "", err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	reply, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading reply to '%s': %w", cmd, err)
	}

	reply = strings.TrimSpace(reply)
	c.logger.Debug("scpi query", slog.String("cmd", cmd), slog.Int("reply_len", len(reply)))

	return reply, nil
}

// writeLocked sends a command (caller must hold c.mu)
func (c *Conn) writeLocked(cmd string) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return fmt.Errorf("writing '%s': %w", cmd, err)
	}

	c.logger.Debug("scpi write", slog.String("cmd", cmd))
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	return err
}
