// Package instrumenttest provides an in-memory instrument transport for tests.
package instrumenttest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/roman-kulish/emscan/internal/instrument"
)

// ErrUnexpectedQuery is returned for queries without a scripted reply.
var ErrUnexpectedQuery = errors.New("unexpected query")

// Transport records every command and answers queries from a table of
// replies. A reply function takes precedence over the static table.
type Transport struct {
	mu sync.Mutex

	Replies map[string]string
	ReplyFn func(cmd string) (string, bool)
	FailOn  map[string]error

	sent   []string
	closed bool
}

// New returns a Transport with the given static replies.
func New(replies map[string]string) *Transport {
	if replies == nil {
		replies = make(map[string]string)
	}
	return &Transport{Replies: replies, FailOn: make(map[string]error)}
}

// Dialer returns a DialFunc handing out t.
func (t *Transport) Dialer() instrument.DialFunc {
	return func(context.Context, string) (instrument.Transport, error) {
		return t, nil
	}
}

func (t *Transport) Write(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = append(t.sent, cmd)
	return t.FailOn[cmd]
}

func (t *Transport) Query(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = append(t.sent, cmd)
	if err := t.FailOn[cmd]; err != nil {
		return "", err
	}
	if t.ReplyFn != nil {
		if reply, ok := t.ReplyFn(cmd); ok {
			return reply, nil
		}
	}
	if reply, ok := t.Replies[cmd]; ok {
		return reply, nil
	}
	return "", ErrUnexpectedQuery
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}

// Sent returns a copy of every command received so far.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentWithPrefix returns the received commands starting with prefix.
func (t *Transport) SentWithPrefix(prefix string) []string {
	var out []string
	for _, cmd := range t.Sent() {
		if strings.HasPrefix(cmd, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}

// Reset forgets the recorded commands.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}
