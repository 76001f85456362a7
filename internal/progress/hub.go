package progress

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/scan"
	"github.com/roman-kulish/emscan/internal/switching"
)

const (
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
)

// Message is the JSON document pushed to progress clients.
type Message struct {
	Type          scan.EventType  `json:"type"`
	Time          time.Time       `json:"time"`
	RunID         string          `json:"run_id,omitempty"`
	State         scan.State      `json:"state"`
	Root          string          `json:"root,omitempty"`
	Position      int             `json:"position"`
	PositionCount int             `json:"position_count"`
	Point         *geometry.Point `json:"point,omitempty"`
	Pair          *switching.Pair `json:"pair,omitempty"`
	PairsMeasured int             `json:"pairs_measured"`
	PairsPerCycle int             `json:"pairs_per_cycle"`
	PortsComplete []int           `json:"ports_complete,omitempty"`

	// Fraction is the share of the run completed, in [0, 1].
	Fraction float64 `json:"fraction"`

	Fault   string       `json:"fault,omitempty"`
	Kind    scan.Kind    `json:"fault_kind,omitempty"`
	Outcome scan.Outcome `json:"outcome,omitempty"`
}

// command is a message received from a client.
type command struct {
	Type string `json:"type"`
}

// WithLogger sets the logger used by the Hub.
func WithLogger(logger *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithAbort lets clients abort the run by sending {"type":"abort"}.
func WithAbort(abort func()) func(*Hub) {
	return func(h *Hub) {
		h.abort = abort
	}
}

// WithSendBuffer sets how many messages are queued per client before
// further messages to that client are dropped.
func WithSendBuffer(n int) func(*Hub) {
	return func(h *Hub) {
		h.sendBuffer = n
	}
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// writePump pumps messages from the hub to the websocket connection.
func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Hub broadcasts run progress to websocket clients. A client that connects
// mid-run first receives the latest message. Slow clients miss messages
// rather than stall the run.
type Hub struct {
	upgrader   websocket.Upgrader
	sendBuffer int
	abort      func()

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    *Message
	closed  bool

	// per-run state used to compute the completed fraction
	positionCount int

	logger *slog.Logger
}

// NewHub creates a Hub with no clients.
func NewHub(options ...func(*Hub)) *Hub {
	h := Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*client]struct{}),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&h)
	}
	if h.sendBuffer < 1 {
		h.sendBuffer = 1
	}

	return &h
}

// ServeHTTP upgrades the request to a websocket and streams progress until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan Message, h.sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- *h.last
	}
	h.mu.Unlock()

	h.logger.Debug("progress client connected", slog.String("remote", r.RemoteAddr))

	go c.writePump()

	defer func() {
		h.unregister(c)
		h.logger.Debug("progress client disconnected", slog.String("remote", r.RemoteAddr))
	}()

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err = json.Unmarshal(p, &cmd); err != nil {
			continue
		}
		if cmd.Type == "abort" && h.abort != nil {
			h.logger.Warn("abort requested by progress client", slog.String("remote", r.RemoteAddr))
			h.abort()
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Last returns the most recent message, if any.
func (h *Hub) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.last == nil {
		return Message{}, false
	}
	return *h.last, true
}

// HandleEvent implements scan.Observer.
func (h *Hub) HandleEvent(ev scan.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	msg := h.toMessage(ev)
	h.last = &msg

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Close disconnects every client. Events received afterwards are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// toMessage must be called with h.mu held.
func (h *Hub) toMessage(ev scan.Event) Message {
	msg := Message{
		Type:          ev.Type,
		Time:          ev.Time,
		RunID:         ev.RunID,
		State:         ev.State,
		Position:      ev.PositionIndex,
		PositionCount: ev.PositionCount,
		PairsMeasured: ev.PairsMeasured,
		PairsPerCycle: ev.PairsPerCycle,
		PortsComplete: ev.PortsComplete,
		Outcome:       ev.Outcome,
	}

	if ev.Run != nil {
		msg.Root = ev.Run.Root
		h.positionCount = len(ev.Run.Positions)
	}
	if msg.PositionCount == 0 {
		msg.PositionCount = h.positionCount
	}

	switch ev.Type {
	case scan.EventPositionStarted:
		p := ev.Position
		msg.Point = &p
	case scan.EventSweep:
		pair := ev.Pair
		msg.Pair = &pair
	case scan.EventFault:
		if ev.Fault != nil {
			msg.Fault = ev.Fault.Error()
			msg.Kind = ev.Fault.Kind
		}
	}

	msg.Fraction = Fraction(msg.Position, msg.PositionCount, msg.PairsMeasured, msg.PairsPerCycle)
	if ev.Type == scan.EventRunFinished && ev.Outcome == scan.OutcomeCompleted {
		msg.Fraction = 1
	}

	return msg
}

// Fraction returns the share of a run completed after pairsMeasured of
// pairsPerCycle pairs at the position with the given index.
func Fraction(position, positionCount, pairsMeasured, pairsPerCycle int) float64 {
	if positionCount <= 0 || pairsPerCycle <= 0 {
		return 0
	}
	f := (float64(position) + float64(pairsMeasured)/float64(pairsPerCycle)) / float64(positionCount)
	return min(max(f, 0), 1)
}
