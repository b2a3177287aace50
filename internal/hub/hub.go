// Package hub fans chatd session events out to WebSocket connections.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrBufferFull is returned when a connection's outbound queue is full.
	ErrBufferFull = errors.New("outbound queue full")
	// ErrNotRegistered is returned for connections the hub does not hold.
	ErrNotRegistered = errors.New("connection not registered")
)

const outboundQueue = 256

// Conn is one WebSocket client. Frames queued on Outbound are written by the
// connection's write pump; the hub closes Outbound on unregister.
type Conn struct {
	ID       string
	WS       *websocket.Conn
	Outbound chan []byte

	// session is guarded by Hub.mu.
	session string
	writeMu sync.Mutex
}

// Write writes one frame with the given deadline.
func (c *Conn) Write(messageType int, data []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.WS.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.WS.WriteMessage(messageType, data)
}

// Close closes the underlying WebSocket.
func (c *Conn) Close() error {
	return c.WS.Close()
}

type envelope struct {
	sessionID string
	frame     []byte
}

// Hub tracks which connections belong to which session. Session fan-out is
// serialized on the Run loop.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	members map[string]map[*Conn]struct{}

	publish chan envelope

	// onEmpty runs in its own goroutine when a session loses its last connection.
	onEmpty func(sessionID string)

	stopped chan struct{}
	logger  *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[string]*Conn),
		members: make(map[string]map[*Conn]struct{}),
		publish: make(chan envelope, outboundQueue),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// OnSessionEmpty sets the callback for sessions losing their last connection.
// It must be set before Run.
func (h *Hub) OnSessionEmpty(fn func(sessionID string)) {
	h.onEmpty = fn
}

// Run fans published frames out until ctx is done. Publish calls made after
// Run returns are dropped.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.publish:
			h.fanOut(env)
		}
	}
}

func (h *Hub) drop(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	delete(h.conns, c.ID)
	h.leaveLocked(c)
	close(c.Outbound)
	h.logger.Debug("connection unregistered", zap.String("conn_id", c.ID))
}

func (h *Hub) fanOut(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.members[env.sessionID] {
		select {
		case c.Outbound <- env.frame:
		default:
			// A client that cannot keep up is disconnected.
			h.logger.Warn("outbound queue full, dropping connection",
				zap.String("conn_id", c.ID), zap.String("session_id", env.sessionID))
			go h.Unregister(c)
		}
	}
}

func (h *Hub) leaveLocked(c *Conn) {
	if c.session == "" {
		return
	}
	sessionID := c.session
	c.session = ""

	conns := h.members[sessionID]
	delete(conns, c)
	if len(conns) > 0 {
		return
	}
	delete(h.members, sessionID)
	if h.onEmpty != nil {
		go h.onEmpty(sessionID)
	}
}

// NewConn wraps ws in a connection. It is not registered yet.
func (h *Hub) NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ID:       "conn_" + uuid.New().String()[:8],
		WS:       ws,
		Outbound: make(chan []byte, outboundQueue),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("connection registered", zap.String("conn_id", c.ID))
}

// Unregister removes a connection and closes its outbound queue. It is safe
// to call more than once.
func (h *Hub) Unregister(c *Conn) {
	h.drop(c)
}

// Join moves a registered connection into a session, leaving its previous one.
func (h *Hub) Join(c *Conn, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.ID] != c {
		return ErrNotRegistered
	}
	if c.session == sessionID {
		return nil
	}
	h.leaveLocked(c)

	if h.members[sessionID] == nil {
		h.members[sessionID] = make(map[*Conn]struct{})
	}
	h.members[sessionID][c] = struct{}{}
	c.session = sessionID
	return nil
}

// SessionOf returns the session a connection has joined, or "".
func (h *Hub) SessionOf(c *Conn) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.session
}

// Publish queues v as JSON for every connection of a session.
func (h *Hub) Publish(sessionID string, v interface{}) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.publish <- envelope{sessionID: sessionID, frame: frame}:
	case <-h.stopped:
	}
	return nil
}

// Deliver queues v as JSON for a single connection without blocking.
func (h *Hub) Deliver(c *Conn, v interface{}) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}

	// Outbound is closed under the write lock, so it stays open while we hold the read lock.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.conns[c.ID] != c {
		return ErrNotRegistered
	}
	select {
	case c.Outbound <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SessionCount returns the number of sessions with at least one connection.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// HasActiveConnections reports whether any connection has joined sessionID.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members[sessionID]) > 0
}
