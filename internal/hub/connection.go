package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatline/gateway/internal/domain"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrBufferFull is returned when the send buffer is full. The connection is closed.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned when pushing to a handle that is not active.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrInvalidTransition is returned for a state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStaleHandle is reported when a disconnecting handle was already superseded.
	ErrStaleHandle = errors.New("stale handle")
)

// Identity is bound to a connection once, when authentication succeeds.
type Identity struct {
	User            domain.User
	AuthenticatedAt time.Time
}

// Handle is what the registry stores and the dispatcher pushes to.
type Handle interface {
	ID() string
	Push(data []byte) error
}

// Connection represents a single WebSocket connection.
type Connection struct {
	id   string
	Conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex // guards state, identity and closing send
	state    State
	identity Identity
	writeMu  sync.Mutex
}

// NewConnection wraps an upgraded socket. The connection starts in StateConnecting.
func NewConnection(ws *websocket.Conn, buffer int) *Connection {
	return &Connection{
		id:    uuid.New().String(),
		Conn:  ws,
		send:  make(chan []byte, buffer),
		state: StateConnecting,
	}
}

// ID returns the transport-assigned connection id.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the bound identity; ok is false before activation.
func (c *Connection) Identity() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.identity.User.ID != 0
}

// BeginAuth moves Connecting -> Authenticating.
func (c *Connection) BeginAuth() error {
	return c.transition(StateConnecting, StateAuthenticating, nil)
}

// Activate binds the identity and moves Authenticating -> Active.
func (c *Connection) Activate(id Identity) error {
	return c.transition(StateAuthenticating, StateActive, &id)
}

func (c *Connection) transition(from, to State, id *Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return ErrInvalidTransition
	}
	c.state = to
	if id != nil {
		c.identity = *id
	}
	return nil
}

// Push queues data for the write pump. Only active connections accept data.
func (c *Connection) Push(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrBufferFull
	}
}

// Outbound is drained by the write pump; it is closed when the connection closes.
func (c *Connection) Outbound() <-chan []byte { return c.send }

// MarkClosed moves the connection to StateClosed. It reports false if it was already closed.
func (c *Connection) MarkClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() bool {
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	close(c.send)
	return true
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteClose sends a close frame with code and reason.
func (c *Connection) WriteClose(code int, reason string, deadline time.Time) error {
	return c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close marks the connection closed and closes the socket.
func (c *Connection) Close() error {
	c.MarkClosed()
	return c.Conn.Close()
}
