package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

const (
	// FUNCTIONAL DISCOVERY: 100 buffer absorbs bursts such as history replay
	// followed by unseen counts without blocking the sender
	sendBufferSize = 100
	writeTimeout   = 5 * time.Second
)

// frame is one queued write; a close frame ends the writer after it is sent
type frame struct {
	data   []byte
	close  bool
	code   int
	reason string
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no chat or call logic in connection wrapper
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan frame
	userID        string
	role          types.Role
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex // Protect identity fields
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection creates a new WebSocket connection wrapper
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan frame, sendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
// writeCh is never closed; a failed write cancels the context instead so
// concurrent WriteJSON callers observe ErrConnectionClosed rather than a panic
func (c *Connection) writeLoop() {
	for {
		select {
		case f := <-c.writeCh:
			if f.close {
				// FUNCTIONAL DISCOVERY: Every frame queued before the close frame has been written
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(f.code, f.reason), time.Now().Add(writeTimeout))
				_ = c.Close()
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- frame{data: data}:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Terminate sends a close frame after everything already queued, then closes
// TECHNICAL DISCOVERY: Queuing the close behind pending frames guarantees an
// error event reaches the peer before the socket goes away
func (c *Connection) Terminate(code int, reason string) error {
	select {
	case c.writeCh <- frame{close: true, code: code, reason: reason}:
	case <-c.ctx.Done():
		return nil
	case <-time.After(writeTimeout):
		return c.Close()
	}

	select {
	case <-c.ctx.Done():
		return nil
	case <-time.After(writeTimeout):
		return c.Close()
	}
}

// Done is closed once the connection can no longer deliver frames
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context is cancelled when the connection closes
func (c *Connection) Context() context.Context {
	return c.ctx
}

// SetCredentials binds identity and role once; a repeated set-role may only
// restate the same binding
func (c *Connection) SetCredentials(userID string, role types.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authenticated {
		if c.userID == userID && c.role == role {
			return nil
		}
		return ErrAlreadyAuthenticated
	}

	c.userID = userID
	c.role = role
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetRole() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
