package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is one authenticated dashboard or extension socket. All writes
// go through a single writer goroutine.
type Connection struct {
	id        string
	principal Principal
	conn      *websocket.Conn
	send      chan []byte

	writeTimeout time.Duration
	pingInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConnection(id string, ws *websocket.Conn, p Principal, opts Options) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		principal:    p,
		conn:         ws,
		send:         make(chan []byte, opts.SendBuffer),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Principal returns who opened the connection.
func (c *Connection) Principal() Principal { return c.principal }

// Enqueue queues a frame without blocking. It reports false when the
// connection is closed or its buffer is full, in which case the frame is
// dropped.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(c.writeTimeout))
			return
		}
	}
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Close stops the writer, which sends a close frame and closes the socket.
// Safe to call repeatedly.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}
