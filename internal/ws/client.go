package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ember-chat/internal/identity"
)

// Client is one subscriber connection. Outbound events are queued on a
// bounded channel; the write pump drains it so a slow peer never stalls
// delivery to other subscribers.
type Client struct {
	ID       string
	Identity identity.Identity
	Kind     string

	RequestID   string
	TraceID     string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	room string

	closeOnce sync.Once
	closed    chan struct{}

	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewClient wraps a websocket connection. queueSize bounds the outbound
// queue; overflow is treated as unrecoverable backpressure by the hub.
func NewClient(conn *websocket.Conn, id identity.Identity, kind string, queueSize int, writeTimeout, pingInterval time.Duration) *Client {
	return &Client{
		ID:           newConnID(),
		Identity:     id,
		Kind:         kind,
		ConnectedAt:  time.Now(),
		conn:         conn,
		send:         make(chan []byte, queueSize),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// enqueue queues a payload without blocking. Reports false when the queue is
// full or the client is closed.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close signals the pumps to stop and closes the underlying connection.
// Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Closed reports whether the client has been closed.
func (c *Client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Room returns the client's current room channel, or "".
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) swapRoom(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.room
	c.room = name
	return previous
}

// writePump drains the outbound queue to the connection and keeps it alive
// with pings. Returns when the client is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("websocket write error conn=%s: %v", c.ID, err)
				}
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}
