package hub

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSClient adapts a websocket connection to the Subscriber interface.
// Writes are serialized; gorilla connections do not allow concurrent writers.
type WSClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{conn: conn}
}

func (c *WSClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *WSClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteJSON(msg)
}

func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
