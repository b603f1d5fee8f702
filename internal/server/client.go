package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient is one WebSocket connection as seen by the hub. Writes are
// serialized and bounded by a deadline so one hung peer cannot stall a publish.
type wsClient struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, writeTimeout time.Duration) *wsClient {
	return &wsClient{id: id, conn: conn, writeTimeout: writeTimeout}
}

func (c *wsClient) ID() string { return c.id }

// Send writes msg as one text frame. A failed write closes the connection,
// which ends the read loop and with it the session.
func (c *wsClient) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.close()
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.close()
		return err
	}
	return nil
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// shutdown sends a close frame before dropping the connection.
func (c *wsClient) shutdown() {
	c.mu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	c.mu.Unlock()
	c.close()
}
