package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxObserverMessage = 4096

// client is one connected observer. writePump owns all writes to conn.
type client struct {
	conn        *websocket.Conn
	remote      string
	connectedAt time.Time
	send        chan []byte
	done        chan struct{}
	once        sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{
		conn:        conn,
		remote:      conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// close disconnects the client once and removes it from the hub. send is
// never closed so that concurrent Publish calls cannot panic.
func (c *client) close(h *Hub, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		h.remove(c, reason)
	})
}

// shutdown sends a close frame before disconnecting.
func (c *client) shutdown(h *Hub) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"),
		time.Now().Add(time.Second))
	c.close(h, "shutdown")
}

func (c *client) writePump(h *Hub) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close(h, "write_error")
				return
			}
			h.metrics.recordSent(len(data))
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(h, "ping_failed")
				return
			}
		}
	}
}

// readPump discards observer frames and detects dead peers through pong
// deadlines.
func (c *client) readPump(h *Hub) {
	pongWait := 2 * h.cfg.PingInterval
	c.conn.SetReadLimit(maxObserverMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			reason := "read_error"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "normal"
			}
			c.close(h, reason)
			return
		}
	}
}
