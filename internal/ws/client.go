package ws

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// Client is one connected socket. Key is the user id for authenticated
// connections, the anonymous session id otherwise.
type Client struct {
	Key       string
	SessionID string
	Role      string
	conn      *websocket.Conn
	Send      chan []byte
}

func NewClient(conn *websocket.Conn, key, sessionID, role string) *Client {
	return &Client{
		Key:       key,
		SessionID: sessionID,
		Role:      role,
		conn:      conn,
		Send:      make(chan []byte, 256),
	}
}

// writePump drains the send channel and keeps the connection alive with pings.
func (c *Client) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.Send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Close() {
	close(c.Send)
}
