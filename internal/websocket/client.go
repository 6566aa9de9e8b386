package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/taranggg/lms-sub000/internal/middleware"
)

// Client is one live connection.
type Client struct {
	ID         string
	UserID     string
	Role       string
	RemoteAddr string
	UserAgent  string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// guarded by hub.mu
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, claims *middleware.Claims) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: claims.UserID,
		Role:   claims.Role,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Emit queues an event for this connection only.
func (c *Client) Emit(event string, payload interface{}) bool {
	data, err := encodeEvent(event, payload)
	if err != nil {
		slog.Error("Failed to encode event", "conn_id", c.ID, "event", event, "error", err)
		return false
	}
	if !c.enqueue(data) {
		c.Close()
		return false
	}
	return true
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
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

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer c.hub.unregister(c)

	pongWait := 2 * c.hub.opts.PingInterval
	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read failed", "conn_id", c.ID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		// Events of one connection run in arrival order.
		c.hub.Dispatch(context.Background(), c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeTimeout := c.hub.opts.WriteTimeout
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("WebSocket write failed", "conn_id", c.ID, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}
