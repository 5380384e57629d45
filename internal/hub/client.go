package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound buffer per client.
	sendBufferSize = 256
)

// Client is one live websocket session. A reconnect produces a new Client
// with a new session id.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session domain.Session
	send    chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, session domain.Session) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		send:    make(chan []byte, sendBufferSize),
		closed:  make(chan struct{}),
	}
}

// Run starts the read and write pumps. It returns immediately; the pumps own
// the connection from here on.
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) SessionID() string { return c.session.ID }
func (c *Client) UserID() uint      { return c.session.UserID }
func (c *Client) Username() string  { return c.session.Username }

// CloseConn force-closes the underlying connection.
func (c *Client) CloseConn() { c.conn.Close() }

// shutdown tells the write pump to finish. Safe to call from any goroutine,
// any number of times; the send channel itself is never closed so concurrent
// senders cannot race it.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// sendEvent encodes and queues one outbound frame. The send is non-blocking:
// a slow consumer loses frames rather than stalling the caller, and its next
// sync:request repairs any gap.
func (c *Client) sendEvent(t protocol.EventType, payload interface{}) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		c.logCtx().WithError(err).Error("Failed to encode outbound event")
		return
	}
	select {
	case <-c.closed:
	case c.send <- data:
	default:
		c.logCtx().WithField("event", t).Warn("Client send buffer full, dropping outbound event")
	}
}

// readPump pumps inbound frames through the protocol decoder into the hub.
// It runs in its own goroutine; a disconnect ends only this loop, operations
// already handed to a room worker still complete.
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
		c.logCtx().Info("Read pump exited, session closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logCtx().Debugf("Ignoring non-text message type %d", messageType)
			continue
		}

		event, err := protocol.DecodeClientEvent(message)
		if err != nil {
			// A single malformed frame is dropped and logged; the
			// session stays up.
			c.logCtx().WithError(err).Warn("Dropping malformed client frame")
			continue
		}
		c.hub.Dispatch(c, event)
	}
}

// writePump pumps the send channel to the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logCtx().Debug("Write pump exited")
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-c.closed:
			// Unregistered by the room worker.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"session_id": c.session.ID,
		"user_id":    c.session.UserID,
	})
}
