// Package client is the Go client for the realtime collaboration server.
// It manages the websocket connection lifecycle: dial, authentication,
// reconnection with bounded exponential backoff, and state resync after a
// reconnect.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/protocol"
)

// ErrAuth means the server rejected the credentials. It is fatal: the
// connection manager never retries it, the caller must obtain a new token.
var ErrAuth = errors.New("client: authentication rejected")

// ErrClosed is returned from operations on a connection closed by Close.
var ErrClosed = errors.New("client: connection closed")

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
	defaultMaxRetries  = 10

	writeWait = 10 * time.Second
)

// Options tunes the connection manager. The zero value is usable.
type Options struct {
	// BackoffBase is the delay before the first reconnect attempt.
	BackoffBase time.Duration
	// BackoffMax caps the delay between attempts.
	BackoffMax time.Duration
	// MaxRetries bounds consecutive failed reconnect attempts before the
	// connection gives up and reports the last error via OnError.
	MaxRetries int

	// OnOpen fires after the initial dial and after every successful
	// reconnect. reconnected is false for the initial dial.
	OnOpen func(reconnected bool)
	// OnClose fires when the transport drops. A reconnect may follow.
	OnClose func(err error)
	// OnError fires on fatal errors, including reconnect exhaustion.
	OnError func(err error)
	// OnEvent receives every decoded server frame.
	OnEvent func(eventType protocol.EventType, payload json.RawMessage)
}

func (o Options) withDefaults() Options {
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaultBackoffMax
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// Conn is a managed websocket connection. Methods are safe for concurrent
// use.
type Conn struct {
	endpoint string
	token    string
	opts     Options

	mu sync.Mutex // guards ws and lastJoin
	ws *websocket.Conn
	// lastJoin is replayed after a reconnect so the new session lands back
	// in the same room before resyncing.
	lastJoin *protocol.JoinRoom

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial opens a managed connection. An authentication rejection returns
// ErrAuth immediately; transport errors on the initial dial are returned
// as-is (the reconnect loop only covers drops after a successful dial).
func Dial(ctx context.Context, endpoint, token string, opts Options) (*Conn, error) {
	c := &Conn{
		endpoint: endpoint,
		token:    token,
		opts:     opts.withDefaults(),
		closed:   make(chan struct{}),
	}

	ws, err := c.dialOnce(ctx)
	if err != nil {
		return nil, err
	}
	c.ws = ws

	if c.opts.OnOpen != nil {
		c.opts.OnOpen(false)
	}
	go c.readLoop(ws)
	return c, nil
}

func (c *Conn) dialOnce(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("client: dial %s: %w", c.endpoint, err)
	}
	return ws, nil
}

// Join requests membership in a room. The join is remembered and replayed
// after a reconnect.
func (c *Conn) Join(roomToken string, userID uint) error {
	join := protocol.JoinRoom{RoomToken: roomToken, UserID: userID}
	c.mu.Lock()
	c.lastJoin = &join
	c.mu.Unlock()
	return c.send(protocol.EventJoinRoom, join)
}

// ProposeParameter submits a parameter write against the given base version.
func (c *Conn) ProposeParameter(fieldPath []string, value json.RawMessage, baseVersion uint64) error {
	return c.send(protocol.EventParameterUpdate, protocol.ParameterPropose{
		FieldPath:   fieldPath,
		Value:       value,
		BaseVersion: baseVersion,
	})
}

// ProposeBatch submits several parameter writes in one frame.
func (c *Conn) ProposeBatch(updates []protocol.ParameterPropose) error {
	return c.send(protocol.EventParameterBatch, protocol.ParameterBatch{Updates: updates})
}

// SetPresence updates the caller's status and optional activity label.
func (c *Conn) SetPresence(status domain.PresenceStatus, activityLabel string) error {
	return c.send(protocol.EventPresenceUpdate, protocol.PresenceSet{
		Status:        status,
		ActivityLabel: activityLabel,
	})
}

// MoveCursor reports the caller's cursor position.
func (c *Conn) MoveCursor(pos domain.Cursor) error {
	return c.send(protocol.EventCursorMove, protocol.CursorMove{Position: pos})
}

// SendChat posts a chat message to the room.
func (c *Conn) SendChat(message string) error {
	return c.send(protocol.EventChatMessage, protocol.ChatMessage{Message: message})
}

// RequestSync asks the server for the authoritative room state.
func (c *Conn) RequestSync() error {
	return c.send(protocol.EventSyncRequest, protocol.SyncRequest{})
}

// Close shuts the connection down permanently; no reconnect follows.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			deadline := time.Now().Add(writeWait)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			err = ws.Close()
		}
	})
	return err
}

func (c *Conn) send(eventType protocol.EventType, payload interface{}) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", eventType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("client: not connected")
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			if c.opts.OnClose != nil {
				c.opts.OnClose(err)
			}
			c.reconnect()
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logrus.WithError(err).Warn("client: dropping malformed server frame")
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(env.Type, env.Payload)
		}
	}
}

// reconnect dials with bounded exponential backoff. After a successful
// reconnect the last join is replayed and a sync:request sent so the room
// state is authoritative before the caller resumes.
func (c *Conn) reconnect() {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		delay := backoffDelay(attempt, c.opts.BackoffBase, c.opts.BackoffMax)
		select {
		case <-c.closed:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ws, err := c.dialOnce(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, ErrAuth) {
				// A new token is required; retrying cannot help.
				if c.opts.OnError != nil {
					c.opts.OnError(err)
				}
				return
			}
			lastErr = err
			logrus.WithError(err).WithField("attempt", attempt+1).Debug("client: reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		c.ws = ws
		join := c.lastJoin
		c.mu.Unlock()

		if c.opts.OnOpen != nil {
			c.opts.OnOpen(true)
		}
		go c.readLoop(ws)

		if join != nil {
			if err := c.send(protocol.EventJoinRoom, *join); err != nil {
				logrus.WithError(err).Warn("client: failed to replay join after reconnect")
			}
			if err := c.send(protocol.EventSyncRequest, protocol.SyncRequest{}); err != nil {
				logrus.WithError(err).Warn("client: failed to request sync after reconnect")
			}
		}
		return
	}

	if c.opts.OnError != nil {
		c.opts.OnError(fmt.Errorf("client: reconnect attempts exhausted: %w", lastErr))
	}
}
