// Package hub owns the live side of the service: websocket sessions, room
// membership and the per-room workers that serialize every mutation against
// a room.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/protocol"
	"harmonic-universe/internal/repository"
	"harmonic-universe/internal/service"
)

// Config tunes the hub's queues and timers.
type Config struct {
	// RoomQueueSize bounds each room's inbound queue; a full queue holds
	// the sender instead of dropping.
	RoomQueueSize int
	// BusyWarnAfter is how long an enqueue may wait before the session is
	// warned with a server_busy frame.
	BusyWarnAfter time.Duration
	// RoomIdleTTL is how long an empty room's worker is kept before it is
	// retired.
	RoomIdleTTL time.Duration
	// Presence carries the presence-tracker timings.
	Presence service.PresenceConfig
}

// WithDefaults fills unset values.
func (c Config) WithDefaults() Config {
	if c.RoomQueueSize <= 0 {
		c.RoomQueueSize = 256
	}
	if c.BusyWarnAfter <= 0 {
		c.BusyWarnAfter = time.Second
	}
	if c.RoomIdleTTL <= 0 {
		c.RoomIdleTTL = 5 * time.Minute
	}
	c.Presence = c.Presence.WithDefaults()
	return c
}

// Hub routes sessions to room workers. Rooms are fully independent: each
// worker serializes its own mutations, different rooms run in parallel.
type Hub struct {
	cfg Config

	mu       sync.RWMutex
	workers  map[uint]*roomWorker
	attached map[*Client]*roomWorker
	joining  map[*Client]bool
	closed   bool

	roomService *service.RoomService
	activity    *service.ActivityService
	syncPersist *service.SyncPersistence
	stateRepo   repository.StateRepository
}

// NewHub wires the hub. All dependencies are required.
func NewHub(cfg Config, roomService *service.RoomService, activity *service.ActivityService, syncPersist *service.SyncPersistence, stateRepo repository.StateRepository) *Hub {
	if roomService == nil || activity == nil || syncPersist == nil || stateRepo == nil {
		panic("all dependencies must be non-nil for Hub")
	}
	return &Hub{
		cfg:         cfg.WithDefaults(),
		workers:     make(map[uint]*roomWorker),
		attached:    make(map[*Client]*roomWorker),
		joining:     make(map[*Client]bool),
		roomService: roomService,
		activity:    activity,
		syncPersist: syncPersist,
		stateRepo:   stateRepo,
	}
}

// Dispatch routes one decoded inbound event. join_room is resolved here (in
// the session's read goroutine, since it hits the database); everything else
// is enqueued to the session's room worker.
func (h *Hub) Dispatch(c *Client, event protocol.ClientEvent) {
	if join, ok := event.(protocol.JoinRoom); ok {
		// A session belongs to at most one room for its lifetime. A second
		// join_room, for this room or any other, is dropped; re-running the
		// registration would double-count the session's membership.
		h.mu.Lock()
		if h.attached[c] != nil || h.joining[c] {
			h.mu.Unlock()
			c.logCtx().Debug("Ignoring join_room from session already in a room")
			return
		}
		h.joining[c] = true
		h.mu.Unlock()
		h.join(c, join)
		return
	}

	h.mu.RLock()
	w := h.attached[c]
	h.mu.RUnlock()
	if w == nil {
		c.logCtx().WithField("event_type", eventName(event)).Debug("Dropping event from session not attached to a room")
		return
	}
	w.enqueue(workerMsg{kind: msgEvent, client: c, event: event})
}

// join validates the invite token and hands the session to the room's
// worker. Capacity is enforced by the worker so the check and the membership
// mutation are one serialized step.
func (h *Hub) join(c *Client, ev protocol.JoinRoom) {
	logCtx := c.logCtx()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	room, err := h.roomService.ResolveJoin(ctx, c.UserID(), ev.RoomToken)
	if err != nil {
		kind := protocol.RoomErrorInvalidToken
		msg := "invalid or expired room token"
		if !errors.Is(err, service.ErrInvalidToken) {
			msg = "could not validate room token"
		}
		logCtx.WithError(err).Warn("Room join rejected")
		h.clearJoining(c)
		c.sendEvent(protocol.EventRoomError, protocol.RoomError{Type: kind, Message: msg})
		return
	}

	w, err := h.workerFor(room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to start room worker")
		h.clearJoining(c)
		c.sendEvent(protocol.EventRoomError, protocol.RoomError{
			Type:    protocol.RoomErrorInvalidToken,
			Message: "room is unavailable",
		})
		return
	}
	w.enqueue(workerMsg{kind: msgRegister, client: c})
}

// Leave detaches a session. Called from the read pump on disconnect; the
// unregister is queued after any operations the session already submitted,
// so a disconnecting user's last edit still lands and broadcasts.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	w := h.attached[c]
	delete(h.attached, c)
	delete(h.joining, c)
	h.mu.Unlock()
	if w != nil {
		w.enqueue(workerMsg{kind: msgUnregister, client: c})
	}
}

// MemberCount reports the live session count of a room. Zero when the room
// has no worker.
func (h *Hub) MemberCount(roomID uint) int {
	h.mu.RLock()
	w := h.workers[roomID]
	h.mu.RUnlock()
	if w == nil {
		return 0
	}
	return w.liveCount()
}

// Shutdown stops every room worker and waits for their queues to drain or
// the context to expire.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	workers := make([]*roomWorker, 0, len(h.workers))
	for _, w := range h.workers {
		workers = append(workers, w)
	}
	h.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			logrus.WithField("room_id", w.room.ID).Warn("Timed out waiting for room worker to stop")
			return
		}
	}
	logrus.Info("All room workers stopped")
}

// workerFor returns the live worker for a room, starting one if needed. The
// first join of a room warm-starts its parameter state.
func (h *Hub) workerFor(roomID uint) (*roomWorker, error) {
	h.mu.RLock()
	w, ok := h.workers[roomID]
	h.mu.RUnlock()
	if ok {
		return w, nil
	}

	// Load outside the lock; losing the race below just wastes the load.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	room, err := h.roomService.FindRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	seed, err := h.syncPersist.WarmStart(ctx, roomID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, service.ErrInternalServer
	}
	if w, ok := h.workers[roomID]; ok {
		return w, nil
	}
	w = newRoomWorker(h, *room, seed)
	h.workers[roomID] = w
	go w.run()
	logrus.WithField("room_id", roomID).Info("Room worker started")
	return w, nil
}

// setAttached is called by a worker once a session is registered and live.
func (h *Hub) setAttached(c *Client, w *roomWorker) {
	h.mu.Lock()
	h.attached[c] = w
	delete(h.joining, c)
	h.mu.Unlock()
}

// clearJoining releases a session's pending-join slot after a failed join so
// the session may retry with another token.
func (h *Hub) clearJoining(c *Client) {
	h.mu.Lock()
	delete(h.joining, c)
	h.mu.Unlock()
}

// retireWorker removes an idle worker. Called by the worker itself as it
// exits. The stop channel is closed only after the worker is out of the map,
// then the queue is drained one last time: a join that raced the final sweep
// is replayed through a fresh worker instead of being lost.
func (h *Hub) retireWorker(w *roomWorker) {
	h.mu.Lock()
	if h.workers[w.room.ID] == w {
		delete(h.workers, w.room.ID)
	}
	h.mu.Unlock()
	w.stop()

	for {
		select {
		case msg := <-w.queue:
			h.redispatch(w.room.ID, msg)
		default:
			logrus.WithField("room_id", w.room.ID).Info("Room worker retired")
			return
		}
	}
}

// redispatch replays a message that raced into a stopped worker's queue. A
// register restarts the room's worker; anything else belonged to a session
// the stopped worker had already detached and is dropped.
func (h *Hub) redispatch(roomID uint, msg workerMsg) {
	if msg.kind != msgRegister {
		return
	}
	w, err := h.workerFor(roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to restart room worker for raced join")
		h.clearJoining(msg.client)
		msg.client.sendEvent(protocol.EventRoomError, protocol.RoomError{
			Type:    protocol.RoomErrorInvalidToken,
			Message: "room is unavailable",
		})
		return
	}
	w.enqueue(msg)
}

func eventName(event protocol.ClientEvent) string {
	switch event.(type) {
	case protocol.JoinRoom:
		return string(protocol.EventJoinRoom)
	case protocol.ParameterPropose:
		return string(protocol.EventParameterUpdate)
	case protocol.ParameterBatch:
		return string(protocol.EventParameterBatch)
	case protocol.PresenceSet:
		return string(protocol.EventPresenceUpdate)
	case protocol.CursorMove:
		return string(protocol.EventCursorMove)
	case protocol.ChatMessage:
		return string(protocol.EventChatMessage)
	case protocol.SyncRequest:
		return string(protocol.EventSyncRequest)
	}
	return "unknown"
}
