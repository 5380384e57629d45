package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/protocol"
	"harmonic-universe/internal/service"
)

type msgKind int

const (
	msgRegister msgKind = iota
	msgUnregister
	msgEvent
)

type workerMsg struct {
	kind   msgKind
	client *Client
	event  protocol.ClientEvent
}

// opTimeout bounds the I/O a worker performs for one operation.
const opTimeout = 3 * time.Second

// roomWorker serializes every mutation against one room. Room membership,
// presence and parameter state are owned exclusively by this goroutine; the
// rest of the process talks to it through the bounded queue.
type roomWorker struct {
	hub  *Hub
	room domain.Room

	queue    chan workerMsg
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	members      map[*Client]bool
	userSessions map[uint]int
	presence     *service.PresenceTracker
	params       *service.ParameterSynchronizer

	live       atomic.Int32
	emptySince time.Time
	lastTouch  time.Time
}

func newRoomWorker(h *Hub, room domain.Room, seed []domain.ParameterState) *roomWorker {
	return &roomWorker{
		hub:          h,
		room:         room,
		queue:        make(chan workerMsg, h.cfg.RoomQueueSize),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		members:      make(map[*Client]bool),
		userSessions: make(map[uint]int),
		presence:     service.NewPresenceTracker(h.cfg.Presence),
		params:       service.NewParameterSynchronizer(room.ID, seed),
		emptySince:   time.Now(),
	}
}

// enqueue hands a message to the worker. A full queue holds the caller
// instead of dropping; when the wait exceeds the configured threshold the
// session is warned once with server_busy and the caller keeps waiting.
func (w *roomWorker) enqueue(msg workerMsg) {
	select {
	case w.queue <- msg:
		return
	case <-w.stopCh:
		w.hub.redispatch(w.room.ID, msg)
		return
	default:
	}

	timer := time.NewTimer(w.hub.cfg.BusyWarnAfter)
	defer timer.Stop()
	select {
	case w.queue <- msg:
		return
	case <-w.stopCh:
		w.hub.redispatch(w.room.ID, msg)
		return
	case <-timer.C:
		if msg.client != nil {
			msg.client.sendEvent(protocol.EventServerBusy, protocol.ServerBusy{
				Message: "room is busy, your request is queued",
			})
		}
		w.logCtx().Warn("Room queue saturated, holding inbound message")
	}

	select {
	case w.queue <- msg:
	case <-w.stopCh:
		w.hub.redispatch(w.room.ID, msg)
	}
}

func (w *roomWorker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *roomWorker) liveCount() int {
	return int(w.live.Load())
}

// run is the worker loop. One message or sweep at a time; an error in one
// operation never halts the queue.
func (w *roomWorker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.hub.cfg.Presence.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-w.queue:
			w.handle(msg)
		case <-ticker.C:
			if w.sweep(time.Now().UTC()) {
				w.hub.retireWorker(w)
				return
			}
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

// drain finishes operations that were already queued when shutdown began.
func (w *roomWorker) drain() {
	for {
		select {
		case msg := <-w.queue:
			w.handle(msg)
		default:
			for c := range w.members {
				w.detach(c)
			}
			return
		}
	}
}

func (w *roomWorker) handle(msg workerMsg) {
	switch msg.kind {
	case msgRegister:
		w.register(msg.client)
	case msgUnregister:
		w.unregister(msg.client)
	case msgEvent:
		w.handleEvent(msg.client, msg.event)
	}
}

// register attaches a session. Capacity is checked and the full room state
// replayed before the session is marked live, so a new member never sees a
// partial state and never misses a broadcast that follows its snapshot.
func (w *roomWorker) register(c *Client) {
	logCtx := w.logCtx().WithFields(logrus.Fields{
		"session_id": c.SessionID(),
		"user_id":    c.UserID(),
	})

	if w.members[c] {
		logCtx.Debug("Ignoring duplicate registration for attached session")
		return
	}
	if len(w.members) >= w.room.Capacity {
		logCtx.Warn("Join rejected: room at capacity")
		w.hub.clearJoining(c)
		c.sendEvent(protocol.EventRoomError, protocol.RoomError{
			Type:    protocol.RoomErrorCapacity,
			Message: "room is at capacity",
		})
		return
	}

	now := time.Now().UTC()
	c.sendEvent(protocol.EventRoomJoined, protocol.RoomJoined{
		Message:           "joined " + w.room.Name,
		RoomID:            w.room.ID,
		HeartbeatSeconds:  int(w.hub.cfg.Presence.HeartbeatInterval / time.Second),
		PresenceSnapshot:  w.presence.Snapshot(),
		ParameterSnapshot: w.params.Snapshot(),
	})

	w.members[c] = true
	w.userSessions[c.UserID()]++
	w.live.Store(int32(len(w.members)))
	w.emptySince = time.Time{}
	w.hub.setAttached(c, w)

	rec := w.presence.Join(c.UserID(), c.Username(), now)
	w.broadcast(protocol.EventPresenceUpdate, presencePayload(rec), c)

	w.appendActivity(domain.ActivityEntry{
		RoomID:   w.room.ID,
		UserID:   c.UserID(),
		Username: c.Username(),
		Action:   domain.ActivityJoined,
	}, now)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	w.hub.roomService.TouchRoom(ctx, w.room.ID)
	cancel()
	w.lastTouch = now

	logCtx.Info("Session joined room")
}

func (w *roomWorker) unregister(c *Client) {
	if !w.members[c] {
		return
	}
	w.detach(c)

	now := time.Now().UTC()
	if w.userSessions[c.UserID()] == 0 {
		// The grace period starts now; presence flips to offline only if
		// the user does not reconnect in time.
		w.presence.Detach(c.UserID(), now)
	}
	w.appendActivity(domain.ActivityEntry{
		RoomID:   w.room.ID,
		UserID:   c.UserID(),
		Username: c.Username(),
		Action:   domain.ActivityLeft,
	}, now)

	if len(w.members) == 0 {
		w.emptySince = now
	}
	w.logCtx().WithField("user_id", c.UserID()).Info("Session left room")
}

// detach removes the session from the member set and closes its send
// channel, which ends its write pump.
func (w *roomWorker) detach(c *Client) {
	delete(w.members, c)
	n := w.userSessions[c.UserID()] - 1
	if n <= 0 {
		delete(w.userSessions, c.UserID())
	} else {
		w.userSessions[c.UserID()] = n
	}
	w.live.Store(int32(len(w.members)))
	c.shutdown()
}

func (w *roomWorker) handleEvent(c *Client, event protocol.ClientEvent) {
	if !w.members[c] {
		// The session disconnected after enqueueing; its operations were
		// already applied in order before the unregister, so anything
		// left here belongs to a session that never registered.
		return
	}
	now := time.Now().UTC()

	switch ev := event.(type) {
	case protocol.ParameterPropose:
		w.wake(c, now)
		w.applyPropose(c, ev, now)

	case protocol.ParameterBatch:
		w.wake(c, now)
		w.applyBatch(c, ev, now)

	case protocol.PresenceSet:
		w.applyPresenceSet(c, ev, now)

	case protocol.CursorMove:
		prev, _ := w.presence.Record(c.UserID())
		rec, ok := w.presence.RecordCursor(c.UserID(), ev.Position, now)
		if !ok {
			return
		}
		w.broadcast(protocol.EventCursorMove, protocol.CursorBroadcast{
			UserID:   c.UserID(),
			Position: ev.Position,
		}, c)
		if prev.Status != rec.Status {
			w.broadcast(protocol.EventPresenceUpdate, presencePayload(rec), c)
		}

	case protocol.ChatMessage:
		w.wake(c, now)
		entry := service.StampReceipt(domain.ActivityEntry{
			RoomID:   w.room.ID,
			UserID:   c.UserID(),
			Username: c.Username(),
			Action:   domain.ActivityChat,
			Message:  ev.Message,
		}, now)
		w.appendActivity(entry, now)
		// Chat fans out to every member, author included, in append
		// order; the author needs the server timestamp.
		w.broadcast(protocol.EventChatMessage, protocol.ChatBroadcast{
			UserID:    entry.UserID,
			Username:  entry.Username,
			Message:   entry.Message,
			Timestamp: entry.Timestamp,
		}, nil)

	case protocol.SyncRequest:
		c.sendEvent(protocol.EventSyncState, protocol.SyncState{
			PresenceSnapshot:  w.presence.Snapshot(),
			ParameterSnapshot: w.params.Snapshot(),
		})
	}
}

func (w *roomWorker) applyPropose(c *Client, ev protocol.ParameterPropose, now time.Time) {
	outcome := w.params.Propose(ev.FieldPath, ev.Value, ev.BaseVersion, c.UserID(), now)
	if !outcome.Accepted {
		// Never pick a winner: hand both sides back to the author.
		c.sendEvent(protocol.EventConflict, protocol.Conflict{
			FieldPath:     ev.FieldPath,
			LocalValue:    outcome.Proposed,
			RemoteValue:   outcome.State.Value,
			RemoteVersion: outcome.State.Version,
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	w.hub.syncPersist.RecordAccepted(ctx, outcome.State)
	cancel()

	// The author already applied the value locally; it gets an ack, the
	// rest of the room gets the broadcast.
	c.sendEvent(protocol.EventParameterAck, protocol.ParameterAck{
		FieldPath: ev.FieldPath,
		Version:   outcome.State.Version,
	})
	w.broadcast(protocol.EventParameterUpdate, protocol.ParameterBroadcast{
		FieldPath: ev.FieldPath,
		Value:     outcome.State.Value,
		Version:   outcome.State.Version,
		Author:    c.UserID(),
	}, c)

	w.appendActivity(domain.ActivityEntry{
		RoomID:   w.room.ID,
		UserID:   c.UserID(),
		Username: c.Username(),
		Action:   domain.ActivityEdited,
		Target:   outcome.State.FieldPath,
	}, now)
}

func (w *roomWorker) applyBatch(c *Client, ev protocol.ParameterBatch, now time.Time) {
	proposals := make([]service.BatchProposal, 0, len(ev.Updates))
	for _, u := range ev.Updates {
		proposals = append(proposals, service.BatchProposal{
			FieldPath:   u.FieldPath,
			Value:       u.Value,
			BaseVersion: u.BaseVersion,
		})
	}
	accepted, conflicts := w.params.ProposeBatch(proposals, c.UserID(), now)

	result := protocol.BatchResult{}
	for _, outcome := range accepted {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		w.hub.syncPersist.RecordAccepted(ctx, outcome.State)
		cancel()

		path := outcome.State.PathSegments()
		result.Accepted = append(result.Accepted, protocol.ParameterAck{
			FieldPath: path,
			Version:   outcome.State.Version,
		})
		w.broadcast(protocol.EventParameterUpdate, protocol.ParameterBroadcast{
			FieldPath: path,
			Value:     outcome.State.Value,
			Version:   outcome.State.Version,
			Author:    c.UserID(),
		}, c)
	}
	for _, outcome := range conflicts {
		result.Conflicts = append(result.Conflicts, protocol.Conflict{
			FieldPath:     outcome.State.PathSegments(),
			LocalValue:    outcome.Proposed,
			RemoteValue:   outcome.State.Value,
			RemoteVersion: outcome.State.Version,
		})
	}
	c.sendEvent(protocol.EventBatchResult, result)

	if len(accepted) > 0 {
		w.appendActivity(domain.ActivityEntry{
			RoomID:   w.room.ID,
			UserID:   c.UserID(),
			Username: c.Username(),
			Action:   domain.ActivityEdited,
			Target:   domain.JoinFieldPath(accepted[0].State.PathSegments()),
		}, now)
	}
}

func (w *roomWorker) applyPresenceSet(c *Client, ev protocol.PresenceSet, now time.Time) {
	var (
		rec domain.PresenceRecord
		ok  bool
	)
	if ev.Status != "" && ev.Status != domain.StatusOnline {
		rec, ok = w.presence.SetStatus(c.UserID(), ev.Status, now)
		if ok && ev.ActivityLabel != "" {
			rec, ok = w.presence.RecordActivity(c.UserID(), ev.ActivityLabel, now)
		}
	} else {
		rec, ok = w.presence.RecordActivity(c.UserID(), ev.ActivityLabel, now)
	}
	if !ok {
		return
	}
	w.broadcast(protocol.EventPresenceUpdate, presencePayload(rec), c)
}

// wake counts any inbound event as activity; a resulting status change is
// broadcast, a plain LastActive bump is not.
func (w *roomWorker) wake(c *Client, now time.Time) {
	prev, _ := w.presence.Record(c.UserID())
	rec, ok := w.presence.RecordActivity(c.UserID(), "", now)
	if ok && prev.Status != rec.Status {
		w.broadcast(protocol.EventPresenceUpdate, presencePayload(rec), c)
	}
}

// sweep applies presence timeouts and decides whether the worker should
// retire. Returns true when the room has been empty past its idle TTL.
func (w *roomWorker) sweep(now time.Time) bool {
	for _, tr := range w.presence.Sweep(now) {
		w.broadcast(protocol.EventPresenceUpdate, presencePayload(tr.Record), nil)
		if tr.To == domain.StatusOffline {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			err := w.hub.stateRepo.SetLastSeen(ctx, w.room.ID, tr.Record.UserID, tr.Record.LastActive, w.hub.cfg.Presence.HistoryTTL)
			cancel()
			if err != nil {
				w.logCtx().WithField("user_id", tr.Record.UserID).WithError(err).Warn("Failed to persist last-seen record")
			}
		}
	}

	if len(w.members) > 0 && now.Sub(w.lastTouch) >= time.Minute {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		w.hub.roomService.TouchRoom(ctx, w.room.ID)
		cancel()
		w.lastTouch = now
	}

	return len(w.members) == 0 && !w.emptySince.IsZero() &&
		now.Sub(w.emptySince) >= w.hub.cfg.RoomIdleTTL
}

// broadcast fans one encoded frame out to every member except the excluded
// session. The payload is marshalled once, from a snapshot taken on this
// goroutine, so later mutations cannot tear it.
func (w *roomWorker) broadcast(t protocol.EventType, payload interface{}, except *Client) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		w.logCtx().WithField("event", t).WithError(err).Error("Failed to encode broadcast")
		return
	}
	for c := range w.members {
		if c == except {
			continue
		}
		select {
		case c.send <- data:
		default:
			w.logCtx().WithFields(logrus.Fields{
				"event":            t,
				"receiver_user_id": c.UserID(),
			}).Warn("Client send buffer full during broadcast, skipping client")
		}
	}
}

func (w *roomWorker) appendActivity(entry domain.ActivityEntry, now time.Time) {
	entry = service.StampReceipt(entry, now)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := w.hub.activity.Append(ctx, entry); err != nil {
		w.logCtx().WithField("action", entry.Action).WithError(err).Error("Failed to append activity entry")
	}
}

func presencePayload(rec domain.PresenceRecord) protocol.PresenceBroadcast {
	return protocol.PresenceBroadcast{
		UserID:        rec.UserID,
		Username:      rec.Username,
		Status:        rec.Status,
		Cursor:        rec.Cursor,
		ActivityLabel: rec.ActivityLabel,
	}
}

func (w *roomWorker) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"component": "room_worker",
		"room_id":   w.room.ID,
	})
}
