package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/protocol"
	"harmonic-universe/internal/repository/mocks"
	"harmonic-universe/internal/service"
)

// testHubConfig shrinks the timers so grace and sweep behavior is observable
// within a test run.
func testHubConfig() Config {
	return Config{
		RoomQueueSize: 64,
		BusyWarnAfter: 25 * time.Millisecond,
		RoomIdleTTL:   time.Minute,
		Presence: service.PresenceConfig{
			InactivityToAway:   time.Hour,
			OfflineGracePeriod: 80 * time.Millisecond,
			HeartbeatInterval:  30 * time.Second,
			SweepInterval:      20 * time.Millisecond,
			HistoryTTL:         time.Hour,
		},
	}
}

type hubFixture struct {
	hub      *Hub
	room     domain.Room
	roomRepo *mocks.RoomRepository
}

func newHubFixture(t *testing.T, cfg Config, room domain.Room) *hubFixture {
	t.Helper()

	roomRepo := new(mocks.RoomRepository)
	activityRepo := new(mocks.ActivityRepository)
	paramRepo := new(mocks.ParameterRepository)
	stateRepo := new(mocks.StateRepository)
	enqueuer := new(mocks.TaskEnqueuer)

	roomRepo.On("FindByInviteToken", mock.Anything, room.InviteToken).Return(&room, nil)
	roomRepo.On("FindByID", mock.Anything, room.ID).Return(&room, nil)
	roomRepo.On("TouchLastActive", mock.Anything, room.ID, mock.Anything).Return(nil)
	stateRepo.On("LoadParameters", mock.Anything, room.ID).Return(nil, nil)
	paramRepo.On("LoadAll", mock.Anything, room.ID).Return(nil, nil)
	stateRepo.On("PushActivity", mock.Anything, room.ID, mock.Anything).Return(nil)
	stateRepo.On("MirrorParameter", mock.Anything, room.ID, mock.Anything).Return(nil)
	stateRepo.On("SetLastSeen", mock.Anything, room.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	enqueuer.On("EnqueueContext", mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil)

	h := NewHub(cfg,
		service.NewRoomService(roomRepo),
		service.NewActivityService(stateRepo, activityRepo, enqueuer),
		service.NewSyncPersistence(stateRepo, paramRepo, enqueuer),
		stateRepo,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})

	return &hubFixture{hub: h, room: room, roomRepo: roomRepo}
}

// newSession builds a client without a live connection; frames end up in its
// send channel where the test reads them.
func (f *hubFixture) newSession(userID uint, username string) *Client {
	return NewClient(f.hub, nil, domain.Session{
		ID:       username + "-session",
		UserID:   userID,
		Username: username,
		State:    domain.SessionOpen,
	})
}

func (f *hubFixture) join(t *testing.T, userID uint, username string) *Client {
	t.Helper()
	c := f.newSession(userID, username)
	f.hub.Dispatch(c, protocol.JoinRoom{RoomToken: f.room.InviteToken, UserID: userID})
	awaitFrame(t, c, protocol.EventRoomJoined)
	f.waitAttached(t, c)
	return c
}

// waitAttached blocks until the worker has marked the session live; the
// snapshot frame is queued just before that, so a test that only read the
// frame could race the attachment.
func (f *hubFixture) waitAttached(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.hub.mu.RLock()
		_, ok := f.hub.attached[c]
		f.hub.mu.RUnlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("session never became attached")
}

// awaitFrame reads the client's outbound frames until one of the wanted type
// arrives, failing the test on timeout.
func awaitFrame(t *testing.T, c *Client, want protocol.EventType) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.send:
			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			if env.Type == want {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", want)
		}
	}
}

func nextFrame(t *testing.T, c *Client) protocol.Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return protocol.Envelope{}
	}
}

func assertNoFrame(t *testing.T, c *Client, within time.Duration) {
	t.Helper()
	select {
	case data := <-c.send:
		var env protocol.Envelope
		_ = json.Unmarshal(data, &env)
		t.Fatalf("unexpected %s frame", env.Type)
	case <-time.After(within):
	}
}

// awaitPresence drains presence updates until the given user reaches the
// given status.
func awaitPresence(t *testing.T, c *Client, userID uint, status domain.PresenceStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.send:
			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			if env.Type != protocol.EventPresenceUpdate {
				continue
			}
			var p protocol.PresenceBroadcast
			require.NoError(t, json.Unmarshal(env.Payload, &p))
			if p.UserID == userID && p.Status == status {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for user %d to reach status %s", userID, status)
		}
	}
}

func TestHub_JoinReplaysStateAndAdvertisesHeartbeat(t *testing.T) {
	room := domain.Room{ID: 1, Name: "nebula", InviteToken: "NEBULA01", Capacity: 8}
	f := newHubFixture(t, testHubConfig(), room)

	ada := f.newSession(1, "ada")
	f.hub.Dispatch(ada, protocol.JoinRoom{RoomToken: room.InviteToken, UserID: 1})

	env := awaitFrame(t, ada, protocol.EventRoomJoined)
	var joined protocol.RoomJoined
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	assert.Equal(t, room.ID, joined.RoomID)
	assert.Equal(t, 30, joined.HeartbeatSeconds)
	assert.Empty(t, joined.PresenceSnapshot, "first member of a fresh room sees nobody")
	assert.Empty(t, joined.ParameterSnapshot)
	f.waitAttached(t, ada)

	f.hub.Dispatch(ada, protocol.ParameterPropose{
		FieldPath: []string{"physics", "gravity"},
		Value:     json.RawMessage(`9.81`),
	})
	awaitFrame(t, ada, protocol.EventParameterAck)

	// The second member's snapshot already carries the accepted write and
	// the first member's presence, before any later broadcast can arrive.
	grace := f.newSession(2, "grace")
	f.hub.Dispatch(grace, protocol.JoinRoom{RoomToken: room.InviteToken, UserID: 2})

	env = awaitFrame(t, grace, protocol.EventRoomJoined)
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	require.Len(t, joined.ParameterSnapshot, 1)
	assert.Equal(t, "physics.gravity", joined.ParameterSnapshot[0].FieldPath)
	assert.Equal(t, uint64(1), joined.ParameterSnapshot[0].Version)
	require.Len(t, joined.PresenceSnapshot, 1)
	assert.Equal(t, uint(1), joined.PresenceSnapshot[0].UserID)
	assert.Equal(t, domain.StatusOnline, joined.PresenceSnapshot[0].Status)
}

func TestHub_CapacityRejectsExtraSession(t *testing.T) {
	room := domain.Room{ID: 2, Name: "duo", InviteToken: "DUOROOM1", Capacity: 2}
	f := newHubFixture(t, testHubConfig(), room)

	f.join(t, 1, "ada")
	f.join(t, 2, "grace")

	third := f.newSession(3, "edsger")
	f.hub.Dispatch(third, protocol.JoinRoom{RoomToken: room.InviteToken, UserID: 3})

	env := awaitFrame(t, third, protocol.EventRoomError)
	var roomErr protocol.RoomError
	require.NoError(t, json.Unmarshal(env.Payload, &roomErr))
	assert.Equal(t, protocol.RoomErrorCapacity, roomErr.Type)
	assert.Equal(t, 2, f.hub.MemberCount(room.ID))

	// A rejected session is free to try again, it is not stuck mid-join.
	f.hub.Dispatch(third, protocol.JoinRoom{RoomToken: room.InviteToken, UserID: 3})
	env = awaitFrame(t, third, protocol.EventRoomError)
	require.NoError(t, json.Unmarshal(env.Payload, &roomErr))
	assert.Equal(t, protocol.RoomErrorCapacity, roomErr.Type)
}

func TestHub_ParameterBroadcastExcludesAuthorChatIncludesAuthor(t *testing.T) {
	room := domain.Room{ID: 3, Name: "studio", InviteToken: "STUDIO01", Capacity: 8}
	f := newHubFixture(t, testHubConfig(), room)

	ada := f.join(t, 1, "ada")
	grace := f.join(t, 2, "grace")
	awaitPresence(t, ada, 2, domain.StatusOnline)

	f.hub.Dispatch(ada, protocol.ParameterPropose{
		FieldPath: []string{"harmony", "tempo"},
		Value:     json.RawMessage(`120`),
	})

	env := awaitFrame(t, grace, protocol.EventParameterUpdate)
	var update protocol.ParameterBroadcast
	require.NoError(t, json.Unmarshal(env.Payload, &update))
	assert.Equal(t, []string{"harmony", "tempo"}, update.FieldPath)
	assert.Equal(t, uint64(1), update.Version)
	assert.Equal(t, uint(1), update.Author)

	// The author gets an ack and then silence; the value never comes back
	// as a broadcast.
	env = nextFrame(t, ada)
	assert.Equal(t, protocol.EventParameterAck, env.Type)
	assertNoFrame(t, ada, 100*time.Millisecond)

	f.hub.Dispatch(ada, protocol.ChatMessage{Message: "turn it up"})

	for _, c := range []*Client{ada, grace} {
		env = awaitFrame(t, c, protocol.EventChatMessage)
		var chat protocol.ChatBroadcast
		require.NoError(t, json.Unmarshal(env.Payload, &chat))
		assert.Equal(t, uint(1), chat.UserID)
		assert.Equal(t, "turn it up", chat.Message)
		assert.False(t, chat.Timestamp.IsZero(), "chat carries the server receipt time")
	}
}

func TestHub_DuplicateJoinKeepsSingleMembership(t *testing.T) {
	room := domain.Room{ID: 4, Name: "loop", InviteToken: "LOOPROOM", Capacity: 8}
	f := newHubFixture(t, testHubConfig(), room)

	ada := f.join(t, 1, "ada")
	grace := f.join(t, 2, "grace")

	// A second join_room from an attached session is dropped outright: no
	// replay, no double-counted membership.
	f.hub.Dispatch(grace, protocol.JoinRoom{RoomToken: room.InviteToken, UserID: 2})
	assertNoFrame(t, grace, 100*time.Millisecond)
	assert.Equal(t, 2, f.hub.MemberCount(room.ID))

	// After the real disconnect the grace period still runs out and the
	// user is shown offline to the rest of the room.
	f.hub.Leave(grace)
	awaitPresence(t, ada, 2, domain.StatusOffline)
	assert.Equal(t, 1, f.hub.MemberCount(room.ID))
}

func TestHub_JoinForSecondRoomWhileAttachedIgnored(t *testing.T) {
	room := domain.Room{ID: 5, Name: "home", InviteToken: "HOMEROOM", Capacity: 8}
	f := newHubFixture(t, testHubConfig(), room)

	ada := f.join(t, 1, "ada")

	f.hub.Dispatch(ada, protocol.JoinRoom{RoomToken: "ELSEWHRE", UserID: 1})

	assertNoFrame(t, ada, 100*time.Millisecond)
	assert.Equal(t, 1, f.hub.MemberCount(room.ID))
	f.roomRepo.AssertNotCalled(t, "FindByInviteToken", mock.Anything, "ELSEWHRE")
}

func TestRoomWorker_SaturatedQueueWarnsSession(t *testing.T) {
	room := domain.Room{ID: 6, Name: "busy", InviteToken: "BUSYROOM", Capacity: 8}
	cfg := testHubConfig()
	cfg.RoomQueueSize = 1
	cfg.BusyWarnAfter = 20 * time.Millisecond
	f := newHubFixture(t, cfg, room)

	// The worker loop is not running yet, so the queue stays saturated for
	// as long as the test needs.
	w := newRoomWorker(f.hub, room, nil)
	c := f.newSession(1, "ada")

	w.enqueue(workerMsg{kind: msgEvent, client: c, event: protocol.SyncRequest{}})

	delivered := make(chan struct{})
	go func() {
		w.enqueue(workerMsg{kind: msgEvent, client: c, event: protocol.SyncRequest{}})
		close(delivered)
	}()

	// The session is warned while its message is held, not dropped.
	awaitFrame(t, c, protocol.EventServerBusy)

	go w.run()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("held message was never delivered after the queue drained")
	}

	w.stop()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestHub_RetiredWorkerReplaysRacedJoin(t *testing.T) {
	room := domain.Room{ID: 7, Name: "revive", InviteToken: "REVIVE01", Capacity: 8}
	f := newHubFixture(t, testHubConfig(), room)

	// A worker on the verge of retirement, with a join that slipped into
	// its queue after the final sweep.
	w := newRoomWorker(f.hub, room, nil)
	f.hub.mu.Lock()
	f.hub.workers[room.ID] = w
	f.hub.mu.Unlock()

	c := f.newSession(1, "ada")
	f.hub.mu.Lock()
	f.hub.joining[c] = true
	f.hub.mu.Unlock()
	w.queue <- workerMsg{kind: msgRegister, client: c}

	f.hub.retireWorker(w)

	awaitFrame(t, c, protocol.EventRoomJoined)
	assert.Equal(t, 1, f.hub.MemberCount(room.ID))

	f.hub.mu.RLock()
	replacement := f.hub.workers[room.ID]
	attachedTo := f.hub.attached[c]
	f.hub.mu.RUnlock()
	require.NotNil(t, replacement)
	assert.NotSame(t, w, replacement, "the retired worker must not come back")
	assert.Same(t, replacement, attachedTo)
}
