package domain

// SessionState describes the lifecycle of one websocket connection.
type SessionState string

const (
	SessionConnecting SessionState = "connecting"
	SessionOpen       SessionState = "open"
	SessionClosing    SessionState = "closing"
	SessionClosed     SessionState = "closed"
)

// Session identifies one live connection. A reconnect is a new Session with a
// new ID, never a resumption of the old one.
type Session struct {
	ID       string       `json:"session_id"`
	UserID   uint         `json:"user_id"`
	Username string       `json:"username"`
	State    SessionState `json:"state"`
	RoomID   *uint        `json:"room_id,omitempty"`
}
