package service

import "errors"

// Business errors surfaced by the service layer. Handlers map these to HTTP
// statuses; the hub maps the room errors to room_error frames.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
	ErrInvalidToken         = errors.New("invalid or expired room token")
	ErrRoomFull             = errors.New("room is at capacity")
	ErrInternalServer       = errors.New("internal server error")
	ErrInvalidEvent         = errors.New("invalid event data")
)
