package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrUnknownRoom       = errors.New("unknown room")
	ErrRoomForbidden     = errors.New("not allowed to join this room")
	ErrMissingToken      = errors.New("missing access token")
	ErrNotMember         = errors.New("not a member of this room")
)
