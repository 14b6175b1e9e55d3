package domain

import "errors"

// Sentinel errors shared by the store and the application layer. All are
// terminal for the request that triggered them; the HTTP layer maps them to
// client-visible status codes.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotParticipant      = errors.New("member is not a room participant")
	ErrNotGroupRoom        = errors.New("room is not a group room")
	ErrEmailExists         = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)
