package store

import (
	"context"

	"chatserver/pkg/domain"
)

// Store defines persistence operations for members, rooms, messages, and
// read tracking. Lookup methods report absence with the ok bool; mutations
// that must be atomic (CreateRoom, LeaveRoom, GetOrCreatePrivateRoom,
// SaveMessage) run as a single transaction in every implementation.
type Store interface {
	// members
	SaveMember(ctx context.Context, m domain.Member) error
	HasMemberEmail(ctx context.Context, email string) (bool, error)
	GetMemberByEmail(ctx context.Context, email string) (domain.Member, bool, error)
	GetMemberByID(ctx context.Context, id string) (domain.Member, bool, error)
	ListMembers(ctx context.Context) ([]domain.Member, error)

	// rooms and membership
	CreateRoom(ctx context.Context, room domain.Room, creatorID string) error
	GetRoom(ctx context.Context, id string) (domain.Room, bool, error)
	ListGroupRooms(ctx context.Context) ([]domain.Room, error)
	ListRoomsByMember(ctx context.Context, memberID string) ([]domain.Room, error)
	AddParticipant(ctx context.Context, roomID, memberID string) error
	IsParticipant(ctx context.Context, roomID, memberID string) (bool, error)
	ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)

	// LeaveRoom removes the participant row and deletes the room (with its
	// messages and read rows) when no participant remains. The recount
	// happens inside the same transaction as the removal.
	LeaveRoom(ctx context.Context, roomID, memberID string) (roomDeleted bool, err error)

	// GetOrCreatePrivateRoom returns the private room between the two
	// members, creating it with exactly those two participants when absent.
	// Concurrent calls for the same pair resolve to one room.
	GetOrCreatePrivateRoom(ctx context.Context, memberID, otherID string) (domain.Room, bool, error)

	// messages and read tracking
	SaveMessage(ctx context.Context, roomID, senderEmail, content string) (domain.Message, error)
	ListMessages(ctx context.Context, roomID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, roomID, memberID string) error
	CountUnread(ctx context.Context, roomID, memberID string) (int64, error)
}
