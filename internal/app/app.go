// Package app implements the chat service: room lifecycle, message
// persistence with read tracking, and member accounts. All operations take
// the resolved member identity explicitly; nothing is read from ambient
// state.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatserver/internal/bridge"
	"chatserver/pkg/auth"
	"chatserver/pkg/domain"
	"chatserver/pkg/store"
)

// Config wires the application's collaborators.
type Config struct {
	Store   store.Store
	Bridge  bridge.Bridge
	Tokens  *auth.TokenManager
	Revoker store.TokenRevoker // optional; logout disabled without it
}

// App orchestrates storage, read tracking, and the real-time bridge.
type App struct {
	store   store.Store
	bridge  bridge.Bridge
	tokens  *auth.TokenManager
	revoker store.TokenRevoker
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("bridge required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token manager required")
	}
	return &App{store: cfg.Store, bridge: cfg.Bridge, tokens: cfg.Tokens, revoker: cfg.Revoker}, nil
}

// Register creates a member account. Duplicate emails fail with
// domain.ErrEmailExists.
func (a *App) Register(ctx context.Context, name, email, password string) (domain.Member, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" {
		return domain.Member{}, fmt.Errorf("name and email required")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Member{}, err
	}
	exists, err := a.store.HasMemberEmail(ctx, email)
	if err != nil {
		return domain.Member{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.Member{}, domain.ErrEmailExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Member{}, fmt.Errorf("hash password: %w", err)
	}
	member := domain.Member{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveMember(ctx, member); err != nil {
		return domain.Member{}, err
	}
	return member, nil
}

// Login validates credentials and issues an access token.
func (a *App) Login(ctx context.Context, email, password string) (domain.Member, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	member, ok, err := a.store.GetMemberByEmail(ctx, email)
	if err != nil {
		return domain.Member{}, "", fmt.Errorf("fetch member: %w", err)
	}
	if !ok || !auth.CheckPassword(password, member.PasswordHash) {
		return domain.Member{}, "", domain.ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(member.ID, member.Email)
	if err != nil {
		return domain.Member{}, "", fmt.Errorf("issue token: %w", err)
	}
	return member, token, nil
}

// ResolveToken verifies an access token and loads the member it names.
// Tokens revoked by logout are rejected even though their signature is
// still valid.
func (a *App) ResolveToken(ctx context.Context, token string) (domain.Member, error) {
	memberID, _, err := a.tokens.Verify(token)
	if err != nil {
		return domain.Member{}, err
	}
	if a.revoker != nil {
		revoked, err := a.revoker.IsRevoked(token)
		if err != nil {
			return domain.Member{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return domain.Member{}, auth.ErrInvalidToken
		}
	}
	member, ok, err := a.store.GetMemberByID(ctx, memberID)
	if err != nil {
		return domain.Member{}, fmt.Errorf("fetch member: %w", err)
	}
	if !ok {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	return member, nil
}

// Logout revokes the access token for the remainder of its lifetime.
func (a *App) Logout(_ context.Context, token string) error {
	if a.revoker == nil {
		return nil
	}
	if _, _, err := a.tokens.Verify(token); err != nil {
		return err
	}
	return a.revoker.Revoke(token, a.tokens.TokenTTL())
}

// ListMembers returns the member directory.
func (a *App) ListMembers(ctx context.Context) ([]domain.Member, error) {
	return a.store.ListMembers(ctx)
}

// CreateGroupRoom creates a group room with the caller as first participant.
func (a *App) CreateGroupRoom(ctx context.Context, memberID, name string) (domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Room{}, fmt.Errorf("room name required")
	}
	if _, ok, err := a.store.GetMemberByID(ctx, memberID); err != nil {
		return domain.Room{}, fmt.Errorf("fetch member: %w", err)
	} else if !ok {
		return domain.Room{}, domain.ErrMemberNotFound
	}
	room := domain.Room{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      domain.RoomGroup,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateRoom(ctx, room, memberID); err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// ListGroupRooms returns all group rooms.
func (a *App) ListGroupRooms(ctx context.Context) ([]domain.Room, error) {
	return a.store.ListGroupRooms(ctx)
}

// JoinGroupRoom adds the member to the room; joining twice is a no-op.
func (a *App) JoinGroupRoom(ctx context.Context, memberID, roomID string) error {
	if _, ok, err := a.store.GetRoom(ctx, roomID); err != nil {
		return fmt.Errorf("fetch room: %w", err)
	} else if !ok {
		return domain.ErrRoomNotFound
	}
	if _, ok, err := a.store.GetMemberByID(ctx, memberID); err != nil {
		return fmt.Errorf("fetch member: %w", err)
	} else if !ok {
		return domain.ErrMemberNotFound
	}
	return a.store.AddParticipant(ctx, roomID, memberID)
}

// LeaveGroupRoom removes the member; an emptied group room is deleted along
// with its messages and read rows. Private rooms cannot be left: their 1:1
// history stays available to both sides.
func (a *App) LeaveGroupRoom(ctx context.Context, memberID, roomID string) error {
	room, ok, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("fetch room: %w", err)
	}
	if !ok {
		return domain.ErrRoomNotFound
	}
	if room.Kind != domain.RoomGroup {
		return domain.ErrNotGroupRoom
	}
	deleted, err := a.store.LeaveRoom(ctx, roomID, memberID)
	if err != nil {
		return err
	}
	if deleted {
		slog.Info("room deleted after last participant left", "room_id", roomID)
	}
	return nil
}

// GetOrCreatePrivateRoom returns the 1:1 room between the caller and the
// target member, creating it when absent. Idempotent under concurrent calls
// from both sides.
func (a *App) GetOrCreatePrivateRoom(ctx context.Context, memberID, otherID string) (domain.Room, error) {
	if _, ok, err := a.store.GetMemberByID(ctx, otherID); err != nil {
		return domain.Room{}, fmt.Errorf("fetch member: %w", err)
	} else if !ok {
		return domain.Room{}, domain.ErrMemberNotFound
	}
	room, created, err := a.store.GetOrCreatePrivateRoom(ctx, memberID, otherID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("get or create private room: %w", err)
	}
	if created {
		slog.Info("private room created", "room_id", room.ID)
	}
	return room, nil
}

// SaveMessage persists the message atomically with its read-status rows and
// then relays it on the bridge. The publish happens strictly after the
// commit; a publish failure is logged, not retried — clients reconcile via
// history on reconnect.
func (a *App) SaveMessage(ctx context.Context, roomID, senderEmail, content string) (domain.Message, error) {
	msg, err := a.store.SaveMessage(ctx, roomID, senderEmail, content)
	if err != nil {
		return domain.Message{}, err
	}
	ev := bridge.Event{
		RoomID:      msg.RoomID,
		MessageID:   msg.ID,
		SenderEmail: msg.SenderEmail,
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
	}
	if err := a.bridge.Publish(ctx, ev); err != nil {
		slog.Error("bridge publish failed", "room_id", msg.RoomID, "message_id", msg.ID, "err", err)
	}
	return msg, nil
}

// ChatHistory returns the room's messages in chronological order. Only
// current participants may read it.
func (a *App) ChatHistory(ctx context.Context, memberID, roomID string) ([]domain.Message, error) {
	if _, ok, err := a.store.GetRoom(ctx, roomID); err != nil {
		return nil, fmt.Errorf("fetch room: %w", err)
	} else if !ok {
		return nil, domain.ErrRoomNotFound
	}
	in, err := a.store.IsParticipant(ctx, roomID, memberID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !in {
		return nil, domain.ErrNotParticipant
	}
	return a.store.ListMessages(ctx, roomID)
}

// MarkRead flips every unread row for the member in the room. Coarse by
// design: the whole room is marked, not a message offset. Idempotent.
func (a *App) MarkRead(ctx context.Context, memberID, roomID string) error {
	if _, ok, err := a.store.GetRoom(ctx, roomID); err != nil {
		return fmt.Errorf("fetch room: %w", err)
	} else if !ok {
		return domain.ErrRoomNotFound
	}
	return a.store.MarkRead(ctx, roomID, memberID)
}

// MyRooms lists the member's rooms with their unread counts.
func (a *App) MyRooms(ctx context.Context, memberID string) ([]domain.RoomSummary, error) {
	rooms, err := a.store.ListRoomsByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	res := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		unread, err := a.store.CountUnread(ctx, room.ID, memberID)
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		res = append(res, domain.RoomSummary{
			RoomID:      room.ID,
			RoomName:    room.Name,
			Kind:        room.Kind,
			UnreadCount: unread,
		})
	}
	return res, nil
}

// IsRoomParticipant reports whether the member identified by email belongs
// to the room. Used by the websocket subscribe check.
func (a *App) IsRoomParticipant(ctx context.Context, email, roomID string) (bool, error) {
	if _, ok, err := a.store.GetRoom(ctx, roomID); err != nil {
		return false, fmt.Errorf("fetch room: %w", err)
	} else if !ok {
		return false, domain.ErrRoomNotFound
	}
	member, ok, err := a.store.GetMemberByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("fetch member: %w", err)
	}
	if !ok {
		return false, domain.ErrMemberNotFound
	}
	return a.store.IsParticipant(ctx, roomID, member.ID)
}
