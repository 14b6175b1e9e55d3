package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chatserver/internal/bridge"
	"chatserver/pkg/auth"
	"chatserver/pkg/domain"
	"chatserver/pkg/store"
)

// captureBridge records published events so tests can assert relay order.
type captureBridge struct {
	mu      sync.Mutex
	events  []bridge.Event
	handler bridge.Handler
}

func (b *captureBridge) Publish(_ context.Context, ev bridge.Event) error {
	b.mu.Lock()
	b.events = append(b.events, ev)
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
	return nil
}

func (b *captureBridge) Subscribe(_ context.Context, h bridge.Handler) error {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
	return nil
}

func (b *captureBridge) Close() error { return nil }

func (b *captureBridge) published() []bridge.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := make([]bridge.Event, len(b.events))
	copy(res, b.events)
	return res
}

func newTestApp(t *testing.T) (*App, *captureBridge) {
	t.Helper()
	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: "test-secret-0123"})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	br := &captureBridge{}
	a, err := New(Config{
		Store:   store.NewMemoryStore(),
		Bridge:  br,
		Tokens:  tokens,
		Revoker: store.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, br
}

func register(t *testing.T, a *App, name, email string) domain.Member {
	t.Helper()
	member, err := a.Register(context.Background(), name, email, "correct-horse")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return member
}

func TestRegisterAndLogin(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	member := register(t, a, "Alice", "Alice@Example.com")
	if member.Email != "alice@example.com" {
		t.Fatalf("email should be normalized, got %q", member.Email)
	}

	if _, err := a.Register(ctx, "Other", "alice@example.com", "correct-horse"); !errors.Is(err, domain.ErrEmailExists) {
		t.Fatalf("duplicate email: got %v, want ErrEmailExists", err)
	}
	if _, err := a.Register(ctx, "Weak", "weak@example.com", "short"); !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("weak password: got %v, want ErrWeakPassword", err)
	}

	got, token, err := a.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != member.ID {
		t.Fatalf("login returned wrong member")
	}

	resolved, err := a.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if resolved.ID != member.ID {
		t.Fatalf("resolved wrong member")
	}

	if _, _, err := a.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("bad password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := a.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	register(t, a, "Alice", "alice@example.com")
	_, token, err := a.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := a.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := a.ResolveToken(ctx, token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("revoked token: got %v, want ErrInvalidToken", err)
	}
}

func TestGroupRoomLifecycle(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	bob := register(t, a, "Bob", "bob@example.com")

	room, err := a.CreateGroupRoom(ctx, alice.ID, "  general  ")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.Name != "general" {
		t.Fatalf("room name not trimmed: %q", room.Name)
	}
	if room.Kind != domain.RoomGroup {
		t.Fatalf("room kind = %q", room.Kind)
	}

	if _, err := a.CreateGroupRoom(ctx, alice.ID, "   "); err == nil {
		t.Fatalf("blank room name should fail")
	}
	if _, err := a.CreateGroupRoom(ctx, "ghost", "x"); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("unknown creator: got %v", err)
	}

	rooms, err := a.ListGroupRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Fatalf("list rooms = %+v", rooms)
	}

	// Joining twice is a no-op.
	if err := a.JoinGroupRoom(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := a.JoinGroupRoom(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if err := a.JoinGroupRoom(ctx, bob.ID, "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("join missing room: got %v", err)
	}
}

func TestLeaveGroupRoomDeletesWhenEmpty(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	bob := register(t, a, "Bob", "bob@example.com")

	room, err := a.CreateGroupRoom(ctx, alice.ID, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := a.JoinGroupRoom(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := a.SaveMessage(ctx, room.ID, alice.Email, "hi"); err != nil {
		t.Fatalf("save message: %v", err)
	}

	// Room survives while a participant remains.
	if err := a.LeaveGroupRoom(ctx, alice.ID, room.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	msgs, err := a.ChatHistory(ctx, bob.ID, room.ID)
	if err != nil {
		t.Fatalf("history after first leave: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("history should survive partial leave, got %d messages", len(msgs))
	}

	// Last participant leaving deletes the room and its history.
	if err := a.LeaveGroupRoom(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("final leave: %v", err)
	}
	if _, err := a.ChatHistory(ctx, bob.ID, room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("deleted room history: got %v, want ErrRoomNotFound", err)
	}

	// Leaving a room you are not in fails.
	room2, err := a.CreateGroupRoom(ctx, alice.ID, "other")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := a.LeaveGroupRoom(ctx, bob.ID, room2.ID); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("leave without membership: got %v", err)
	}
}

func TestPrivateRoomCannotBeLeft(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	bob := register(t, a, "Bob", "bob@example.com")

	room, err := a.GetOrCreatePrivateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("private room: %v", err)
	}
	if err := a.LeaveGroupRoom(ctx, alice.ID, room.ID); !errors.Is(err, domain.ErrNotGroupRoom) {
		t.Fatalf("leave private room: got %v, want ErrNotGroupRoom", err)
	}
}

func TestPrivateRoomIdempotent(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	bob := register(t, a, "Bob", "bob@example.com")

	first, err := a.GetOrCreatePrivateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	// Same room regardless of which side asks.
	second, err := a.GetOrCreatePrivateRoom(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("pair resolved to different rooms: %s vs %s", first.ID, second.ID)
	}
	if first.Kind != domain.RoomPrivate {
		t.Fatalf("room kind = %q", first.Kind)
	}

	if _, err := a.GetOrCreatePrivateRoom(ctx, alice.ID, "ghost"); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("unknown target: got %v", err)
	}
}

func TestPrivateRoomConcurrentCreate(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	bob := register(t, a, "Bob", "bob@example.com")

	const attempts = 16
	roomIDs := make([]string, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			me, other := alice.ID, bob.ID
			if i%2 == 1 {
				me, other = bob.ID, alice.ID
			}
			room, err := a.GetOrCreatePrivateRoom(ctx, me, other)
			if err != nil {
				t.Errorf("concurrent create: %v", err)
				return
			}
			roomIDs[i] = room.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < attempts; i++ {
		if roomIDs[i] != roomIDs[0] {
			t.Fatalf("concurrent creates produced multiple rooms: %s vs %s", roomIDs[0], roomIDs[i])
		}
	}
}

func TestSaveMessagePublishesAfterPersist(t *testing.T) {
	a, br := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	bob := register(t, a, "Bob", "bob@example.com")

	room, err := a.CreateGroupRoom(ctx, alice.ID, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := a.JoinGroupRoom(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	msg, err := a.SaveMessage(ctx, room.ID, alice.Email, "hello")
	if err != nil {
		t.Fatalf("save message: %v", err)
	}
	if msg.SenderName != "Alice" || msg.SenderEmail != alice.Email {
		t.Fatalf("sender not resolved: %+v", msg)
	}

	events := br.published()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].MessageID != msg.ID || events[0].RoomID != room.ID || events[0].Content != "hello" {
		t.Fatalf("published event mismatch: %+v", events[0])
	}

	// A failed save publishes nothing.
	if _, err := a.SaveMessage(ctx, "missing", alice.Email, "x"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("save to missing room: got %v", err)
	}
	if _, err := a.SaveMessage(ctx, room.ID, "ghost@example.com", "x"); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("save from unknown sender: got %v", err)
	}
	if got := len(br.published()); got != 1 {
		t.Fatalf("failed saves must not publish, got %d events", got)
	}
}

func TestChatHistoryRequiresMembership(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	carol := register(t, a, "Carol", "carol@example.com")

	room, err := a.CreateGroupRoom(ctx, alice.ID, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := a.SaveMessage(ctx, room.ID, alice.Email, "first"); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if _, err := a.SaveMessage(ctx, room.ID, alice.Email, "second"); err != nil {
		t.Fatalf("save message: %v", err)
	}

	msgs, err := a.ChatHistory(ctx, alice.ID, room.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("history out of order: %+v", msgs)
	}

	if _, err := a.ChatHistory(ctx, carol.ID, room.ID); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("outsider history: got %v, want ErrNotParticipant", err)
	}
	if _, err := a.ChatHistory(ctx, alice.ID, "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("missing room history: got %v", err)
	}
}

func TestUnreadCountsAndMarkRead(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	bob := register(t, a, "Bob", "bob@example.com")

	room, err := a.CreateGroupRoom(ctx, alice.ID, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := a.JoinGroupRoom(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	for _, content := range []string{"one", "two", "three"} {
		if _, err := a.SaveMessage(ctx, room.ID, alice.Email, content); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	// The sender's own rows are created read; the recipient's are not.
	assertUnread := func(memberID string, want int64) {
		t.Helper()
		rooms, err := a.MyRooms(ctx, memberID)
		if err != nil {
			t.Fatalf("my rooms: %v", err)
		}
		if len(rooms) != 1 {
			t.Fatalf("expected one room, got %d", len(rooms))
		}
		if rooms[0].UnreadCount != want {
			t.Fatalf("unread = %d, want %d", rooms[0].UnreadCount, want)
		}
	}
	assertUnread(alice.ID, 0)
	assertUnread(bob.ID, 3)

	if err := a.MarkRead(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	assertUnread(bob.ID, 0)

	// Idempotent.
	if err := a.MarkRead(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("repeat mark read: %v", err)
	}
	assertUnread(bob.ID, 0)

	// Only messages after the mark count as unread again.
	if _, err := a.SaveMessage(ctx, room.ID, alice.Email, "four"); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if _, err := a.SaveMessage(ctx, room.ID, alice.Email, "five"); err != nil {
		t.Fatalf("save message: %v", err)
	}
	assertUnread(bob.ID, 2)

	if err := a.MarkRead(ctx, bob.ID, "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("mark read on missing room: got %v", err)
	}
}

func TestIsRoomParticipant(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := register(t, a, "Alice", "alice@example.com")
	carol := register(t, a, "Carol", "carol@example.com")

	room, err := a.CreateGroupRoom(ctx, alice.ID, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	in, err := a.IsRoomParticipant(ctx, alice.Email, room.ID)
	if err != nil || !in {
		t.Fatalf("creator should be a participant: %v %v", in, err)
	}
	in, err = a.IsRoomParticipant(ctx, carol.Email, room.ID)
	if err != nil || in {
		t.Fatalf("outsider should not be a participant: %v %v", in, err)
	}
	if _, err := a.IsRoomParticipant(ctx, alice.Email, "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("missing room: got %v", err)
	}
}
