package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatserver/pkg/domain"
)

// MemoryStore keeps all chat state in-process. It mirrors the transactional
// guarantees of GormStore by holding its mutex across each compound
// operation, and is the storage used by tests.
type MemoryStore struct {
	mu           sync.RWMutex
	members      map[string]domain.Member // member ID -> member
	emails       map[string]string        // email -> member ID
	rooms        map[string]domain.Room
	pairs        map[string]string              // pair key -> room ID
	participants map[string]map[string]struct{} // room ID -> member IDs
	messages     map[string][]domain.Message    // room ID -> ordered messages
	reads        map[string][]domain.ReadStatus // room ID -> read rows
	memberOrder  []string
	roomOrder    []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:      make(map[string]domain.Member),
		emails:       make(map[string]string),
		rooms:        make(map[string]domain.Room),
		pairs:        make(map[string]string),
		participants: make(map[string]map[string]struct{}),
		messages:     make(map[string][]domain.Message),
		reads:        make(map[string][]domain.ReadStatus),
	}
}

// SaveMember registers a member.
func (m *MemoryStore) SaveMember(_ context.Context, member domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[member.Email]; ok {
		return domain.ErrEmailExists
	}
	m.members[member.ID] = member
	m.emails[member.Email] = member.ID
	m.memberOrder = append(m.memberOrder, member.ID)
	return nil
}

// HasMemberEmail checks if email exists.
func (m *MemoryStore) HasMemberEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emails[email]
	return ok, nil
}

// GetMemberByEmail looks up a member by email.
func (m *MemoryStore) GetMemberByEmail(_ context.Context, email string) (domain.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.Member{}, false, nil
	}
	member, ok := m.members[id]
	return member, ok, nil
}

// GetMemberByID returns a member by ID.
func (m *MemoryStore) GetMemberByID(_ context.Context, id string) (domain.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[id]
	return member, ok, nil
}

// ListMembers returns all members in registration order.
func (m *MemoryStore) ListMembers(_ context.Context) ([]domain.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Member, 0, len(m.memberOrder))
	for _, id := range m.memberOrder {
		if member, ok := m.members[id]; ok {
			res = append(res, member)
		}
	}
	return res, nil
}

// CreateRoom stores the room and its creator's membership.
func (m *MemoryStore) CreateRoom(_ context.Context, room domain.Room, creatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
	m.roomOrder = append(m.roomOrder, room.ID)
	m.participants[room.ID] = map[string]struct{}{creatorID: {}}
	return nil
}

// GetRoom retrieves a room.
func (m *MemoryStore) GetRoom(_ context.Context, id string) (domain.Room, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok, nil
}

// ListGroupRooms returns all group rooms in creation order.
func (m *MemoryStore) ListGroupRooms(_ context.Context) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Room, 0, len(m.roomOrder))
	for _, id := range m.roomOrder {
		if room, ok := m.rooms[id]; ok && room.Kind == domain.RoomGroup {
			res = append(res, room)
		}
	}
	return res, nil
}

// ListRoomsByMember returns rooms the member participates in.
func (m *MemoryStore) ListRoomsByMember(_ context.Context, memberID string) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Room, 0)
	for _, id := range m.roomOrder {
		members, ok := m.participants[id]
		if !ok {
			continue
		}
		if _, in := members[memberID]; in {
			if room, exists := m.rooms[id]; exists {
				res = append(res, room)
			}
		}
	}
	return res, nil
}

// AddParticipant inserts the membership edge; already-present is a no-op.
func (m *MemoryStore) AddParticipant(_ context.Context, roomID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.participants[roomID]
	if members == nil {
		members = make(map[string]struct{})
		m.participants[roomID] = members
	}
	members[memberID] = struct{}{}
	return nil
}

// IsParticipant reports whether the member belongs to the room.
func (m *MemoryStore) IsParticipant(_ context.Context, roomID, memberID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members, ok := m.participants[roomID]
	if !ok {
		return false, nil
	}
	_, in := members[memberID]
	return in, nil
}

// ListParticipants returns the room's membership edges.
func (m *MemoryStore) ListParticipants(_ context.Context, roomID string) ([]domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.participants[roomID]
	res := make([]domain.Participant, 0, len(members))
	for id := range members {
		res = append(res, domain.Participant{RoomID: roomID, MemberID: id})
	}
	return res, nil
}

// LeaveRoom removes the participant and deletes the room when it empties.
func (m *MemoryStore) LeaveRoom(_ context.Context, roomID, memberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.participants[roomID]
	if !ok {
		return false, domain.ErrParticipantNotFound
	}
	if _, in := members[memberID]; !in {
		return false, domain.ErrParticipantNotFound
	}
	delete(members, memberID)
	if len(members) > 0 {
		return false, nil
	}
	delete(m.participants, roomID)
	delete(m.messages, roomID)
	delete(m.reads, roomID)
	if room, exists := m.rooms[roomID]; exists && room.PairKey != "" {
		delete(m.pairs, room.PairKey)
	}
	delete(m.rooms, roomID)
	filtered := m.roomOrder[:0]
	for _, id := range m.roomOrder {
		if id != roomID {
			filtered = append(filtered, id)
		}
	}
	m.roomOrder = filtered
	return true, nil
}

// GetOrCreatePrivateRoom finds or creates the 1:1 room for the member pair.
func (m *MemoryStore) GetOrCreatePrivateRoom(_ context.Context, memberID, otherID string) (domain.Room, bool, error) {
	key := PairKey(memberID, otherID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if roomID, ok := m.pairs[key]; ok {
		if room, exists := m.rooms[roomID]; exists {
			return room, false, nil
		}
	}
	room := domain.Room{
		ID:        uuid.NewString(),
		Name:      key,
		Kind:      domain.RoomPrivate,
		PairKey:   key,
		CreatedAt: time.Now().UTC(),
	}
	m.rooms[room.ID] = room
	m.roomOrder = append(m.roomOrder, room.ID)
	m.pairs[key] = room.ID
	members := map[string]struct{}{memberID: {}}
	members[otherID] = struct{}{}
	m.participants[room.ID] = members
	return room, true, nil
}

// SaveMessage persists the message plus one read row per participant.
func (m *MemoryStore) SaveMessage(_ context.Context, roomID, senderEmail, content string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return domain.Message{}, domain.ErrRoomNotFound
	}
	senderID, ok := m.emails[senderEmail]
	if !ok {
		return domain.Message{}, domain.ErrMemberNotFound
	}
	sender := m.members[senderID]
	msg := domain.Message{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		SenderID:    sender.ID,
		SenderEmail: sender.Email,
		SenderName:  sender.Name,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	m.messages[roomID] = append(m.messages[roomID], msg)
	for memberID := range m.participants[roomID] {
		m.reads[roomID] = append(m.reads[roomID], domain.ReadStatus{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			MemberID:  memberID,
			MessageID: msg.ID,
			Read:      memberID == sender.ID,
		})
	}
	return msg, nil
}

// ListMessages returns the room's messages in chronological order.
func (m *MemoryStore) ListMessages(_ context.Context, roomID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[roomID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}

// MarkRead flips every unread row for the member in the room.
func (m *MemoryStore) MarkRead(_ context.Context, roomID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.reads[roomID]
	for i := range rows {
		if rows[i].MemberID == memberID && !rows[i].Read {
			rows[i].Read = true
		}
	}
	return nil
}

// CountUnread counts the member's unread rows in the room.
func (m *MemoryStore) CountUnread(_ context.Context, roomID, memberID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, row := range m.reads[roomID] {
		if row.MemberID == memberID && !row.Read {
			count++
		}
	}
	return count, nil
}
