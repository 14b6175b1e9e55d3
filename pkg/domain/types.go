package domain

import "time"

type RoomKind string

const (
	RoomGroup   RoomKind = "group"
	RoomPrivate RoomKind = "private"
)

type Member struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      RoomKind  `json:"kind"`
	PairKey   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Participant is the membership edge between a member and a room.
type Participant struct {
	RoomID   string `json:"roomId"`
	MemberID string `json:"memberId"`
}

// Message is immutable once created and ordered by CreatedAt within a room.
// SenderEmail and SenderName are resolved from the member record on read.
type Message struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	SenderID    string    `json:"senderId"`
	SenderEmail string    `json:"senderEmail"`
	SenderName  string    `json:"senderName,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ReadStatus marks whether one participant has read one message.
// A row per participant is written when the message is persisted; the
// sender's row starts read=true.
type ReadStatus struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	MemberID  string `json:"memberId"`
	MessageID string `json:"messageId"`
	Read      bool   `json:"read"`
}

// RoomSummary is one entry of a member's room list.
type RoomSummary struct {
	RoomID      string   `json:"roomId"`
	RoomName    string   `json:"roomName"`
	Kind        RoomKind `json:"kind"`
	UnreadCount int64    `json:"unreadCount"`
}
