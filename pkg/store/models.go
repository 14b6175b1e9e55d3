package store

import "time"

// GORM models used for persistence.
type MemberModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type RoomModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Kind      string `gorm:"not null;index"`
	// PairKey is set for private rooms only: the sorted member-id pair.
	// The unique index is the serialization point for concurrent
	// get-or-create calls on the same pair.
	PairKey   *string   `gorm:"uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

type ParticipantModel struct {
	RoomID    string    `gorm:"primaryKey;index"`
	MemberID  string    `gorm:"primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	RoomID    string    `gorm:"not null;index"`
	SenderID  string    `gorm:"not null;index"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type ReadStatusModel struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"not null;index:idx_read_room_member"`
	MemberID  string `gorm:"not null;index:idx_read_room_member"`
	MessageID string `gorm:"not null;index"`
	Read      bool   `gorm:"not null"`
}
