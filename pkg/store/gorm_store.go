package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"chatserver/pkg/domain"
)

const migrateLockID int64 = 52610443

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&MemberModel{},
			&RoomModel{},
			&ParticipantModel{},
			&MessageModel{},
			&ReadStatusModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveMember registers a member.
func (s *GormStore) SaveMember(ctx context.Context, m domain.Member) error {
	model := memberToModel(m)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrEmailExists
		}
		return err
	}
	return nil
}

// HasMemberEmail checks if email exists.
func (s *GormStore) HasMemberEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&MemberModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetMemberByEmail looks up a member by email.
func (s *GormStore) GetMemberByEmail(ctx context.Context, email string) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	return memberFromModel(model), true, nil
}

// GetMemberByID returns a member by ID.
func (s *GormStore) GetMemberByID(ctx context.Context, id string) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	return memberFromModel(model), true, nil
}

// ListMembers returns all members ordered by created_at.
func (s *GormStore) ListMembers(ctx context.Context) ([]domain.Member, error) {
	var models []MemberModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Member, 0, len(models))
	for _, m := range models {
		res = append(res, memberFromModel(m))
	}
	return res, nil
}

// CreateRoom persists a room and its creator's participant row in one tx.
func (s *GormStore) CreateRoom(ctx context.Context, room domain.Room, creatorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := roomToModel(room)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Create(&ParticipantModel{
			RoomID:    room.ID,
			MemberID:  creatorID,
			CreatedAt: time.Now().UTC(),
		}).Error
	})
}

// GetRoom retrieves a room.
func (s *GormStore) GetRoom(ctx context.Context, id string) (domain.Room, bool, error) {
	var model RoomModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Room{}, false, nil
		}
		return domain.Room{}, false, err
	}
	return roomFromModel(model), true, nil
}

// ListGroupRooms returns all group rooms ordered by created_at.
func (s *GormStore) ListGroupRooms(ctx context.Context) ([]domain.Room, error) {
	var models []RoomModel
	if err := s.db.WithContext(ctx).
		Where("kind = ?", string(domain.RoomGroup)).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Room, 0, len(models))
	for _, m := range models {
		res = append(res, roomFromModel(m))
	}
	return res, nil
}

// ListRoomsByMember returns every room the member participates in.
func (s *GormStore) ListRoomsByMember(ctx context.Context, memberID string) ([]domain.Room, error) {
	var models []RoomModel
	if err := s.db.WithContext(ctx).
		Joins("JOIN participant_models p ON p.room_id = room_models.id").
		Where("p.member_id = ?", memberID).
		Order("room_models.created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Room, 0, len(models))
	for _, m := range models {
		res = append(res, roomFromModel(m))
	}
	return res, nil
}

// AddParticipant inserts the membership edge; already-present is a no-op.
func (s *GormStore) AddParticipant(ctx context.Context, roomID, memberID string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ParticipantModel{
		RoomID:    roomID,
		MemberID:  memberID,
		CreatedAt: time.Now().UTC(),
	}).Error
}

// IsParticipant reports whether the member belongs to the room.
func (s *GormStore) IsParticipant(ctx context.Context, roomID, memberID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ParticipantModel{}).
		Where("room_id = ? AND member_id = ?", roomID, memberID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListParticipants returns the room's membership edges.
func (s *GormStore) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var models []ParticipantModel
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Participant, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Participant{RoomID: m.RoomID, MemberID: m.MemberID})
	}
	return res, nil
}

// LeaveRoom removes the participant and deletes the room when it empties.
// The remaining-participant recount runs under FOR UPDATE in the same tx, so
// a concurrent join to the room either lands before the count or waits until
// the deletion decision is committed.
func (s *GormStore) LeaveRoom(ctx context.Context, roomID, memberID string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []ParticipantModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", roomID).
			Find(&rows).Error; err != nil {
			return err
		}
		found := false
		for _, row := range rows {
			if row.MemberID == memberID {
				found = true
				break
			}
		}
		if !found {
			return domain.ErrParticipantNotFound
		}
		if err := tx.Where("room_id = ? AND member_id = ?", roomID, memberID).
			Delete(&ParticipantModel{}).Error; err != nil {
			return err
		}
		if len(rows) > 1 {
			return nil
		}
		// Last participant left: drop the room and everything it owns.
		if err := tx.Where("room_id = ?", roomID).Delete(&ReadStatusModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&RoomModel{}, "id = ?", roomID).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// GetOrCreatePrivateRoom finds or creates the 1:1 room for the member pair.
// The unique pair-key index arbitrates concurrent creation; the loser falls
// back to reading the winner's row.
func (s *GormStore) GetOrCreatePrivateRoom(ctx context.Context, memberID, otherID string) (domain.Room, bool, error) {
	key := PairKey(memberID, otherID)
	if room, ok, err := s.getRoomByPairKey(ctx, key); err != nil || ok {
		return room, false, err
	}
	room := domain.Room{
		ID:        uuid.NewString(),
		Name:      key,
		Kind:      domain.RoomPrivate,
		PairKey:   key,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := roomToModel(room)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		participants := []ParticipantModel{
			{RoomID: room.ID, MemberID: memberID, CreatedAt: now},
			{RoomID: room.ID, MemberID: otherID, CreatedAt: now},
		}
		if memberID == otherID {
			participants = participants[:1]
		}
		return tx.Create(&participants).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			room, ok, lookupErr := s.getRoomByPairKey(ctx, key)
			if lookupErr != nil {
				return domain.Room{}, false, lookupErr
			}
			if ok {
				return room, false, nil
			}
		}
		return domain.Room{}, false, err
	}
	return room, true, nil
}

func (s *GormStore) getRoomByPairKey(ctx context.Context, key string) (domain.Room, bool, error) {
	var model RoomModel
	if err := s.db.WithContext(ctx).Where("pair_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Room{}, false, nil
		}
		return domain.Room{}, false, err
	}
	return roomFromModel(model), true, nil
}

// SaveMessage persists the message together with one read-status row per
// current participant, as one transaction. The participant rows are locked so
// the read-status set matches the membership at commit time.
func (s *GormStore) SaveMessage(ctx context.Context, roomID, senderEmail, content string) (domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room RoomModel
		if err := tx.First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrRoomNotFound
			}
			return err
		}
		var sender MemberModel
		if err := tx.Where("email = ?", senderEmail).First(&sender).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrMemberNotFound
			}
			return err
		}
		var participants []ParticipantModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", roomID).
			Find(&participants).Error; err != nil {
			return err
		}
		model := MessageModel{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			SenderID:  sender.ID,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		statuses := make([]ReadStatusModel, 0, len(participants))
		for _, p := range participants {
			statuses = append(statuses, ReadStatusModel{
				ID:        uuid.NewString(),
				RoomID:    roomID,
				MemberID:  p.MemberID,
				MessageID: model.ID,
				Read:      p.MemberID == sender.ID,
			})
		}
		if len(statuses) > 0 {
			if err := tx.Create(&statuses).Error; err != nil {
				return err
			}
		}
		msg = domain.Message{
			ID:          model.ID,
			RoomID:      model.RoomID,
			SenderID:    sender.ID,
			SenderEmail: sender.Email,
			SenderName:  sender.Name,
			Content:     model.Content,
			CreatedAt:   model.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

type messageRow struct {
	MessageModel
	SenderEmail string
	SenderName  string
}

// ListMessages returns the room's messages in chronological order with the
// sender identity joined in.
func (s *GormStore) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	var rows []messageRow
	if err := s.db.WithContext(ctx).Model(&MessageModel{}).
		Select("message_models.*, m.email AS sender_email, m.name AS sender_name").
		Joins("JOIN member_models m ON m.id = message_models.sender_id").
		Where("message_models.room_id = ?", roomID).
		Order("message_models.created_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, domain.Message{
			ID:          row.ID,
			RoomID:      row.RoomID,
			SenderID:    row.SenderID,
			SenderEmail: row.SenderEmail,
			SenderName:  row.SenderName,
			Content:     row.Content,
			CreatedAt:   row.CreatedAt,
		})
	}
	return msgs, nil
}

// MarkRead flips every unread row for the member in the room.
func (s *GormStore) MarkRead(ctx context.Context, roomID, memberID string) error {
	return s.db.WithContext(ctx).Model(&ReadStatusModel{}).
		Where("room_id = ? AND member_id = ? AND read = ?", roomID, memberID, false).
		Update("read", true).Error
}

// CountUnread counts the member's unread rows in the room.
func (s *GormStore) CountUnread(ctx context.Context, roomID, memberID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ReadStatusModel{}).
		Where("room_id = ? AND member_id = ? AND read = ?", roomID, memberID, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// PairKey builds the canonical key for a private member pair.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

func memberToModel(m domain.Member) MemberModel {
	return MemberModel{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func memberFromModel(m MemberModel) domain.Member {
	return domain.Member{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func roomToModel(r domain.Room) RoomModel {
	var pairKey *string
	if strings.TrimSpace(r.PairKey) != "" {
		value := strings.TrimSpace(r.PairKey)
		pairKey = &value
	}
	return RoomModel{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      string(r.Kind),
		PairKey:   pairKey,
		CreatedAt: r.CreatedAt,
	}
}

func roomFromModel(m RoomModel) domain.Room {
	pairKey := ""
	if m.PairKey != nil {
		pairKey = *m.PairKey
	}
	return domain.Room{
		ID:        m.ID,
		Name:      m.Name,
		Kind:      domain.RoomKind(m.Kind),
		PairKey:   pairKey,
		CreatedAt: m.CreatedAt,
	}
}
