package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/halverson-labs/bookline-chat/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationStore owns the per-appointment thread: the fixed participant
// pair, the last-message pointer and the cached unread counters. Counter
// mutation is always an atomic per-row increment or set, never a
// read-modify-write at the caller, so a send and a concurrent read-ack can
// race on the same conversation without losing an update.
type ConversationStore struct {
	db           *gorm.DB
	appointments AppointmentDirectory
}

func NewConversationStore(db *gorm.DB, appointments AppointmentDirectory) *ConversationStore {
	return &ConversationStore{db: db, appointments: appointments}
}

// GetOrCreate returns the conversation for an appointment, lazily creating
// it from the appointment record on first use. Creation is an insert with
// ON CONFLICT (appointment_id) DO NOTHING followed by a fetch, so concurrent
// first sends converge on exactly one stored conversation.
func (s *ConversationStore) GetOrCreate(ctx context.Context, appointmentID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).First(&conv, "appointment_id = ?", appointmentID).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storeErr("get conversation", err)
	}

	rec, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	conv = models.Conversation{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		RequesterID:   rec.RequesterID,
		ProviderID:    rec.ProviderID,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "appointment_id"}},
			DoNothing: true,
		}).
		Create(&conv)
	if res.Error != nil {
		return nil, storeErr("create conversation", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race; the winner's row is the conversation.
		if err := s.db.WithContext(ctx).First(&conv, "appointment_id = ?", appointmentID).Error; err != nil {
			return nil, storeErr("get conversation", err)
		}
		return &conv, nil
	}

	// The counter mapping is defined for exactly the two participants from
	// the start.
	for _, p := range conv.Participants() {
		if err := s.ensureCounter(ctx, conv.ID, p.ID); err != nil {
			return nil, err
		}
	}
	return &conv, nil
}

func (s *ConversationStore) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "appointment_id = ?", appointmentID).Error; err != nil {
		return nil, storeErr("get conversation", err)
	}
	return &conv, nil
}

// AppendMessage records a message as the conversation's latest in a single
// UPDATE. The message sequence itself lives on the message rows (ordered by
// seq); the conversation only tracks the tail.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": at,
		})
	if res.Error != nil {
		return storeErr("append message", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Wrap(ErrNotFound, "append message")
	}
	return nil
}

func (s *ConversationStore) exists(ctx context.Context, conversationID uuid.UUID) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Count(&n).Error
	if err != nil {
		return storeErr("get conversation", err)
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, "get conversation")
	}
	return nil
}

func (s *ConversationStore) ensureCounter(ctx context.Context, conversationID, participantID uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "participant_id"}},
			DoNothing: true,
		}).
		Create(&models.UnreadCounter{
			ID:             uuid.New(),
			ConversationID: conversationID,
			ParticipantID:  participantID,
			Count:          0,
		}).Error
	return storeErr("ensure counter", err)
}

// IncrementUnread atomically adds delta to a participant's counter,
// creating the zero row first if it is somehow absent.
func (s *ConversationStore) IncrementUnread(ctx context.Context, conversationID, participantID uuid.UUID, delta int) error {
	if err := s.exists(ctx, conversationID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "participant_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":      gorm.Expr("unread_counters.count + ?", delta),
				"updated_at": time.Now(),
			}),
		}).
		Create(&models.UnreadCounter{
			ID:             uuid.New(),
			ConversationID: conversationID,
			ParticipantID:  participantID,
			Count:          delta,
		}).Error
	return storeErr("increment unread", err)
}

// SetUnread atomically sets a participant's counter to an absolute value.
func (s *ConversationStore) SetUnread(ctx context.Context, conversationID, participantID uuid.UUID, value int) error {
	if err := s.exists(ctx, conversationID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "participant_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":      value,
				"updated_at": time.Now(),
			}),
		}).
		Create(&models.UnreadCounter{
			ID:             uuid.New(),
			ConversationID: conversationID,
			ParticipantID:  participantID,
			Count:          value,
		}).Error
	return storeErr("set unread", err)
}

func (s *ConversationStore) UnreadCount(ctx context.Context, conversationID, participantID uuid.UUID) (int, error) {
	var c models.UnreadCounter
	err := s.db.WithContext(ctx).
		First(&c, "conversation_id = ? AND participant_id = ?", conversationID, participantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("get unread count", err)
	}
	return c.Count, nil
}

// UnreadCounts returns the full counter snapshot for a conversation, keyed
// by participant id. Used for unreadCountUpdate broadcasts.
func (s *ConversationStore) UnreadCounts(ctx context.Context, conversationID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []models.UnreadCounter
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("get unread counts", err)
	}
	out := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		out[r.ParticipantID] = r.Count
	}
	return out, nil
}

// ConversationsFor lists every conversation the participant belongs to, most
// recently active first.
func (s *ConversationStore) ConversationsFor(ctx context.Context, participantID uuid.UUID) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Where("requester_id = ? OR provider_id = ?", participantID, participantID).
		Order("last_message_at desc NULLS LAST").
		Find(&convs).Error
	if err != nil {
		return nil, storeErr("list conversations", err)
	}
	return convs, nil
}

// ResetAll zeroes every conversation's counter for the participant in one
// statement.
func (s *ConversationStore) ResetAll(ctx context.Context, participantID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.UnreadCounter{}).
		Where("participant_id = ?", participantID).
		Updates(map[string]interface{}{"count": 0, "updated_at": time.Now()}).Error
	return storeErr("reset unread counts", err)
}
