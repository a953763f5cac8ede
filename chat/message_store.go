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

// MessageStore is the durable message log and the sole mutator of message
// state. Status transitions are expressed as guarded single UPDATEs so they
// stay monotonic and idempotent under concurrent acknowledgements: a target
// at or behind the stored status matches zero rows and is a no-op.
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Create persists a new message with initial status "sent" and a server
// timestamp. The monotonic Seq is assigned by the database and is the
// creation-order tiebreaker; wall-clock alone is never trusted for ordering.
func (s *MessageStore) Create(ctx context.Context, m *models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Status = models.MessageStatusSent
	m.CreatedAt = time.Now()
	return storeErr("create message", s.db.WithContext(ctx).Create(m).Error)
}

func (s *MessageStore) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, storeErr("get message", err)
	}
	return &m, nil
}

// TransitionStatus advances a message's status forward to target and stamps
// the receipt time only the first time that state is reached. Calling it
// with a target the message is already at or past is a no-op, not an error.
// Returns the message as stored after the call.
func (s *MessageStore) TransitionStatus(ctx context.Context, id uuid.UUID, target string) (*models.Message, error) {
	if _, err := s.guardedTransition(ctx, target, "id = ?", id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// BatchTransitionStatus applies the same forward-only rule to every id whose
// stored receiver matches receiverID. Ids failing the predicate, or already
// at or past target, are skipped rather than failing the batch.
func (s *MessageStore) BatchTransitionStatus(ctx context.Context, ids []uuid.UUID, target string, receiverID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.guardedTransition(ctx, target, "id IN ? AND receiver_id = ?", ids, receiverID)
	return err
}

func (s *MessageStore) guardedTransition(ctx context.Context, target string, query string, args ...interface{}) (int64, error) {
	now := time.Now()
	tx := s.db.WithContext(ctx).Model(&models.Message{})

	var res *gorm.DB
	switch target {
	case models.MessageStatusDelivered:
		res = tx.Where(query, args...).
			Where("status = ?", models.MessageStatusSent).
			Updates(map[string]interface{}{
				"status":       models.MessageStatusDelivered,
				"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", now),
			})
	case models.MessageStatusRead:
		res = tx.Where(query, args...).
			Where("status IN ?", []string{models.MessageStatusSent, models.MessageStatusDelivered}).
			Updates(map[string]interface{}{
				"status":  models.MessageStatusRead,
				"read_at": gorm.Expr("COALESCE(read_at, ?)", now),
			})
	default:
		return 0, errors.Wrapf(ErrValidation, "unknown target status %q", target)
	}
	if res.Error != nil {
		return 0, storeErr("transition status", res.Error)
	}
	return res.RowsAffected, nil
}

// ListVisible returns a conversation's messages in creation order, omitting
// messages the given participant soft-deleted for themselves. Globally
// deleted messages are included; the caller blanks their body in the view.
func (s *MessageStore) ListVisible(ctx context.Context, conversationID, participantID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("NOT (sender_id = ? AND deleted_for_sender)", participantID).
		Where("NOT (receiver_id = ? AND deleted_for_receiver)", participantID).
		Order("seq asc").
		Find(&msgs).Error
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	return msgs, nil
}

// CountUnread counts messages addressed to receiverID with status other than
// read. This is the ground truth the reconciler compares the cached counter
// against.
func (s *MessageStore) CountUnread(ctx context.Context, conversationID, receiverID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND status <> ?",
			conversationID, receiverID, models.MessageStatusRead).
		Count(&n).Error
	if err != nil {
		return 0, storeErr("count unread", err)
	}
	return n, nil
}

// AddReaction upserts a reaction; a duplicate (message, participant, emoji)
// is a no-op and returns the existing row.
func (s *MessageStore) AddReaction(ctx context.Context, messageID, participantID uuid.UUID, emoji string) (*models.MessageReaction, error) {
	r := models.MessageReaction{
		ID:            uuid.New(),
		MessageID:     messageID,
		ParticipantID: participantID,
		Emoji:         emoji,
		CreatedAt:     time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "participant_id"}, {Name: "emoji"}},
			DoNothing: true,
		}).
		Create(&r).Error
	if err != nil {
		return nil, storeErr("add reaction", err)
	}
	var stored models.MessageReaction
	err = s.db.WithContext(ctx).
		First(&stored, "message_id = ? AND participant_id = ? AND emoji = ?", messageID, participantID, emoji).Error
	if err != nil {
		return nil, storeErr("add reaction", err)
	}
	return &stored, nil
}

// RemoveReaction is idempotent: removing a reaction that is not there is a
// no-op.
func (s *MessageStore) RemoveReaction(ctx context.Context, messageID, participantID uuid.UUID, emoji string) error {
	err := s.db.WithContext(ctx).
		Where("message_id = ? AND participant_id = ? AND emoji = ?", messageID, participantID, emoji).
		Delete(&models.MessageReaction{}).Error
	return storeErr("remove reaction", err)
}

// ReactionsFor returns all reactions for the given message ids, grouped by
// message.
func (s *MessageStore) ReactionsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.MessageReaction, error) {
	out := make(map[uuid.UUID][]models.MessageReaction)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []models.MessageReaction
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list reactions", err)
	}
	for _, r := range rows {
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, nil
}

// MarkDeletedFor sets the soft-delete flag for whichever side of the message
// the participant is on.
func (s *MessageStore) MarkDeletedFor(ctx context.Context, messageID, participantID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND sender_id = ?", messageID, participantID).
		Update("deleted_for_sender", true)
	if res.Error != nil {
		return storeErr("delete message", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	res = s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND receiver_id = ?", messageID, participantID).
		Update("deleted_for_receiver", true)
	if res.Error != nil {
		return storeErr("delete message", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Wrap(ErrNotFound, "delete message")
	}
	return nil
}

// MarkDeletedForEveryone sets the global deletion flag. Only the sender may
// do this.
func (s *MessageStore) MarkDeletedForEveryone(ctx context.Context, messageID, senderID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND sender_id = ?", messageID, senderID).
		Update("deleted_for_everyone", true)
	if res.Error != nil {
		return storeErr("delete message for everyone", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, messageID); err != nil {
			return err
		}
		return errors.Wrap(ErrValidation, "only the sender can delete a message for everyone")
	}
	return nil
}
