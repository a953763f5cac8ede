package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageReaction holds at most one row per (message, participant, emoji).
type MessageReaction struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MessageID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_message_participant_emoji"`
	ParticipantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_message_participant_emoji"`
	Emoji         string    `gorm:"size:32;not null;uniqueIndex:idx_message_participant_emoji"`

	CreatedAt time.Time
}
