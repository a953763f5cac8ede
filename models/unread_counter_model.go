package models

import (
	"time"

	"github.com/google/uuid"
)

// UnreadCounter caches the number of messages addressed to a participant not
// yet acknowledged as read, one row per (conversation, participant). It is
// only ever mutated by atomic per-row increment or set; drift against the
// message log is corrected lazily at read time.
type UnreadCounter struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_participant"`
	ParticipantID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_participant"`
	Count          int       `gorm:"not null;default:0"`

	UpdatedAt time.Time
}
