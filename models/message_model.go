package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeDocument = "document"
)

// Message is referenced, not owned, by its conversation: the conversation
// orders messages by Seq and tracks the last one, the message row itself
// carries all mutable state (status, receipts, deletion flags).
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Seq            int64     `gorm:"autoIncrement;uniqueIndex"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index"`

	SenderID     uuid.UUID `gorm:"type:uuid;not null"`
	SenderRole   string    `gorm:"size:20;not null"`
	ReceiverID   uuid.UUID `gorm:"type:uuid;not null;index"`
	ReceiverRole string    `gorm:"size:20;not null"`

	Content     string `gorm:"type:text;not null"`
	MessageType string `gorm:"size:20;not null;default:'text'"`
	FileURL     *string
	FileName    *string
	FileSize    *int64

	Status      string `gorm:"size:20;not null;default:'sent'"`
	DeliveredAt *time.Time
	ReadAt      *time.Time

	DeletedForSender   bool `gorm:"not null;default:false"`
	DeletedForReceiver bool `gorm:"not null;default:false"`
	DeletedForEveryone bool `gorm:"not null;default:false"`

	CreatedAt time.Time
}

func statusRank(status string) int {
	switch status {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	}
	return -1
}

// AdvanceStatus moves the status forward to target, stamping the receipt
// time only on first arrival. Targets at or behind the current status are a
// no-op. Returns whether anything changed. The SQL the stores issue mirrors
// this rule; keeping it on the model gives one authoritative definition.
func (m *Message) AdvanceStatus(target string, at time.Time) bool {
	if statusRank(target) <= statusRank(m.Status) {
		return false
	}
	switch target {
	case MessageStatusDelivered:
		m.Status = MessageStatusDelivered
		if m.DeliveredAt == nil {
			t := at
			m.DeliveredAt = &t
		}
		return true
	case MessageStatusRead:
		m.Status = MessageStatusRead
		if m.ReadAt == nil {
			t := at
			m.ReadAt = &t
		}
		return true
	}
	return false
}

// HiddenFor reports whether the message was soft-deleted by the given
// participant. Global deletion is not hiding: those messages stay in the
// thread with a blanked body.
func (m *Message) HiddenFor(participantID uuid.UUID) bool {
	if m.SenderID == participantID && m.DeletedForSender {
		return true
	}
	if m.ReceiverID == participantID && m.DeletedForReceiver {
		return true
	}
	return false
}
