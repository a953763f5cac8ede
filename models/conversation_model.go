package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
)

// Participant is one of the two fixed parties of a conversation. The role is
// stored explicitly at creation time and never re-derived from position.
type Participant struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// Conversation is the single per-appointment thread. The appointment id is
// its natural identity; the unique index is what makes lazy creation safe
// under concurrent first sends.
type Conversation struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	AppointmentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	RequesterID   uuid.UUID `gorm:"type:uuid;not null"`
	ProviderID    uuid.UUID `gorm:"type:uuid;not null"`

	LastMessageID *uuid.UUID `gorm:"type:uuid"`
	LastMessageAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Conversation) Participants() []Participant {
	return []Participant{
		{ID: c.RequesterID, Role: RoleRequester},
		{ID: c.ProviderID, Role: RoleProvider},
	}
}

// ParticipantByID returns the participant with the given id, or false when
// the id does not belong to this conversation.
func (c *Conversation) ParticipantByID(id uuid.UUID) (Participant, bool) {
	switch id {
	case c.RequesterID:
		return Participant{ID: c.RequesterID, Role: RoleRequester}, true
	case c.ProviderID:
		return Participant{ID: c.ProviderID, Role: RoleProvider}, true
	}
	return Participant{}, false
}

// Counterpart returns the other party of the conversation.
func (c *Conversation) Counterpart(id uuid.UUID) (Participant, bool) {
	switch id {
	case c.RequesterID:
		return Participant{ID: c.ProviderID, Role: RoleProvider}, true
	case c.ProviderID:
		return Participant{ID: c.RequesterID, Role: RoleRequester}, true
	}
	return Participant{}, false
}
