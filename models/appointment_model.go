package models

import (
	"time"

	"github.com/google/uuid"
)

// Appointment rows are written by the upstream booking system; the chat
// layer only reads them to resolve a conversation's two participants.
type Appointment struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RequesterID uuid.UUID `gorm:"type:uuid;not null"`
	ProviderID  uuid.UUID `gorm:"type:uuid;not null"`
	Status      string    `gorm:"size:20;not null;default:'confirmed'"`

	StartTime *time.Time
	EndTime   *time.Time

	Requester User `gorm:"foreignkey:RequesterID"`
	Provider  User `gorm:"foreignkey:ProviderID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
