package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/halverson-labs/bookline-chat/models"
	"gorm.io/gorm"
)

// AppointmentRecord is the slice of an appointment the chat layer cares
// about: who the two parties are.
type AppointmentRecord struct {
	RequesterID uuid.UUID
	ProviderID  uuid.UUID
}

// AppointmentDirectory resolves an appointment to its two participants. The
// rows behind it belong to the upstream booking system; the chat layer never
// writes them.
type AppointmentDirectory interface {
	GetByID(ctx context.Context, appointmentID uuid.UUID) (AppointmentRecord, error)
}

type appointmentDirectory struct {
	db *gorm.DB
}

func NewAppointmentDirectory(db *gorm.DB) AppointmentDirectory {
	return &appointmentDirectory{db: db}
}

func (d *appointmentDirectory) GetByID(ctx context.Context, appointmentID uuid.UUID) (AppointmentRecord, error) {
	var appt models.Appointment
	err := d.db.WithContext(ctx).
		Select("id", "requester_id", "provider_id").
		First(&appt, "id = ?", appointmentID).Error
	if err != nil {
		return AppointmentRecord{}, storeErr("lookup appointment", err)
	}
	return AppointmentRecord{RequesterID: appt.RequesterID, ProviderID: appt.ProviderID}, nil
}
