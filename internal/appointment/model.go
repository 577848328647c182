package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

const SourceSMS = "sms"

type Client struct {
	ID        uuid.UUID
	Phone     string
	Name      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	ClientID  uuid.UUID
	StaffID   int64
	ServiceID int64
	StartTime time.Time
	EndTime   time.Time
	Status    AppointmentStatus
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Span() schedule.Span {
	return schedule.Span{Start: a.StartTime, End: a.EndTime}
}

// NewAppointment carries the fields needed to insert a confirmed appointment.
type NewAppointment struct {
	ClientID  uuid.UUID
	StaffID   int64
	ServiceID int64
	StartTime time.Time
	EndTime   time.Time
	Source    string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
