package api

import (
	"time"

	"github.com/google/uuid"
)

// MessageRequest is the JSON form of an inbound SMS, used by tests and the
// load simulator.
type MessageRequest struct {
	From      string     `json:"from" validate:"required,min=7,max=32"`
	To        string     `json:"to" validate:"omitempty,max=32"`
	Body      string     `json:"body" validate:"required,max=1600"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type MessageResponse struct {
	Reply         string     `json:"reply,omitempty"`
	Prompt        string     `json:"prompt,omitempty"`
	Step          string     `json:"step"`
	NoAction      bool       `json:"no_action,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type AvailabilityResponse struct {
	StaffID   int64    `json:"staff_id"`
	ServiceID int64    `json:"service_id"`
	Date      string   `json:"date"`
	Slots     []string `json:"slots"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	StaffID   int64     `json:"staff_id"`
	ServiceID int64     `json:"service_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
