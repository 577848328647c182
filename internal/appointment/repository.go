package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

var (
	ErrClientNotFound      = errors.New("client not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrOverlap means the insert collided with another non-cancelled
	// appointment of the same staff member.
	ErrOverlap = errors.New("appointment overlaps an existing booking")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	FindOrCreateClient(ctx context.Context, phone string) (*Client, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Ledger
	BusyRanges(ctx context.Context, staffID int64, from, to time.Time) ([]schedule.Span, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Expiry worker
	FindEndedConfirmed(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// InTx runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}
