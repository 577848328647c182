package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/catalog"
	redisclient "github.com/hackgods/sms-booking-engine/internal/redis"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventBookingConflict      = "BOOKING_CONFLICT"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	// ErrUnknownClient means no client record could be found or created for
	// the phone number. It is not retried.
	ErrUnknownClient  = errors.New("client could not be resolved")
	ErrInvalidBooking = errors.New("invalid booking request")

	errSlotTaken = errors.New("slot taken")
)

// Availability is the commit-time re-check.
type Availability interface {
	Candidates(ctx context.Context, staffID int64, svc catalog.Service, date schedule.Date) ([]schedule.Clock, error)
}

type Outcome string

const (
	OutcomeBooked           Outcome = "booked"
	OutcomeConflict         Outcome = "conflict"
	OutcomeClientUnresolved Outcome = "client_unresolved"
)

type BookingRequest struct {
	Phone   string
	StaffID int64
	Service catalog.Service
	Date    schedule.Date
	Start   schedule.Clock
}

type BookingResult struct {
	Outcome     Outcome
	Appointment *Appointment
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	avail  Availability
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, avail Availability, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:   repo,
		locker: locker,
		avail:  avail,
		loc:    loc,
		log:    logger.With().Str("component", "booking").Logger(),
		now:    time.Now,
	}
}

func staffLockKey(staffID int64) string {
	return "booking:staff:" + strconv.FormatInt(staffID, 10)
}

// Book commits one appointment. While holding the staff member's lock it
// re-runs availability, inserts the appointment, writes the event log and
// calls onBooked, all inside one repository transaction. If onBooked fails the
// insert is rolled back. A slot lost to a concurrent booker yields
// OutcomeConflict with a nil error.
func (s *Service) Book(ctx context.Context, req BookingRequest, onBooked func(ctx context.Context) error) (BookingResult, error) {
	if req.StaffID <= 0 || req.Service.ID <= 0 || req.Service.DurationMinutes <= 0 || req.Date.IsZero() {
		return BookingResult{}, ErrInvalidBooking
	}

	client, err := s.resolveClient(ctx, req.Phone)
	if err != nil {
		return BookingResult{Outcome: OutcomeClientUnresolved}, err
	}

	start := req.Date.At(req.Start, s.loc)
	end := start.Add(req.Service.Duration())

	var booked *Appointment

	err = s.locker.WithLock(ctx, staffLockKey(req.StaffID), func(lockCtx context.Context) error {
		// Inside the critical section re-check availability from the source of truth
		candidates, err := s.avail.Candidates(lockCtx, req.StaffID, req.Service, req.Date)
		if err != nil {
			return fmt.Errorf("re-check availability: %w", err)
		}
		if !containsClock(candidates, req.Start) {
			return errSlotTaken
		}

		return s.repo.InTx(lockCtx, func(tx Repository) error {
			appt, err := tx.CreateAppointment(lockCtx, NewAppointment{
				ClientID:  client.ID,
				StaffID:   req.StaffID,
				ServiceID: req.Service.ID,
				StartTime: start,
				EndTime:   end,
				Source:    SourceSMS,
			})
			if err != nil {
				if errors.Is(err, ErrOverlap) {
					return errSlotTaken
				}
				return fmt.Errorf("create appointment: %w", err)
			}

			s.logEvent(lockCtx, tx, &appt.ID, EventAppointmentBooked, map[string]any{
				"client_id":  client.ID.String(),
				"staff_id":   req.StaffID,
				"service_id": req.Service.ID,
				"start_time": start,
				"end_time":   end,
			})

			if onBooked != nil {
				if err := onBooked(lockCtx); err != nil {
					return fmt.Errorf("finalize booking: %w", err)
				}
			}

			booked = appt
			return nil
		})
	})

	switch {
	case err == nil:
		s.log.Info().
			Str("appointment_id", booked.ID.String()).
			Int64("staff_id", req.StaffID).
			Time("start", start).
			Msg("appointment booked")
		return BookingResult{Outcome: OutcomeBooked, Appointment: booked}, nil
	case errors.Is(err, errSlotTaken), errors.Is(err, redisclient.ErrLockNotAcquired):
		s.log.Info().
			Int64("staff_id", req.StaffID).
			Time("start", start).
			Err(err).
			Msg("booking conflict")
		s.logEvent(ctx, s.repo, nil, EventBookingConflict, map[string]any{
			"staff_id":   req.StaffID,
			"service_id": req.Service.ID,
			"start_time": start,
			"reason":     err.Error(),
		})
		return BookingResult{Outcome: OutcomeConflict}, nil
	default:
		return BookingResult{}, err
	}
}

func (s *Service) resolveClient(ctx context.Context, phone string) (*Client, error) {
	if phone == "" {
		return nil, fmt.Errorf("%w: empty phone number", ErrUnknownClient)
	}
	client, err := s.repo.FindOrCreateClient(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownClient, err)
	}
	return client, nil
}

// GetAppointment loads one appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// CompletePastAppointments is intended to be called by the worker periodically.
// It returns how many appointments moved to completed.
func (s *Service) CompletePastAppointments(ctx context.Context) (int, error) {
	ended, err := s.repo.FindEndedConfirmed(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find ended appointments: %w", err)
	}

	completed := 0
	for _, appt := range ended {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to complete appointment")
			}
			continue
		}
		completed++
		id := appt.ID
		s.logEvent(ctx, s.repo, &id, EventAppointmentCompleted, map[string]any{
			"reason": "worker",
		})
	}

	return completed, nil
}

func (s *Service) logEvent(ctx context.Context, repo Repository, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}
}

func containsClock(cs []schedule.Clock, c schedule.Clock) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}
