package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// MemoryRepository is an in-process Repository. It enforces the same
// no-overlap rule as the Postgres exclusion constraint. It backs
// STORE_DRIVER=memory and the tests.
type MemoryRepository struct {
	txMu sync.Mutex // serializes InTx

	mu           sync.RWMutex
	clients      map[string]Client
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	now          func() time.Time

	// FailClients makes FindOrCreateClient fail, for exercising the
	// client-resolution path.
	FailClients error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clients:      make(map[string]Client),
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

func (r *MemoryRepository) FindOrCreateClient(_ context.Context, phone string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailClients != nil {
		return nil, r.FailClients
	}
	if c, ok := r.clients[phone]; ok {
		return &c, nil
	}
	now := r.now()
	c := Client{ID: uuid.New(), Phone: phone, CreatedAt: now, UpdatedAt: now}
	r.clients[phone] = c
	return &c, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) BusyRanges(_ context.Context, staffID int64, from, to time.Time) ([]schedule.Span, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var spans []schedule.Span
	for _, a := range r.appointments {
		if a.StaffID != staffID || a.Status == StatusCancelled {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			spans = append(spans, a.Span())
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })
	return spans, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appointments {
		if a.StaffID != in.StaffID || a.Status == StatusCancelled {
			continue
		}
		if a.StartTime.Before(in.EndTime) && in.StartTime.Before(a.EndTime) {
			return nil, ErrOverlap
		}
	}

	now := r.now()
	a := Appointment{
		ID:        uuid.New(),
		ClientID:  in.ClientID,
		StaffID:   in.StaffID,
		ServiceID: in.ServiceID,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Status:    StatusConfirmed,
		Source:    in.Source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) FindEndedConfirmed(_ context.Context, now time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusConfirmed && a.EndTime.Before(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// InTx snapshots the appointment and event tables and restores them when fn fails.
func (r *MemoryRepository) InTx(_ context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	appts := make(map[uuid.UUID]Appointment, len(r.appointments))
	for k, v := range r.appointments {
		appts[k] = v
	}
	events := len(r.events)
	r.mu.RUnlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.appointments = appts
		r.events = r.events[:events]
		r.mu.Unlock()
		return err
	}
	return nil
}

// Appointments returns a snapshot of every stored appointment ordered by start.
func (r *MemoryRepository) Appointments() []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}
