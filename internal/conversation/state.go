// Package conversation holds per-phone booking conversations between turns.
package conversation

import (
	"time"

	"github.com/hackgods/sms-booking-engine/internal/availability"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

type Step string

const (
	StepIdle                 Step = "idle"
	StepAwaitingService      Step = "awaiting_service"
	StepAwaitingDate         Step = "awaiting_date"
	StepAwaitingTime         Step = "awaiting_time"
	StepAwaitingConfirmation Step = "awaiting_confirmation"
	StepCompleted            Step = "completed"
)

// MaxHistory bounds how many turns are kept for the LLM bridge.
const MaxHistory = 10

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// State is one in-progress booking. Offered is the last list of start times
// shown to the user, in the order shown, for Date.
type State struct {
	Phone       string               `json:"phone"`
	Step        Step                 `json:"step"`
	ServiceID   *int64               `json:"service_id,omitempty"`
	Date        *schedule.Date       `json:"date,omitempty"`
	Time        *schedule.Clock      `json:"time,omitempty"`
	StaffID     *int64               `json:"staff_id,omitempty"`
	Offered     []availability.Offer `json:"offered,omitempty"`
	// Suggested is the next date with openings, offered after a fully booked day.
	Suggested   *schedule.Date       `json:"suggested,omitempty"`
	Retries     int                  `json:"retries"`
	History     []Turn               `json:"history,omitempty"`
	LastUpdated time.Time            `json:"last_updated"`
}

func NewState(phone string, now time.Time) State {
	return State{Phone: phone, Step: StepIdle, LastUpdated: now}
}

// Expired reports whether the state has been idle for longer than ttl.
func (s State) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || s.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(s.LastUpdated) > ttl
}

// Complete reports whether service, date and time are all chosen.
func (s State) Complete() bool {
	return s.ServiceID != nil && s.Date != nil && s.Time != nil
}

// Clone returns a deep copy so a turn can be rolled back.
func (s State) Clone() State {
	out := s
	if s.ServiceID != nil {
		v := *s.ServiceID
		out.ServiceID = &v
	}
	if s.Date != nil {
		v := *s.Date
		out.Date = &v
	}
	if s.Time != nil {
		v := *s.Time
		out.Time = &v
	}
	if s.StaffID != nil {
		v := *s.StaffID
		out.StaffID = &v
	}
	if s.Suggested != nil {
		v := *s.Suggested
		out.Suggested = &v
	}
	out.Offered = append([]availability.Offer(nil), s.Offered...)
	out.History = append([]Turn(nil), s.History...)
	return out
}

// DropTime forgets the chosen time and the offers made for the previous
// service or date.
func (s *State) DropTime() {
	s.Time = nil
	s.StaffID = nil
	s.Offered = nil
}

// AddTurn appends to History, dropping the oldest turns beyond MaxHistory.
func (s *State) AddTurn(role Role, text string, at time.Time) {
	s.History = append(s.History, Turn{Role: role, Text: text, At: at})
	if n := len(s.History); n > MaxHistory {
		s.History = append([]Turn(nil), s.History[n-MaxHistory:]...)
	}
}

// OfferAt returns the offer whose start equals c.
func (s State) OfferAt(c schedule.Clock) (availability.Offer, bool) {
	for _, o := range s.Offered {
		if o.Start == c {
			return o, true
		}
	}
	return availability.Offer{}, false
}
