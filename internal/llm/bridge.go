// Package llm defines the optional language-model bridge. The dialogue works
// without it; when present it is consulted only for messages the rule-based
// extractor could not place.
package llm

import (
	"context"

	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/conversation"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

const (
	FuncBookAppointment   = "book_appointment"
	FuncCheckAvailability = "check_availability"
)

type Request struct {
	Message  string
	History  []conversation.Turn
	Services []catalog.Service
	State    conversation.State
	Today    schedule.Date
}

// Result is either a FunctionCall or PlainText.
type Result interface {
	isResult()
}

// FunctionCall carries string arguments: service (name), date (YYYY-MM-DD)
// and time (HH:MM, 24-hour).
type FunctionCall struct {
	Name string
	Args map[string]string
}

type PlainText struct {
	Text string
}

func (FunctionCall) isResult() {}
func (PlainText) isResult()    {}

type Bridge interface {
	Interpret(ctx context.Context, req Request) (Result, error)
}
