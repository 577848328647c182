package extract

import (
	"testing"
	"time"

	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// 2025-09-01 is a Monday.
var today = schedule.NewDate(2025, time.September, 1)

var services = []catalog.Service{
	{ID: 1, Name: "Signature Head Spa", Category: "head_spa", DurationMinutes: 60, Active: true},
	{ID: 2, Name: "Deluxe Head Spa", Category: "head_spa", DurationMinutes: 90, Active: true},
	{ID: 3, Name: "Platinum Head Spa", Category: "head_spa", DurationMinutes: 120, Active: true},
}

func find[T Match](ms []Match) (T, bool) {
	for _, m := range ms {
		if v, ok := m.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func TestParseDate(t *testing.T) {
	e := New(Options{})

	tests := []struct {
		text string
		want schedule.Date
		ok   bool
	}{
		{text: "today", want: today, ok: true},
		{text: "tomorrow", want: schedule.NewDate(2025, time.September, 2), ok: true},
		{text: "tmrw pls", want: schedule.NewDate(2025, time.September, 2), ok: true},
		{text: "day after tomorrow", want: schedule.NewDate(2025, time.September, 3), ok: true},
		{text: "monday", want: today, ok: true},
		{text: "this monday", want: today, ok: true},
		{text: "next monday", want: schedule.NewDate(2025, time.September, 8), ok: true},
		{text: "friday", want: schedule.NewDate(2025, time.September, 5), ok: true},
		{text: "next friday", want: schedule.NewDate(2025, time.September, 5), ok: true},
		{text: "sunday", want: schedule.NewDate(2025, time.September, 7), ok: true},
		{text: "next week", want: schedule.NewDate(2025, time.September, 8), ok: true},
		{text: "9/10", want: schedule.NewDate(2025, time.September, 10), ok: true},
		{text: "9/10/26", want: schedule.NewDate(2026, time.September, 10), ok: true},
		{text: "Sept 10th", want: schedule.NewDate(2025, time.September, 10), ok: true},
		{text: "the 10th of September", want: schedule.NewDate(2025, time.September, 10), ok: true},
		{text: "2025-12-31", want: schedule.NewDate(2025, time.December, 31), ok: true},
		{text: "jan 5", want: schedule.NewDate(2026, time.January, 5), ok: true},
		{text: "2/30", ok: false},
		{text: "sometime soon", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := e.ParseDate(tt.text, today)
			if ok != tt.ok {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name     string
		policy   MeridiemPolicy
		text     string
		want     schedule.Clock
		explicit bool
		ok       bool
	}{
		{name: "pm suffix", text: "3pm", want: schedule.NewClock(15, 0), explicit: true, ok: true},
		{name: "spaced pm with minutes", text: "3:30 p.m.", want: schedule.NewClock(15, 30), explicit: true, ok: true},
		{name: "am suffix", text: "10am", want: schedule.NewClock(10, 0), explicit: true, ok: true},
		{name: "twelve pm", text: "12pm", want: schedule.NewClock(12, 0), explicit: true, ok: true},
		{name: "twelve am", text: "12am", want: schedule.NewClock(0, 0), explicit: true, ok: true},
		{name: "noon", text: "around noon", want: schedule.NewClock(12, 0), explicit: true, ok: true},
		{name: "24 hour", text: "14:00", want: schedule.NewClock(14, 0), explicit: true, ok: true},
		{name: "bare hour in business hours", text: "3", want: schedule.NewClock(15, 0), ok: true},
		{name: "at hour", text: "at 5", want: schedule.NewClock(17, 0), ok: true},
		{name: "hour at closing reads as morning", text: "6", want: schedule.NewClock(6, 0), ok: true},
		{name: "morning hour", text: "9", want: schedule.NewClock(9, 0), ok: true},
		{name: "colon without meridiem", text: "2:30", want: schedule.NewClock(14, 30), ok: true},
		{name: "o'clock", text: "4 o'clock", want: schedule.NewClock(16, 0), ok: true},
		{name: "always am", policy: PolicyAlwaysAM, text: "3", want: schedule.NewClock(3, 0), ok: true},
		{name: "always pm", policy: PolicyAlwaysPM, text: "9", want: schedule.NewClock(21, 0), ok: true},
		{name: "number inside sentence", text: "i have 2 kids", ok: false},
		{name: "no time", text: "whenever", ok: false},
		{name: "out of range", text: "13pm", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{Meridiem: tt.policy, OpenHour: 9, CloseHour: 18})
			got, ok := e.ParseTime(tt.text)
			if ok != tt.ok {
				t.Fatalf("ParseTime(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Clock != tt.want || got.Explicit != tt.explicit {
				t.Errorf("ParseTime(%q) = %s explicit=%v, want %s explicit=%v",
					tt.text, got.Clock, got.Explicit, tt.want, tt.explicit)
			}
		})
	}
}

func TestParseTime_BusinessHoursWindow(t *testing.T) {
	// open 7 to 21: 8 is a morning appointment, 6 can only be an evening one
	e := New(Options{OpenHour: 7, CloseHour: 21})

	tests := []struct {
		text string
		want schedule.Clock
	}{
		{text: "8", want: schedule.NewClock(8, 0)},
		{text: "11", want: schedule.NewClock(11, 0)},
		{text: "6", want: schedule.NewClock(18, 0)},
		{text: "at 3", want: schedule.NewClock(15, 0)},
		{text: "9", want: schedule.NewClock(9, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := e.ParseTime(tt.text)
			if !ok || got.Clock != tt.want {
				t.Errorf("ParseTime(%q) = %s, %v, want %s", tt.text, got.Clock, ok, tt.want)
			}
		})
	}
}

func TestMatchService(t *testing.T) {
	e := New(Options{})

	tests := []struct {
		name      string
		text      string
		wantID    int64
		exact     bool
		fuzzy     bool
		ambiguous int
	}{
		{name: "exact name", text: "Deluxe Head Spa", wantID: 2, exact: true},
		{name: "name in sentence", text: "can I get the platinum head spa", wantID: 3, exact: true},
		{name: "distinctive word", text: "deluxe please", wantID: 2},
		{name: "typo", text: "the platnum one", wantID: 3, fuzzy: true},
		{name: "shared words only", text: "a head spa", ambiguous: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := e.MatchService(tt.text, services)
			if !ok {
				t.Fatalf("MatchService(%q) found nothing", tt.text)
			}
			if tt.ambiguous > 0 {
				amb, ok := m.(AmbiguousService)
				if !ok || len(amb.Candidates) != tt.ambiguous {
					t.Fatalf("MatchService(%q) = %#v, want %d candidates", tt.text, m, tt.ambiguous)
				}
				return
			}
			sm, ok := m.(ServiceMatch)
			if !ok {
				t.Fatalf("MatchService(%q) = %#v, want ServiceMatch", tt.text, m)
			}
			if sm.Service.ID != tt.wantID || sm.Exact != tt.exact || sm.Fuzzy != tt.fuzzy {
				t.Errorf("MatchService(%q) = id %d exact=%v fuzzy=%v", tt.text, sm.Service.ID, sm.Exact, sm.Fuzzy)
			}
		})
	}

	if _, ok := e.MatchService("what time do you close", services); ok {
		t.Error("unrelated text should not match a service")
	}
}

func TestExtract_FullMessage(t *testing.T) {
	e := New(Options{})
	ms := e.Extract(Input{Text: "I'd like the Deluxe Head Spa tomorrow at 3pm", Today: today, Services: services})

	svc, ok := find[ServiceMatch](ms)
	if !ok || svc.Service.ID != 2 {
		t.Errorf("service = %+v, %v", svc, ok)
	}
	date, ok := find[DateMatch](ms)
	if !ok || date.Date != schedule.NewDate(2025, time.September, 2) {
		t.Errorf("date = %+v, %v", date, ok)
	}
	tm, ok := find[TimeMatch](ms)
	if !ok || tm.Clock != schedule.NewClock(15, 0) || !tm.Explicit {
		t.Errorf("time = %+v, %v", tm, ok)
	}
	if _, ok := find[Confirmation](ms); ok {
		t.Error("unexpected confirmation")
	}
}

func TestExtract_DateDigitsAreNotTimes(t *testing.T) {
	e := New(Options{})

	ms := e.Extract(Input{Text: "sept 10", Today: today})
	if _, ok := find[TimeMatch](ms); ok {
		t.Errorf("sept 10 produced a time: %+v", ms)
	}

	ms = e.Extract(Input{Text: "9/10 at 2", Today: today})
	tm, ok := find[TimeMatch](ms)
	if !ok || tm.Clock != schedule.NewClock(14, 0) {
		t.Errorf("time = %+v, %v, want 14:00", tm, ok)
	}

	ms = e.Extract(Input{Text: "tomorrow 3", Today: today})
	tm, ok = find[TimeMatch](ms)
	if !ok || tm.Clock != schedule.NewClock(15, 0) {
		t.Errorf("time = %+v, %v, want 15:00", tm, ok)
	}
}

func TestExtract_Replies(t *testing.T) {
	e := New(Options{})

	tests := []struct {
		text    string
		confirm bool
		reject  bool
		cancel  bool
		intent  bool
		choice  *int
	}{
		{text: "yes", confirm: true},
		{text: "Yes please!", confirm: true},
		{text: "y", confirm: true},
		{text: "sure, that works", confirm: true},
		{text: "yes, no problem", confirm: true},
		{text: "sure, no worries", confirm: true},
		{text: "no problem", confirm: true},
		{text: "that works, no rush", confirm: true},
		{text: "no", reject: true},
		{text: "no that doesn't work", reject: true},
		{text: "nope, different time", reject: true},
		{text: "cancel", cancel: true},
		{text: "start over", cancel: true},
		{text: "Never mind", cancel: true},
		{text: "STOP", cancel: true},
		{text: "quit please", cancel: true},
		{text: "stop booking", cancel: true},
		{text: "can I stop by tomorrow?"},
		{text: "I'll quit work early"},
		{text: "I want to book an appointment", intent: true},
		{text: "the second one", choice: intp(1)},
		{text: "option 2", choice: intp(1)},
		{text: "#3", choice: intp(2)},
		{text: "the last one", choice: intp(-1)},
		{text: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ms := e.Extract(Input{Text: tt.text, Today: today, Services: services})

			_, confirm := find[Confirmation](ms)
			_, reject := find[Rejection](ms)
			_, cancel := find[Cancellation](ms)
			_, intent := find[BookingIntent](ms)
			if confirm != tt.confirm || reject != tt.reject || cancel != tt.cancel || intent != tt.intent {
				t.Errorf("Extract(%q) = %#v", tt.text, ms)
			}
			if cancel && len(ms) != 1 {
				t.Errorf("cancellation should short-circuit, got %#v", ms)
			}

			choice, ok := find[ChoiceMatch](ms)
			switch {
			case tt.choice == nil && ok:
				t.Errorf("unexpected choice %+v", choice)
			case tt.choice != nil && (!ok || choice.Index != *tt.choice):
				t.Errorf("choice = %+v, %v, want %d", choice, ok, *tt.choice)
			}
		})
	}

	if ms := e.Extract(Input{Text: "   ", Today: today}); ms != nil {
		t.Errorf("blank message produced %#v", ms)
	}
}

func intp(n int) *int { return &n }
