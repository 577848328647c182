// Package extract recognizes booking slots in free-text SMS replies.
//
// Recognizers run in a fixed order: cancellation, rejection, confirmation,
// service, date, time, choice, booking intent. Date and time recognizers blank
// out the text they consume so later recognizers do not read the same digits
// twice. Unrecognized input yields no matches; nothing here returns an error.
package extract

import (
	"strings"

	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// Match is one recognized slot update.
type Match interface {
	isMatch()
}

// ServiceMatch names a catalog service. Exact is set when the full service
// name appears in the message. Fuzzy is set for typo-tolerant matches.
type ServiceMatch struct {
	Service catalog.Service
	Exact   bool
	Fuzzy   bool
}

// AmbiguousService is returned when the text fits several services equally well.
type AmbiguousService struct {
	Candidates []catalog.Service
}

type DateMatch struct {
	Date schedule.Date
}

// TimeMatch is a clock time. Explicit is false when the meridiem was inferred
// from a bare hour.
type TimeMatch struct {
	Clock    schedule.Clock
	Explicit bool
}

// ChoiceMatch points into the most recently offered slots. Index is 0-based;
// -1 means the last one.
type ChoiceMatch struct {
	Index int
}

type Confirmation struct{}
type Rejection struct{}
type Cancellation struct{}
type BookingIntent struct{}

func (ServiceMatch) isMatch()     {}
func (AmbiguousService) isMatch() {}
func (DateMatch) isMatch()        {}
func (TimeMatch) isMatch()        {}
func (ChoiceMatch) isMatch()      {}
func (Confirmation) isMatch()     {}
func (Rejection) isMatch()        {}
func (Cancellation) isMatch()     {}
func (BookingIntent) isMatch()    {}

// Input is one message plus the context needed to interpret it.
type Input struct {
	Text     string
	Today    schedule.Date
	Services []catalog.Service
}

type Options struct {
	Meridiem MeridiemPolicy
	// OpenHour and CloseHour are the business day in 24-hour clock, used by
	// the business-hours meridiem policy.
	OpenHour  int
	CloseHour int
}

type Extractor struct {
	opts  Options
	chain []recognizer
}

type recognizer func(e *Extractor, s *scan) []Match

func New(opts Options) *Extractor {
	if opts.Meridiem == "" {
		opts.Meridiem = PolicyBusinessHours
	}
	if opts.CloseHour <= 0 {
		opts.CloseHour = 18
	}
	if opts.OpenHour <= 0 {
		opts.OpenHour = 9
	}
	return &Extractor{
		opts: opts,
		chain: []recognizer{
			recognizeRejection,
			recognizeConfirmation,
			recognizeService,
			recognizeDate,
			recognizeTime,
			recognizeChoice,
			recognizeIntent,
		},
	}
}

// Extract runs the recognizer chain. A cancellation phrase short-circuits
// everything else.
func (e *Extractor) Extract(in Input) []Match {
	s := newScan(in)
	if s.text == "" {
		return nil
	}
	if isCancellation(s.text) {
		return []Match{Cancellation{}}
	}

	var out []Match
	for _, r := range e.chain {
		out = append(out, r(e, s)...)
	}
	return out
}

// ParseDate runs only the date recognizer over text.
func (e *Extractor) ParseDate(text string, today schedule.Date) (schedule.Date, bool) {
	for _, m := range recognizeDate(e, newScan(Input{Text: text, Today: today})) {
		if d, ok := m.(DateMatch); ok {
			return d.Date, true
		}
	}
	return schedule.Date{}, false
}

// ParseTime runs only the time recognizer over text.
func (e *Extractor) ParseTime(text string) (TimeMatch, bool) {
	for _, m := range recognizeTime(e, newScan(Input{Text: text})) {
		if t, ok := m.(TimeMatch); ok {
			return t, true
		}
	}
	return TimeMatch{}, false
}

// MatchService runs only the service recognizer over text.
func (e *Extractor) MatchService(text string, services []catalog.Service) (Match, bool) {
	ms := recognizeService(e, newScan(Input{Text: text, Services: services}))
	if len(ms) == 0 {
		return nil, false
	}
	return ms[0], true
}

// scan holds the normalized message and the part not yet consumed.
type scan struct {
	in   Input
	text string
	rest []byte
	// rejected is set once a rejection is seen so confirmation is skipped.
	rejected bool
}

func newScan(in Input) *scan {
	text := normalize(in.Text)
	return &scan{in: in, text: text, rest: []byte(text)}
}

// consume blanks rest[from:to].
func (s *scan) consume(from, to int) {
	for i := from; i < to && i < len(s.rest); i++ {
		s.rest[i] = ' '
	}
}

func (s *scan) remaining() string { return string(s.rest) }

// normalize lowercases, unifies apostrophes and replaces punctuation that never
// carries meaning here with spaces. Offsets are kept stable within the result.
func normalize(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.NewReplacer("’", "'", "‘", "'", "“", " ", "”", " ").Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	space := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', strings.ContainsRune(":/-#'.@&", r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
}
