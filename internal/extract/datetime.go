package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// MeridiemPolicy decides AM or PM for a bare hour such as "3".
type MeridiemPolicy string

const (
	// PolicyBusinessHours reads h as PM when h+12 is still before closing, else AM.
	PolicyBusinessHours MeridiemPolicy = "business_hours"
	PolicyAlwaysPM      MeridiemPolicy = "always_pm"
	PolicyAlwaysAM      MeridiemPolicy = "always_am"
)

func (p MeridiemPolicy) Valid() bool {
	switch p {
	case PolicyBusinessHours, PolicyAlwaysPM, PolicyAlwaysAM:
		return true
	}
	return false
}

const monthAlt = `(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?`

var (
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	monthDayRe     = regexp.MustCompile(`\b` + monthAlt + `\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	dayMonthRe     = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthAlt + `(?:\s|$)`)
	dayAfterRe     = regexp.MustCompile(`\bday after (tomorrow|tmrw|tmr)\b`)
	todayRe        = regexp.MustCompile(`\b(today|tonight|this afternoon|this morning|this evening)\b`)
	tomorrowRe     = regexp.MustCompile(`\b(tomorrow|tmrw|tmr|tomorow|tommorow|tommorrow|2morrow)\b`)
	nextWeekRe     = regexp.MustCompile(`\bnext week\b`)
	weekdayRe      = regexp.MustCompile(`\b(?:(next|this|on)\s+)?(monday|mon|tuesday|tues|tue|wednesday|weds|wed|thursday|thurs|thur|thu|friday|fri|saturday|sat|sunday|sun)\b`)
	meridiemTimeRe = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(a\.?m\.?|p\.?m\.?)(?:[^a-z]|$)`)
	colonTimeRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	atHourRe       = regexp.MustCompile(`(?:\bat|@|\baround|\babout|\bafter|\bby)\s*(\d{1,2})\b(?:\s*o'?\s*clock\b)?`)
	oclockRe       = regexp.MustCompile(`\b(\d{1,2})\s*o'?\s*clock\b`)
	bareHourRe     = regexp.MustCompile(`^\s*(\d{1,2})\s*[.!]*\s*$`)
	noonRe         = regexp.MustCompile(`\b(noon|midday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tues": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "weds": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thurs": time.Thursday, "thur": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

type hit struct {
	start, end int
	date       schedule.Date
}

// recognizeDate returns the earliest date mention in the message and consumes
// every date mention so their digits are not read as times.
func recognizeDate(_ *Extractor, s *scan) []Match {
	today := s.in.Today
	if today.IsZero() {
		today = schedule.DateOf(time.Now())
	}
	text := s.remaining()

	var hits []hit
	add := func(loc []int, d schedule.Date, ok bool) {
		if ok {
			hits = append(hits, hit{start: loc[0], end: loc[1], date: d})
		}
	}

	for _, m := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		y, mo, d := atoi(text, m, 1), atoi(text, m, 2), atoi(text, m, 3)
		date, ok := validDate(y, mo, d)
		add(m, date, ok)
	}
	for _, m := range slashDateRe.FindAllStringSubmatchIndex(text, -1) {
		mo, d := atoi(text, m, 1), atoi(text, m, 2)
		if m[6] >= 0 {
			y := atoi(text, m, 3)
			if y < 100 {
				y += 2000
			}
			date, ok := validDate(y, mo, d)
			add(m, date, ok)
			continue
		}
		date, ok := upcoming(today, mo, d)
		add(m, date, ok)
	}
	for _, m := range monthDayRe.FindAllStringSubmatchIndex(text, -1) {
		date, ok := upcoming(today, int(months[text[m[2]:m[3]]]), atoi(text, m, 2))
		add(m, date, ok)
	}
	for _, m := range dayMonthRe.FindAllStringSubmatchIndex(text, -1) {
		date, ok := upcoming(today, int(months[text[m[4]:m[5]]]), atoi(text, m, 1))
		add(m, date, ok)
	}

	// consume "day after tomorrow" before "tomorrow" can see it
	for _, m := range dayAfterRe.FindAllStringIndex(text, -1) {
		add(m, today.AddDays(2), true)
		text = blank(text, m[0], m[1])
	}
	for _, m := range tomorrowRe.FindAllStringIndex(text, -1) {
		add(m, today.AddDays(1), true)
	}
	for _, m := range todayRe.FindAllStringIndex(text, -1) {
		add(m, today, true)
	}
	for _, m := range nextWeekRe.FindAllStringIndex(text, -1) {
		add(m, today.AddDays(7), true)
	}
	for _, m := range weekdayRe.FindAllStringSubmatchIndex(text, -1) {
		modifier := ""
		if m[2] >= 0 {
			modifier = text[m[2]:m[3]]
		}
		wd := weekdays[text[m[4]:m[5]]]
		delta := (int(wd) - int(today.Weekday()) + 7) % 7
		if modifier == "next" && delta == 0 {
			delta = 7
		}
		add(m, today.AddDays(delta), true)
	}

	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	for _, h := range hits {
		s.consume(h.start, h.end)
	}
	return []Match{DateMatch{Date: hits[0].date}}
}

type timeHit struct {
	start, end int
	clock      schedule.Clock
	explicit   bool
}

// recognizeTime returns the earliest time mention and consumes every one.
func recognizeTime(e *Extractor, s *scan) []Match {
	text := s.remaining()
	var hits []timeHit

	for _, m := range meridiemTimeRe.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text, m, 1)
		minute := 0
		if m[4] >= 0 {
			minute = atoi(text, m, 2)
		}
		if h < 1 || h > 12 || minute > 59 {
			continue
		}
		pm := strings.HasPrefix(text[m[6]:m[7]], "p")
		h24 := h % 12
		if pm {
			h24 += 12
		}
		hits = append(hits, timeHit{start: m[0], end: m[1], clock: schedule.NewClock(h24, minute), explicit: true})
		text = blank(text, m[0], m[1])
	}
	for _, m := range noonRe.FindAllStringIndex(text, -1) {
		hits = append(hits, timeHit{start: m[0], end: m[1], clock: schedule.NewClock(12, 0), explicit: true})
		text = blank(text, m[0], m[1])
	}
	for _, m := range colonTimeRe.FindAllStringSubmatchIndex(text, -1) {
		if c, explicit, ok := e.resolveHour(atoi(text, m, 1), atoi(text, m, 2)); ok {
			hits = append(hits, timeHit{start: m[0], end: m[1], clock: c, explicit: explicit})
		}
		text = blank(text, m[0], m[1])
	}
	for _, re := range []*regexp.Regexp{atHourRe, oclockRe, bareHourRe} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if c, explicit, ok := e.resolveHour(atoi(text, m, 1), 0); ok {
				hits = append(hits, timeHit{start: m[0], end: m[1], clock: c, explicit: explicit})
			}
			text = blank(text, m[0], m[1])
		}
	}

	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	for _, h := range hits {
		s.consume(h.start, h.end)
	}
	return []Match{TimeMatch{Clock: hits[0].clock, Explicit: hits[0].explicit}}
}

// resolveHour turns an hour without am/pm into a clock time. Hours 0 and
// 13-23 are 24-hour and explicit. 12 is noon. 1-11 follow the meridiem policy.
func (e *Extractor) resolveHour(h, m int) (schedule.Clock, bool, bool) {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false, false
	}
	if h == 0 || h > 12 {
		return schedule.NewClock(h, m), true, true
	}
	if h == 12 {
		return schedule.NewClock(12, m), false, true
	}
	pm := false
	switch e.opts.Meridiem {
	case PolicyAlwaysPM:
		pm = true
	case PolicyAlwaysAM:
		pm = false
	default:
		// a morning reading inside opening hours wins, then an afternoon one
		pm = h < e.opts.OpenHour && h+12 < e.opts.CloseHour
	}
	if pm {
		h += 12
	}
	return schedule.NewClock(h, m), false, true
}

var ordinals = map[string]int{
	"first": 0, "1st": 0, "earliest": 0,
	"second": 1, "2nd": 1,
	"third": 2, "3rd": 2,
	"fourth": 3, "4th": 3,
	"fifth": 4, "5th": 4,
	"sixth": 5, "6th": 5,
	"seventh": 6, "7th": 6,
	"eighth": 7, "8th": 7,
	"ninth": 8, "9th": 8,
	"tenth": 9, "10th": 9,
	"last": -1, "latest": -1,
}

var (
	ordinalRe = regexp.MustCompile(`\b(first|1st|earliest|second|2nd|third|3rd|fourth|4th|fifth|5th|sixth|6th|seventh|7th|eighth|8th|ninth|9th|tenth|10th|last|latest)\b`)
	optionRe  = regexp.MustCompile(`(?:\boption|\bnumber|\bno\.|#)\s*(\d{1,2})\b`)
)

func recognizeChoice(_ *Extractor, s *scan) []Match {
	text := s.remaining()
	if m := optionRe.FindStringSubmatchIndex(text); m != nil {
		n := atoi(text, m, 1)
		if n >= 1 {
			s.consume(m[0], m[1])
			return []Match{ChoiceMatch{Index: n - 1}}
		}
	}
	if m := ordinalRe.FindStringSubmatchIndex(text); m != nil {
		s.consume(m[0], m[1])
		return []Match{ChoiceMatch{Index: ordinals[text[m[2]:m[3]]]}}
	}
	return nil
}

// upcoming resolves a month/day without year to the next such day on or after today.
func upcoming(today schedule.Date, month, day int) (schedule.Date, bool) {
	d, ok := validDate(today.Year, month, day)
	if !ok {
		return schedule.Date{}, false
	}
	if d.Before(today) {
		return validDate(today.Year+1, month, day)
	}
	return d, true
}

func validDate(y, m, d int) (schedule.Date, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return schedule.Date{}, false
	}
	date := schedule.NewDate(y, time.Month(m), d)
	if date.Month != time.Month(m) || date.Day != d {
		return schedule.Date{}, false
	}
	return date, true
}

func atoi(text string, m []int, group int) int {
	a, b := m[2*group], m[2*group+1]
	if a < 0 {
		return 0
	}
	n, _ := strconv.Atoi(text[a:b])
	return n
}

func blank(text string, from, to int) string {
	return text[:from] + strings.Repeat(" ", to-from) + text[to:]
}
