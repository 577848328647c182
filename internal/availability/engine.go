package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// RuleSource reads recurring availability rules.
type RuleSource interface {
	RulesForStaff(ctx context.Context, staffID int64, date schedule.Date) ([]schedule.Rule, error)
}

// Ledger reads the time already taken by non-cancelled appointments.
type Ledger interface {
	BusyRanges(ctx context.Context, staffID int64, from, to time.Time) ([]schedule.Span, error)
}

// StaffSource lists staff qualified for a service.
type StaffSource interface {
	StaffForService(ctx context.Context, serviceID int64) ([]int64, error)
}

type Options struct {
	Location    *time.Location
	Granularity time.Duration
	// MinLead keeps same-day candidates at least this far from now.
	MinLead    time.Duration
	LocationID *int64
	Now        func() time.Time
	// Parallelism bounds concurrent per-staff lookups in Offers.
	Parallelism int
}

// Offer is a start time together with the staff member who is free then.
type Offer struct {
	Start   schedule.Clock `json:"start"`
	StaffID int64          `json:"staff_id"`
}

type Engine struct {
	rules  RuleSource
	ledger Ledger
	staff  StaffSource
	opts   Options
}

func NewEngine(rules RuleSource, ledger Ledger, staff StaffSource, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Granularity <= 0 {
		opts.Granularity = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	return &Engine{rules: rules, ledger: ledger, staff: staff, opts: opts}
}

func (e *Engine) Location() *time.Location { return e.opts.Location }

// Today is the current calendar day in the business time zone.
func (e *Engine) Today() schedule.Date {
	return schedule.DateOf(e.opts.Now().In(e.opts.Location))
}

// OpenIntervals resolves the staff member's rules for date.
func (e *Engine) OpenIntervals(ctx context.Context, staffID int64, category string, date schedule.Date) ([]schedule.Interval, error) {
	rules, err := e.rules.RulesForStaff(ctx, staffID, date)
	if err != nil {
		return nil, fmt.Errorf("load rules for staff %d: %w", staffID, err)
	}
	return schedule.Resolve(rules, schedule.Query{
		StaffID:    staffID,
		Date:       date,
		Category:   category,
		LocationID: e.opts.LocationID,
	}), nil
}

// Candidates lists the start times on date at which svc fits entirely inside
// the staff member's open time without touching an existing appointment.
func (e *Engine) Candidates(ctx context.Context, staffID int64, svc catalog.Service, date schedule.Date) ([]schedule.Clock, error) {
	if svc.DurationMinutes <= 0 {
		return nil, fmt.Errorf("service %d has no duration", svc.ID)
	}

	open, err := e.OpenIntervals(ctx, staffID, svc.Category, date)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	loc := e.opts.Location
	spans, err := e.ledger.BusyRanges(ctx, staffID, date.Midnight(loc), date.AddDays(1).Midnight(loc))
	if err != nil {
		return nil, fmt.Errorf("load ledger for staff %d: %w", staffID, err)
	}
	busy := make([]schedule.Interval, 0, len(spans))
	for _, sp := range spans {
		if iv, ok := sp.ClipTo(date, loc); ok {
			busy = append(busy, iv)
		}
	}

	earliest := schedule.Clock(0)
	today := e.Today()
	switch {
	case date.Before(today):
		return nil, nil
	case date == today:
		now := e.opts.Now().In(loc).Add(e.opts.MinLead)
		if schedule.DateOf(now) != date {
			return nil, nil
		}
		earliest = schedule.NewClock(now.Hour(), now.Minute())
		if now.Second() > 0 || now.Nanosecond() > 0 {
			earliest++
		}
	}

	free := schedule.Subtract(open, busy)
	return Enumerate(free, svc.DurationMinutes, int(e.opts.Granularity/time.Minute), earliest), nil
}

// Enumerate walks each free interval on a grid of step minutes anchored at
// midnight and keeps starts where duration fits before the interval ends.
func Enumerate(free []schedule.Interval, duration, step int, earliest schedule.Clock) []schedule.Clock {
	if step <= 0 {
		step = 30
	}
	var out []schedule.Clock
	for _, iv := range free {
		start := iv.Start
		if start < earliest {
			start = earliest
		}
		if rem := int(start) % step; rem != 0 {
			start += schedule.Clock(step - rem)
		}
		for c := start; int(c)+duration <= int(iv.End); c += schedule.Clock(step) {
			out = append(out, c)
		}
	}
	return out
}

// Offers merges the candidates of every staff member qualified for svc.
// Each start time is offered once, with the lowest staff id free at that time.
func (e *Engine) Offers(ctx context.Context, svc catalog.Service, date schedule.Date) ([]Offer, error) {
	staffIDs, err := e.staff.StaffForService(ctx, svc.ID)
	if err != nil {
		return nil, fmt.Errorf("staff for service %d: %w", svc.ID, err)
	}
	if len(staffIDs) == 0 {
		return nil, nil
	}

	perStaff := make([][]schedule.Clock, len(staffIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)
	for i, id := range staffIDs {
		g.Go(func() error {
			c, err := e.Candidates(gctx, id, svc, date)
			if err != nil {
				return err
			}
			perStaff[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byStart := make(map[schedule.Clock]int64)
	for i, id := range staffIDs {
		for _, c := range perStaff[i] {
			if owner, ok := byStart[c]; !ok || id < owner {
				byStart[c] = id
			}
		}
	}

	offers := make([]Offer, 0, len(byStart))
	for c, id := range byStart {
		offers = append(offers, Offer{Start: c, StaffID: id})
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].Start < offers[j].Start })
	return offers, nil
}

// NextOffers searches forward from from (inclusive) for up to days dates and
// returns the first date with openings. A zero date means nothing was found.
func (e *Engine) NextOffers(ctx context.Context, svc catalog.Service, from schedule.Date, days int) (schedule.Date, []Offer, error) {
	if today := e.Today(); from.Before(today) {
		from = today
	}
	for i := 0; i < days; i++ {
		d := from.AddDays(i)
		offers, err := e.Offers(ctx, svc, d)
		if err != nil {
			return schedule.Date{}, nil, err
		}
		if len(offers) > 0 {
			return d, offers, nil
		}
	}
	return schedule.Date{}, nil, nil
}
