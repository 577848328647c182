// Package dialogue drives one SMS booking conversation per phone number:
// service, then date, then time, then confirmation, then booking.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/appointment"
	"github.com/hackgods/sms-booking-engine/internal/availability"
	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/conversation"
	"github.com/hackgods/sms-booking-engine/internal/extract"
	"github.com/hackgods/sms-booking-engine/internal/llm"
	"github.com/hackgods/sms-booking-engine/internal/metrics"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

type Catalog interface {
	ActiveServices(ctx context.Context) ([]catalog.Service, error)
}

type Openings interface {
	Today() schedule.Date
	Offers(ctx context.Context, svc catalog.Service, date schedule.Date) ([]availability.Offer, error)
	NextOffers(ctx context.Context, svc catalog.Service, from schedule.Date, days int) (schedule.Date, []availability.Offer, error)
}

type Booker interface {
	Book(ctx context.Context, req appointment.BookingRequest, onBooked func(ctx context.Context) error) (appointment.BookingResult, error)
}

type ConfirmMode string

const (
	// ConfirmInferred books at once when the user names an offered time
	// exactly, with am/pm or in 24-hour form. Anything inferred is confirmed first.
	ConfirmInferred ConfirmMode = "inferred"
	ConfirmAlways   ConfirmMode = "always"
)

type Options struct {
	ConfirmMode     ConfirmMode
	MaxOffered      int
	Tolerance       time.Duration
	SearchAheadDays int
	MaxRetries      int
	TTL             time.Duration
	BusinessName    string
	BusinessPhone   string
	Now             func() time.Time
}

// Inbound is one SMS received from From.
type Inbound struct {
	From      string
	To        string
	Body      string
	Timestamp time.Time
}

// Reply is what to send back. NoAction means send nothing.
type Reply struct {
	Text        string
	Prompt      PromptKind
	Step        conversation.Step
	NoAction    bool
	Appointment *appointment.Appointment
}

type Controller struct {
	store     conversation.Store
	extractor *extract.Extractor
	catalog   Catalog
	openings  Openings
	booker    Booker
	bridge    llm.Bridge
	opts      Options
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// New builds a controller. bridge and m may be nil.
func New(store conversation.Store, ex *extract.Extractor, cat Catalog, openings Openings, booker Booker, bridge llm.Bridge, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Controller {
	if opts.ConfirmMode == "" {
		opts.ConfirmMode = ConfirmInferred
	}
	if opts.MaxOffered <= 0 {
		opts.MaxOffered = 10
	}
	if opts.SearchAheadDays <= 0 {
		opts.SearchAheadDays = 14
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BusinessName == "" {
		opts.BusinessName = "us"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		store:     store,
		extractor: ex,
		catalog:   cat,
		openings:  openings,
		booker:    booker,
		bridge:    bridge,
		opts:      opts,
		metrics:   m,
		log:       logger.With().Str("component", "dialogue").Logger(),
	}
}

type persistence int

const (
	persistSave persistence = iota
	persistClear
	// persistNone writes nothing, clearing only a stale entry.
	persistNone
	// persistDone means the booking already cleared the state.
	persistDone
)

// slots is the extractor output folded into one value.
type slots struct {
	service   *catalog.Service
	ambiguous []catalog.Service
	date      *schedule.Date
	time      *extract.TimeMatch
	choice    *int
	confirm   bool
	reject    bool
	cancel    bool
	intent    bool
}

func (s slots) hasSlot() bool {
	return s.service != nil || len(s.ambiguous) > 0 || s.date != nil || s.time != nil || s.choice != nil
}

func (s slots) empty() bool {
	return !s.hasSlot() && !s.confirm && !s.reject && !s.cancel && !s.intent
}

func collect(ms []extract.Match) slots {
	var s slots
	for _, m := range ms {
		switch v := m.(type) {
		case extract.ServiceMatch:
			svc := v.Service
			s.service = &svc
		case extract.AmbiguousService:
			s.ambiguous = v.Candidates
		case extract.DateMatch:
			d := v.Date
			s.date = &d
		case extract.TimeMatch:
			tm := v
			s.time = &tm
		case extract.ChoiceMatch:
			i := v.Index
			s.choice = &i
		case extract.Confirmation:
			s.confirm = true
		case extract.Rejection:
			s.reject = true
		case extract.Cancellation:
			s.cancel = true
		case extract.BookingIntent:
			s.intent = true
		}
	}
	return s
}

// turn is the working set for one inbound message.
type turn struct {
	phone    string
	body     string
	prev     conversation.State
	exists   bool
	st       conversation.State
	services []catalog.Service
	today    schedule.Date
	slots    slots
	llmText  string
	progress bool
	persist  persistence
	// full is every opening on st.Date, fetched at most once per turn.
	full []availability.Offer
}

func (t *turn) stall() {
	t.st.Retries++
}

// Handle processes one inbound message under the sender's lock. On a hard
// failure it returns an apology reply together with the error, and the stored
// conversation is left as it was before the message.
func (c *Controller) Handle(ctx context.Context, in Inbound) (Reply, error) {
	phone := conversation.NormalizePhone(in.From)
	body := strings.TrimSpace(in.Body)
	if phone == "" || body == "" {
		return Reply{NoAction: true, Step: conversation.StepIdle}, nil
	}

	started := time.Now()
	var reply Reply
	from := conversation.StepIdle
	err := c.store.WithLock(ctx, phone, func(ctx context.Context) error {
		var err error
		reply, from, err = c.handleLocked(ctx, phone, body)
		return err
	})
	elapsed := time.Since(started)

	if err != nil {
		if reply.Text == "" {
			reply = Reply{Text: apologyText, Prompt: PromptError, Step: from}
		}
		c.log.Error().Err(err).
			Str("phone", conversation.MaskPhone(phone)).
			Str("prompt", string(reply.Prompt)).
			Dur("duration", elapsed).
			Msg("turn failed")
	} else {
		c.log.Info().
			Str("phone", conversation.MaskPhone(phone)).
			Str("from", string(from)).
			Str("to", string(reply.Step)).
			Str("prompt", string(reply.Prompt)).
			Dur("duration", elapsed).
			Msg("turn handled")
	}
	c.metrics.Turn(string(reply.Step), string(reply.Prompt), elapsed)
	return reply, err
}

func (c *Controller) handleLocked(ctx context.Context, phone, body string) (Reply, conversation.Step, error) {
	now := c.opts.Now()

	prev, err := c.store.Load(ctx, phone)
	exists := true
	switch {
	case errors.Is(err, conversation.ErrStateNotFound):
		exists = false
		prev = conversation.NewState(phone, now)
	case err != nil:
		return Reply{}, conversation.StepIdle, fmt.Errorf("load conversation: %w", err)
	}
	if exists && prev.Expired(now, c.opts.TTL) {
		c.metrics.Expired()
		c.log.Debug().Str("phone", conversation.MaskPhone(phone)).Time("last_updated", prev.LastUpdated).Msg("conversation expired")
		prev = conversation.NewState(phone, now)
	}
	from := prev.Step

	services, err := c.catalog.ActiveServices(ctx)
	if err != nil {
		return Reply{Step: from}, from, fmt.Errorf("load services: %w", err)
	}

	t := &turn{
		phone:    phone,
		body:     body,
		prev:     prev,
		exists:   exists,
		st:       prev.Clone(),
		services: services,
		today:    c.openings.Today(),
	}
	t.slots = collect(c.extractor.Extract(extract.Input{Text: body, Today: t.today, Services: services}))
	if t.slots.empty() && c.bridge != nil {
		c.consult(ctx, t)
	}

	reply, err := c.decide(ctx, t)
	if err != nil {
		if reply.Step == "" {
			reply.Step = from
		}
		return reply, from, err
	}

	switch t.persist {
	case persistSave:
		if t.progress {
			t.st.Retries = 0
		}
		if t.st.Retries >= c.opts.MaxRetries {
			reply.Text += c.humanFallback()
		}
		t.st.LastUpdated = now
		if c.bridge != nil {
			t.st.AddTurn(conversation.RoleUser, body, now)
			t.st.AddTurn(conversation.RoleAssistant, reply.Text, now)
		}
		if err := c.store.Save(ctx, t.st); err != nil {
			return Reply{Step: from}, from, fmt.Errorf("save conversation: %w", err)
		}
	case persistClear, persistNone:
		if t.exists {
			if err := c.store.Clear(ctx, phone); err != nil {
				return Reply{Step: from}, from, fmt.Errorf("clear conversation: %w", err)
			}
		}
		t.st.Step = conversation.StepIdle
	case persistDone:
		t.st.Step = conversation.StepIdle
	}

	reply.Step = t.st.Step
	return reply, from, nil
}

func (c *Controller) decide(ctx context.Context, t *turn) (Reply, error) {
	st := &t.st
	sl := t.slots

	if sl.cancel {
		t.persist = persistClear
		return Reply{Text: cancelledText, Prompt: PromptCancelled}, nil
	}

	if st.Step == conversation.StepIdle {
		if !sl.intent && !sl.hasSlot() {
			t.persist = persistNone
			if t.llmText != "" {
				return Reply{Text: t.llmText, Prompt: PromptInfo}, nil
			}
			return Reply{Text: c.greetingText(), Prompt: PromptGreeting}, nil
		}
		st.Step = conversation.StepAwaitingService
		t.progress = true
	}

	c.apply(t)
	return c.advance(ctx, t)
}

// apply folds recognized slots into the state. A new service or date drops
// the chosen time and the offers made for the old selection.
func (c *Controller) apply(t *turn) {
	st := &t.st
	sl := t.slots

	svc := sl.service
	if svc == nil && st.ServiceID == nil {
		if svc = c.serviceByPosition(t); svc != nil {
			// the number answered the service list, not a time question
			t.slots.choice = nil
			t.slots.time = nil
		}
	}
	if svc != nil && (st.ServiceID == nil || *st.ServiceID != svc.ID) {
		id := svc.ID
		st.ServiceID = &id
		st.DropTime()
		t.progress = true
	}

	switch {
	case sl.date != nil && (st.Date == nil || *st.Date != *sl.date):
		d := *sl.date
		st.Date = &d
		st.Suggested = nil
		st.DropTime()
		t.progress = true
	case sl.date == nil && st.Date == nil && st.Suggested != nil && sl.confirm:
		st.Date = st.Suggested
		st.Suggested = nil
		st.DropTime()
		t.progress = true
	}
}

// serviceByPosition lets a reply to the numbered service list pick by number.
func (c *Controller) serviceByPosition(t *turn) *catalog.Service {
	if t.prev.Step != conversation.StepAwaitingService {
		return nil
	}
	var idx int
	switch n, err := strconv.Atoi(strings.Trim(t.body, " .!#")); {
	case t.slots.choice != nil:
		idx = *t.slots.choice
		if idx == -1 {
			idx = len(t.services) - 1
		}
	case err == nil && n >= 1:
		idx = n - 1
	default:
		return nil
	}
	if idx < 0 || idx >= len(t.services) {
		return nil
	}
	svc := t.services[idx]
	return &svc
}

func (c *Controller) advance(ctx context.Context, t *turn) (Reply, error) {
	st := &t.st
	sl := t.slots
	t.persist = persistSave

	if st.ServiceID == nil {
		st.Step = conversation.StepAwaitingService
		if len(sl.ambiguous) > 0 {
			t.stall()
			return Reply{Text: ambiguousServiceText(sl.ambiguous), Prompt: PromptAmbiguousService}, nil
		}
		if !t.progress {
			t.stall()
		}
		return Reply{Text: askServiceText(t.services, t.progress), Prompt: PromptAskService}, nil
	}
	svc, ok := findService(t.services, *st.ServiceID)
	if !ok {
		st.ServiceID = nil
		st.DropTime()
		st.Step = conversation.StepAwaitingService
		return Reply{Text: askServiceText(t.services, false), Prompt: PromptAskService}, nil
	}

	if st.Date == nil {
		first := st.Step != conversation.StepAwaitingDate
		st.Step = conversation.StepAwaitingDate
		if !t.progress {
			t.stall()
		}
		return Reply{Text: askDateText(svc, first), Prompt: PromptAskDate}, nil
	}
	if st.Date.Before(t.today) {
		past := *st.Date
		st.Date = nil
		st.DropTime()
		st.Step = conversation.StepAwaitingDate
		t.stall()
		return Reply{Text: pastDateText(past), Prompt: PromptAskDate}, nil
	}

	if len(st.Offered) == 0 {
		offers, err := c.openingsOn(ctx, t, svc)
		if err != nil {
			return Reply{}, err
		}
		if len(offers) == 0 {
			return c.noAvailability(ctx, t, svc)
		}
		st.Offered = c.limit(offers)
		st.Step = conversation.StepAwaitingTime
		t.progress = true
		if sl.time == nil && sl.choice == nil {
			return Reply{Text: offerTimesText(*st.Date, st.Offered), Prompt: PromptOfferTimes}, nil
		}
	}

	if sl.time != nil || sl.choice != nil {
		offer, direct, found, err := c.resolveTime(ctx, t, svc)
		if err != nil {
			return Reply{}, err
		}
		if !found {
			st.Time = nil
			st.StaffID = nil
			st.Step = conversation.StepAwaitingTime
			t.stall()
			return Reply{Text: timeUnavailableText(c.wanted(t), *st.Date, st.Offered), Prompt: PromptTimeUnavailable}, nil
		}
		start, staff := offer.Start, offer.StaffID
		st.Time = &start
		st.StaffID = &staff
		t.progress = true
		if direct && c.opts.ConfirmMode == ConfirmInferred {
			return c.book(ctx, t, svc)
		}
		st.Step = conversation.StepAwaitingConfirmation
		return Reply{Text: confirmText(svc, *st.Date, start), Prompt: PromptConfirm}, nil
	}

	if st.Step == conversation.StepAwaitingConfirmation && st.Complete() {
		switch {
		case sl.confirm:
			return c.book(ctx, t, svc)
		case sl.reject:
			st.Time = nil
			st.StaffID = nil
			st.Step = conversation.StepAwaitingTime
			t.progress = true
			return Reply{Text: offerTimesText(*st.Date, st.Offered), Prompt: PromptOfferTimes}, nil
		}
		t.stall()
		return Reply{Text: confirmText(svc, *st.Date, *st.Time), Prompt: PromptConfirm}, nil
	}

	st.Step = conversation.StepAwaitingTime
	if sl.reject {
		return c.searchAhead(ctx, t, svc)
	}
	if !t.progress {
		t.stall()
	}
	return Reply{Text: offerTimesText(*st.Date, st.Offered), Prompt: PromptOfferTimes}, nil
}

// resolveTime maps the user's time or choice to an opening. direct is true
// only for an explicit time that equals an opening exactly.
func (c *Controller) resolveTime(ctx context.Context, t *turn, svc catalog.Service) (availability.Offer, bool, bool, error) {
	st := &t.st
	if t.slots.choice != nil {
		idx := *t.slots.choice
		if idx == -1 {
			idx = len(st.Offered) - 1
		}
		if idx < 0 || idx >= len(st.Offered) {
			return availability.Offer{}, false, false, nil
		}
		return st.Offered[idx], false, true, nil
	}

	tm := *t.slots.time
	if o, ok := st.OfferAt(tm.Clock); ok {
		return o, tm.Explicit, true, nil
	}

	full, err := c.openingsOn(ctx, t, svc)
	if err != nil {
		return availability.Offer{}, false, false, err
	}
	if o, ok := offerAt(full, tm.Clock); ok {
		return o, tm.Explicit, true, nil
	}
	if !tm.Explicit {
		if o, ok := offerAt(full, alternateMeridiem(tm.Clock)); ok {
			return o, false, true, nil
		}
	}
	if o, ok := nearest(full, tm.Clock, c.opts.Tolerance); ok {
		return o, false, true, nil
	}
	return availability.Offer{}, false, false, nil
}

// openingsOn returns every opening for svc on the turn's date.
func (c *Controller) openingsOn(ctx context.Context, t *turn, svc catalog.Service) ([]availability.Offer, error) {
	if t.full != nil {
		return t.full, nil
	}
	offers, err := c.openings.Offers(ctx, svc, *t.st.Date)
	if err != nil {
		return nil, fmt.Errorf("compute openings: %w", err)
	}
	if offers == nil {
		offers = []availability.Offer{}
	}
	t.full = offers
	return offers, nil
}

func (c *Controller) noAvailability(ctx context.Context, t *turn, svc catalog.Service) (Reply, error) {
	st := &t.st
	day := *st.Date
	next, _, err := c.openings.NextOffers(ctx, svc, day.AddDays(1), c.opts.SearchAheadDays)
	if err != nil {
		return Reply{}, fmt.Errorf("search ahead: %w", err)
	}

	st.Date = nil
	st.DropTime()
	st.Suggested = nil
	if !next.IsZero() {
		st.Suggested = &next
	}
	st.Step = conversation.StepAwaitingDate
	return Reply{Text: noAvailabilityText(day, next, c.opts.SearchAheadDays), Prompt: PromptNoAvailability}, nil
}

// searchAhead answers "none of these work" with the next date that has openings.
func (c *Controller) searchAhead(ctx context.Context, t *turn, svc catalog.Service) (Reply, error) {
	st := &t.st
	day := *st.Date
	next, offers, err := c.openings.NextOffers(ctx, svc, day.AddDays(1), c.opts.SearchAheadDays)
	if err != nil {
		return Reply{}, fmt.Errorf("search ahead: %w", err)
	}
	t.progress = true
	if next.IsZero() {
		st.Date = nil
		st.DropTime()
		st.Step = conversation.StepAwaitingDate
		return Reply{Text: noAvailabilityText(day, next, c.opts.SearchAheadDays), Prompt: PromptNoAvailability}, nil
	}
	st.Date = &next
	st.Time = nil
	st.StaffID = nil
	st.Offered = c.limit(offers)
	st.Step = conversation.StepAwaitingTime
	return Reply{Text: nextDayText(day, next, st.Offered), Prompt: PromptOfferTimes}, nil
}

func (c *Controller) book(ctx context.Context, t *turn, svc catalog.Service) (Reply, error) {
	st := &t.st
	req := appointment.BookingRequest{
		Phone:   t.phone,
		StaffID: *st.StaffID,
		Service: svc,
		Date:    *st.Date,
		Start:   *st.Time,
	}

	cleared := false
	res, err := c.booker.Book(ctx, req, func(ctx context.Context) error {
		if err := c.store.Clear(ctx, t.phone); err != nil {
			return err
		}
		cleared = true
		return nil
	})
	c.metrics.Booking(string(res.Outcome))

	switch {
	case errors.Is(err, appointment.ErrUnknownClient):
		return Reply{Text: c.clientFailureText(), Prompt: PromptClientFailure, Step: t.prev.Step}, err
	case err != nil:
		if cleared && t.exists {
			if rerr := c.store.Save(context.WithoutCancel(ctx), t.prev); rerr != nil {
				c.log.Error().Err(rerr).Str("phone", conversation.MaskPhone(t.phone)).Msg("failed to restore conversation after booking failure")
			}
		}
		return Reply{}, fmt.Errorf("book: %w", err)
	}

	switch res.Outcome {
	case appointment.OutcomeBooked:
		st.Step = conversation.StepCompleted
		t.persist = persistDone
		return Reply{
			Text:        bookedText(svc, req.Date, req.Start),
			Prompt:      PromptBooked,
			Appointment: res.Appointment,
		}, nil
	case appointment.OutcomeConflict:
		return c.conflict(ctx, t, svc)
	default:
		return Reply{}, fmt.Errorf("book: unexpected outcome %q", res.Outcome)
	}
}

// conflict re-offers fresh openings after a lost race.
func (c *Controller) conflict(ctx context.Context, t *turn, svc catalog.Service) (Reply, error) {
	st := &t.st
	st.Time = nil
	st.StaffID = nil
	t.full = nil
	t.persist = persistSave
	t.progress = true

	offers, err := c.openingsOn(ctx, t, svc)
	if err != nil {
		return Reply{}, err
	}
	if len(offers) == 0 {
		reply, err := c.searchAhead(ctx, t, svc)
		if err != nil {
			return Reply{}, err
		}
		reply.Text = "Sorry, that time was just taken. " + reply.Text
		reply.Prompt = PromptConflict
		return reply, nil
	}
	st.Offered = c.limit(offers)
	st.Step = conversation.StepAwaitingTime
	return Reply{Text: conflictText(*st.Date, st.Offered), Prompt: PromptConflict}, nil
}

// consult asks the LLM bridge about a message the extractor could not place.
// Any bridge failure leaves the turn to the rule-based path.
func (c *Controller) consult(ctx context.Context, t *turn) {
	res, err := c.bridge.Interpret(ctx, llm.Request{
		Message:  t.body,
		History:  t.st.History,
		Services: t.services,
		State:    t.st,
		Today:    t.today,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("phone", conversation.MaskPhone(t.phone)).Msg("llm bridge failed, using rules only")
		return
	}

	switch r := res.(type) {
	case llm.FunctionCall:
		if name := r.Args["service"]; name != "" {
			if m, ok := c.extractor.MatchService(name, t.services); ok {
				if sm, ok := m.(extract.ServiceMatch); ok {
					svc := sm.Service
					t.slots.service = &svc
				}
			}
		}
		if raw := r.Args["date"]; raw != "" {
			if d, err := schedule.ParseDate(raw); err == nil {
				t.slots.date = &d
			} else if d, ok := c.extractor.ParseDate(raw, t.today); ok {
				t.slots.date = &d
			}
		}
		if raw := r.Args["time"]; raw != "" {
			if clock, err := schedule.ParseClock(raw); err == nil {
				t.slots.time = &extract.TimeMatch{Clock: clock}
			} else if tm, ok := c.extractor.ParseTime(raw); ok {
				tm.Explicit = false
				t.slots.time = &tm
			}
		}
		t.slots.intent = true
	case llm.PlainText:
		t.llmText = r.Text
	}
}

func (c *Controller) limit(offers []availability.Offer) []availability.Offer {
	if len(offers) > c.opts.MaxOffered {
		offers = offers[:c.opts.MaxOffered]
	}
	return append([]availability.Offer(nil), offers...)
}

func (c *Controller) wanted(t *turn) string {
	if t.slots.time != nil {
		return t.slots.time.Clock.Kitchen()
	}
	return "that option"
}

func findService(services []catalog.Service, id int64) (catalog.Service, bool) {
	for _, svc := range services {
		if svc.ID == id {
			return svc, true
		}
	}
	return catalog.Service{}, false
}

func offerAt(offers []availability.Offer, c schedule.Clock) (availability.Offer, bool) {
	for _, o := range offers {
		if o.Start == c {
			return o, true
		}
	}
	return availability.Offer{}, false
}

func alternateMeridiem(c schedule.Clock) schedule.Clock {
	if c.Hour() < 12 {
		return c + 12*60
	}
	return c - 12*60
}

// nearest returns the opening closest to c within tol, preferring the earlier
// one on a tie.
func nearest(offers []availability.Offer, c schedule.Clock, tol time.Duration) (availability.Offer, bool) {
	limit := int(tol / time.Minute)
	best, bestDiff := availability.Offer{}, -1
	for _, o := range offers {
		diff := int(o.Start - c)
		if diff < 0 {
			diff = -diff
		}
		if diff <= limit && (bestDiff < 0 || diff < bestDiff) {
			best, bestDiff = o, diff
		}
	}
	return best, bestDiff >= 0
}
