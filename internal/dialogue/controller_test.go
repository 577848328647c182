package dialogue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/appointment"
	"github.com/hackgods/sms-booking-engine/internal/availability"
	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/conversation"
	"github.com/hackgods/sms-booking-engine/internal/extract"
	"github.com/hackgods/sms-booking-engine/internal/keylock"
	"github.com/hackgods/sms-booking-engine/internal/llm"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

var (
	loc = time.FixedZone("EDT", -4*3600)
	// 2025-09-01 is a Monday.
	start    = time.Date(2025, 9, 1, 8, 0, 0, 0, loc)
	tomorrow = schedule.NewDate(2025, time.September, 2)
)

const (
	alice = "+15550001111"
	bob   = "+15550002222"
)

type harness struct {
	ctrl  *Controller
	store *conversation.MemoryStore
	repo  *appointment.MemoryRepository
	now   time.Time
}

type harnessOption func(*Options, *harnessDeps)

type harnessDeps struct {
	bridge llm.Bridge
	store  conversation.Store
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cat := catalog.NewMemoryRepository()
	ids := make([]int64, 0, len(catalog.DemoServices))
	for _, svc := range catalog.DemoServices {
		cat.AddService(svc)
		ids = append(ids, svc.ID)
	}
	cat.AddStaff(catalog.Staff{ID: 7, Name: "Ana", Active: true}, ids...)
	cat.AddRules(catalog.WeeklyRules(7, time.Friday, schedule.NewClock(9, 0), schedule.NewClock(17, 0), schedule.NewDate(2025, time.January, 1))...)

	h := &harness{now: start, repo: appointment.NewMemoryRepository(), store: conversation.NewMemoryStore(30 * time.Minute)}
	clock := func() time.Time { return h.now }

	engine := availability.NewEngine(cat, h.repo, cat, availability.Options{Location: loc, Now: clock})
	booker := appointment.NewService(h.repo, keylock.New(), engine, loc, zerolog.Nop())

	o := Options{
		ConfirmMode:     ConfirmInferred,
		Tolerance:       15 * time.Minute,
		TTL:             30 * time.Minute,
		BusinessName:    "Serenity Head Spa",
		BusinessPhone:   "(555) 010-2000",
		SearchAheadDays: 14,
		Now:             clock,
	}
	deps := harnessDeps{store: h.store}
	for _, opt := range opts {
		opt(&o, &deps)
	}

	ex := extract.New(extract.Options{OpenHour: 9, CloseHour: 18})
	h.ctrl = New(deps.store, ex, catalog.NewCache(cat, time.Minute), engine, booker, deps.bridge, o, nil, zerolog.Nop())
	return h
}

func confirmAlways(o *Options, _ *harnessDeps) { o.ConfirmMode = ConfirmAlways }

func (h *harness) send(t *testing.T, phone, body string) Reply {
	t.Helper()
	reply, err := h.ctrl.Handle(context.Background(), Inbound{From: phone, To: "+15559990000", Body: body, Timestamp: h.now})
	if err != nil {
		t.Fatalf("Handle(%q) failed: %v", body, err)
	}
	return reply
}

func (h *harness) state(t *testing.T, phone string) conversation.State {
	t.Helper()
	st, err := h.store.Load(context.Background(), phone)
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", phone, err)
	}
	return st
}

func expectPrompt(t *testing.T, r Reply, kind PromptKind, step conversation.Step) {
	t.Helper()
	if r.Prompt != kind || r.Step != step {
		t.Fatalf("reply = %s/%s (%q), want %s/%s", r.Prompt, r.Step, r.Text, kind, step)
	}
}

func TestHandle_BooksInFourTurns(t *testing.T) {
	h := newHarness(t)

	r := h.send(t, alice, "I want to book")
	expectPrompt(t, r, PromptAskService, conversation.StepAwaitingService)
	if !strings.Contains(r.Text, "Signature Head Spa") {
		t.Errorf("service prompt does not list services: %q", r.Text)
	}

	r = h.send(t, alice, "Signature Head Spa")
	expectPrompt(t, r, PromptAskDate, conversation.StepAwaitingDate)

	r = h.send(t, alice, "tomorrow")
	expectPrompt(t, r, PromptOfferTimes, conversation.StepAwaitingTime)

	r = h.send(t, alice, "3pm")
	expectPrompt(t, r, PromptBooked, conversation.StepIdle)
	if !strings.Contains(r.Text, "Tuesday, September 2") || !strings.Contains(r.Text, "3:00 PM") {
		t.Errorf("confirmation text = %q", r.Text)
	}
	if r.Appointment == nil {
		t.Fatal("booked reply carries no appointment")
	}

	if _, err := h.store.Load(context.Background(), alice); !errors.Is(err, conversation.ErrStateNotFound) {
		t.Errorf("state after booking: %v, want cleared", err)
	}

	appts := h.repo.Appointments()
	if len(appts) != 1 {
		t.Fatalf("%d appointments stored, want 1", len(appts))
	}
	want := tomorrow.At(schedule.NewClock(15, 0), loc)
	if appts[0].StaffID != 7 || appts[0].ServiceID != 1 || !appts[0].StartTime.Equal(want) {
		t.Errorf("appointment = %+v", appts[0])
	}
}

func TestHandle_ConfirmedSelectionAlwaysBooks(t *testing.T) {
	h := newHarness(t, confirmAlways)

	r := h.send(t, alice, "book signature head spa tomorrow at 3pm")
	expectPrompt(t, r, PromptConfirm, conversation.StepAwaitingConfirmation)

	// noise while everything is chosen re-asks for confirmation, never for a slot
	for _, noise := range []string{"hmm", "what", "Signature Head Spa"} {
		r = h.send(t, alice, noise)
		expectPrompt(t, r, PromptConfirm, conversation.StepAwaitingConfirmation)
	}

	r = h.send(t, alice, "yes")
	expectPrompt(t, r, PromptBooked, conversation.StepIdle)
}

func TestHandle_OfferedSlotsRoundTrip(t *testing.T) {
	h := newHarness(t, confirmAlways)

	h.send(t, alice, "book the deluxe head spa tomorrow")
	offered := h.state(t, alice).Offered
	if len(offered) == 0 {
		t.Fatal("no slots offered")
	}

	for k, o := range offered {
		for _, echo := range []string{o.Start.Kitchen(), "option " + strconv.Itoa(k+1)} {
			r := h.send(t, alice, echo)
			expectPrompt(t, r, PromptConfirm, conversation.StepAwaitingConfirmation)
			if st := h.state(t, alice); st.Time == nil || *st.Time != o.Start {
				t.Fatalf("echo %q resolved to %v, want %s", echo, st.Time, o.Start)
			}

			r = h.send(t, alice, "no")
			expectPrompt(t, r, PromptOfferTimes, conversation.StepAwaitingTime)
		}
	}
}

func TestHandle_UnparseableReplyOnlyCountsRetry(t *testing.T) {
	h := newHarness(t, confirmAlways)

	steps := []struct {
		setup  string
		prompt PromptKind
		step   conversation.Step
	}{
		{setup: "I want to book", prompt: PromptAskService, step: conversation.StepAwaitingService},
		{setup: "Platinum Head Spa", prompt: PromptAskDate, step: conversation.StepAwaitingDate},
		{setup: "tomorrow", prompt: PromptOfferTimes, step: conversation.StepAwaitingTime},
		{setup: "11am", prompt: PromptConfirm, step: conversation.StepAwaitingConfirmation},
	}

	for _, s := range steps {
		t.Run(string(s.step), func(t *testing.T) {
			first := h.send(t, alice, s.setup)
			expectPrompt(t, first, s.prompt, s.step)
			before := h.state(t, alice)

			again := h.send(t, alice, "hmm")
			expectPrompt(t, again, s.prompt, s.step)
			after := h.state(t, alice)

			if after.Retries != before.Retries+1 {
				t.Errorf("Retries = %d, want %d", after.Retries, before.Retries+1)
			}
			after.Retries, after.LastUpdated = before.Retries, before.LastUpdated
			if !sameSelection(before, after) {
				t.Errorf("state changed:\n before %+v\n after  %+v", before, after)
			}
		})
	}
}

func TestHandle_HumanFallbackAfterRetries(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "I want to book")

	var r Reply
	for i := 0; i < 3; i++ {
		r = h.send(t, alice, "hmm")
	}
	if !strings.Contains(r.Text, "call us at (555) 010-2000") {
		t.Errorf("third re-prompt = %q, want human fallback", r.Text)
	}
}

func TestHandle_Cancel(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "I want to book")
	h.send(t, alice, "Deluxe Head Spa")

	r := h.send(t, alice, "actually, start over")
	expectPrompt(t, r, PromptCancelled, conversation.StepIdle)
	if _, err := h.store.Load(context.Background(), alice); !errors.Is(err, conversation.ErrStateNotFound) {
		t.Errorf("state after cancel: %v, want cleared", err)
	}
}

func TestHandle_ExpiredStateStartsOver(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "I want to book")
	h.send(t, alice, "Deluxe Head Spa")

	h.now = h.now.Add(31 * time.Minute)
	r := h.send(t, alice, "tomorrow")
	expectPrompt(t, r, PromptAskService, conversation.StepAwaitingService)

	st := h.state(t, alice)
	if st.ServiceID != nil {
		t.Error("service survived expiry")
	}
	if st.Date == nil || *st.Date != tomorrow {
		t.Errorf("date = %v, want the date from the new message", st.Date)
	}
}

func TestHandle_IdleGreeting(t *testing.T) {
	h := newHarness(t)

	r := h.send(t, alice, "hello")
	expectPrompt(t, r, PromptGreeting, conversation.StepIdle)
	if h.store.Len() != 0 {
		t.Error("greeting should not persist a conversation")
	}

	if r, _ := h.ctrl.Handle(context.Background(), Inbound{From: alice, Body: "   "}); !r.NoAction {
		t.Error("blank message should produce no action")
	}
}

func TestHandle_ServiceByNumber(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "I want to book")

	r := h.send(t, alice, "2")
	expectPrompt(t, r, PromptAskDate, conversation.StepAwaitingDate)
	if st := h.state(t, alice); st.ServiceID == nil || *st.ServiceID != 2 {
		t.Errorf("service = %v, want 2", st.ServiceID)
	}
}

func TestHandle_ServiceNumberOutOfRange(t *testing.T) {
	for _, body := range []string{"0", "-1", "99"} {
		t.Run(body, func(t *testing.T) {
			h := newHarness(t)
			h.send(t, alice, "I want to book")

			r := h.send(t, alice, body)
			expectPrompt(t, r, PromptAskService, conversation.StepAwaitingService)
			if st := h.state(t, alice); st.ServiceID != nil {
				t.Errorf("service = %d, want none", *st.ServiceID)
			}
		})
	}
}

func TestHandle_IdiomaticYesBooks(t *testing.T) {
	for _, body := range []string{"yes, no problem", "sure, no worries", "Yep no rush"} {
		t.Run(body, func(t *testing.T) {
			h := newHarness(t)
			h.send(t, alice, "I want to book")
			h.send(t, alice, "Signature Head Spa")
			h.send(t, alice, "tomorrow")
			r := h.send(t, alice, "the second one")
			expectPrompt(t, r, PromptConfirm, conversation.StepAwaitingConfirmation)

			r = h.send(t, alice, body)
			expectPrompt(t, r, PromptBooked, conversation.StepIdle)
			if n := len(h.repo.Appointments()); n != 1 {
				t.Errorf("appointments = %d, want 1", n)
			}
		})
	}
}

func TestHandle_StopByIsNotCancellation(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "I want to book")
	h.send(t, alice, "Deluxe Head Spa")

	r := h.send(t, alice, "can I stop by tomorrow?")
	expectPrompt(t, r, PromptOfferTimes, conversation.StepAwaitingTime)
	st := h.state(t, alice)
	if st.ServiceID == nil || st.Date == nil || *st.Date != tomorrow {
		t.Errorf("state = %+v, want service kept and date %s", st, tomorrow)
	}

	r = h.send(t, alice, "stop")
	expectPrompt(t, r, PromptCancelled, conversation.StepIdle)
}

func TestHandle_AmbiguousService(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "I want to book")

	r := h.send(t, alice, "a head spa")
	expectPrompt(t, r, PromptAmbiguousService, conversation.StepAwaitingService)
	if st := h.state(t, alice); st.ServiceID != nil {
		t.Error("ambiguous reply must not pick a service")
	}
}

func TestHandle_TimeResolution(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		prompt PromptKind
		want   schedule.Clock
	}{
		{name: "explicit offered time books", reply: "10:30am", prompt: PromptBooked},
		{name: "bare hour is confirmed", reply: "9", prompt: PromptConfirm, want: schedule.NewClock(9, 0)},
		{name: "near miss within tolerance", reply: "10:10 am", prompt: PromptConfirm, want: schedule.NewClock(10, 0)},
		{name: "ordinal", reply: "the second one", prompt: PromptConfirm, want: schedule.NewClock(9, 30)},
		{name: "unavailable time re-offers", reply: "7pm", prompt: PromptTimeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send(t, alice, "book signature head spa tomorrow")

			r := h.send(t, alice, tt.reply)
			if r.Prompt != tt.prompt {
				t.Fatalf("reply = %s (%q), want %s", r.Prompt, r.Text, tt.prompt)
			}
			if tt.prompt == PromptConfirm {
				if st := h.state(t, alice); st.Time == nil || *st.Time != tt.want {
					t.Errorf("time = %v, want %s", st.Time, tt.want)
				}
			}
		})
	}
}

func TestHandle_NoAvailabilitySuggestsNextDate(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "I want to book")
	h.send(t, alice, "Signature Head Spa")

	r := h.send(t, alice, "saturday")
	expectPrompt(t, r, PromptNoAvailability, conversation.StepAwaitingDate)
	if !strings.Contains(r.Text, "Monday, September 8") {
		t.Errorf("no-availability text = %q, want next opening", r.Text)
	}

	r = h.send(t, alice, "yes")
	expectPrompt(t, r, PromptOfferTimes, conversation.StepAwaitingTime)
	if st := h.state(t, alice); st.Date == nil || *st.Date != schedule.NewDate(2025, time.September, 8) {
		t.Errorf("date = %v, want 2025-09-08", st.Date)
	}
}

func TestHandle_RejectionSearchesAhead(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "book signature head spa tomorrow")

	r := h.send(t, alice, "none of these work")
	expectPrompt(t, r, PromptOfferTimes, conversation.StepAwaitingTime)
	if st := h.state(t, alice); st.Date == nil || *st.Date != schedule.NewDate(2025, time.September, 3) {
		t.Errorf("date = %v, want 2025-09-03", st.Date)
	}
}

func TestHandle_ConflictReoffers(t *testing.T) {
	h := newHarness(t, confirmAlways)

	r := h.send(t, alice, "book signature head spa tomorrow at 3pm")
	expectPrompt(t, r, PromptConfirm, conversation.StepAwaitingConfirmation)

	h.send(t, bob, "book signature head spa tomorrow at 3pm")
	if r := h.send(t, bob, "yes"); r.Prompt != PromptBooked {
		t.Fatalf("bob: %s (%q)", r.Prompt, r.Text)
	}

	r = h.send(t, alice, "yes")
	expectPrompt(t, r, PromptConflict, conversation.StepAwaitingTime)

	st := h.state(t, alice)
	if st.Time != nil {
		t.Error("lost time should be dropped")
	}
	if _, ok := st.OfferAt(schedule.NewClock(15, 0)); ok {
		t.Error("taken slot re-offered")
	}
	if len(h.repo.Appointments()) != 1 {
		t.Errorf("%d appointments, want 1", len(h.repo.Appointments()))
	}
}

func TestHandle_ClientFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "book signature head spa tomorrow")
	before := h.state(t, alice)

	h.repo.FailClients = errors.New("clients table unavailable")
	r, err := h.ctrl.Handle(context.Background(), Inbound{From: alice, Body: "3pm"})
	if !errors.Is(err, appointment.ErrUnknownClient) {
		t.Fatalf("Handle error = %v, want ErrUnknownClient", err)
	}
	if r.Prompt != PromptClientFailure || !strings.Contains(r.Text, "call us") {
		t.Errorf("reply = %s (%q)", r.Prompt, r.Text)
	}
	if after := h.state(t, alice); !sameSelection(before, after) || after.Retries != before.Retries {
		t.Errorf("state changed after client failure: %+v", after)
	}
}

type failingStore struct {
	*conversation.MemoryStore
	saveErr error
}

func (s *failingStore) Save(ctx context.Context, st conversation.State) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.Save(ctx, st)
}

func TestHandle_StoreFailureApologizes(t *testing.T) {
	fs := &failingStore{}
	h := newHarness(t, func(_ *Options, d *harnessDeps) {
		fs.MemoryStore = conversation.NewMemoryStore(30 * time.Minute)
		d.store = fs
	})
	ctx := context.Background()

	if _, err := h.ctrl.Handle(ctx, Inbound{From: alice, Body: "I want to book"}); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	before, _ := fs.Load(ctx, alice)

	fs.saveErr = errors.New("redis: connection refused")
	r, err := h.ctrl.Handle(ctx, Inbound{From: alice, Body: "Deluxe Head Spa"})
	if err == nil {
		t.Fatal("Handle should report the store failure")
	}
	if r.Prompt != PromptError || r.Text != apologyText {
		t.Errorf("reply = %s (%q), want apology", r.Prompt, r.Text)
	}

	after, _ := fs.Load(ctx, alice)
	if after.Step != before.Step || after.ServiceID != nil {
		t.Errorf("state changed after failed turn: %+v", after)
	}
}

type fakeBridge struct {
	result llm.Result
	err    error
	calls  int
}

func (f *fakeBridge) Interpret(_ context.Context, _ llm.Request) (llm.Result, error) {
	f.calls++
	return f.result, f.err
}

func TestHandle_LLMBridge(t *testing.T) {
	t.Run("function call fills slots", func(t *testing.T) {
		bridge := &fakeBridge{result: llm.FunctionCall{Name: llm.FuncCheckAvailability, Args: map[string]string{
			"service": "Deluxe Head Spa",
			"date":    "2025-09-02",
		}}}
		h := newHarness(t, func(_ *Options, d *harnessDeps) { d.bridge = bridge })

		r := h.send(t, alice, "surprise me with something relaxing")
		expectPrompt(t, r, PromptOfferTimes, conversation.StepAwaitingTime)
		st := h.state(t, alice)
		if *st.ServiceID != 2 || *st.Date != tomorrow {
			t.Errorf("state = %+v", st)
		}
		if len(st.History) != 2 {
			t.Errorf("history has %d turns, want 2", len(st.History))
		}
	})

	t.Run("bridge is skipped when rules understand the message", func(t *testing.T) {
		bridge := &fakeBridge{err: errors.New("should not be called")}
		h := newHarness(t, func(_ *Options, d *harnessDeps) { d.bridge = bridge })

		h.send(t, alice, "I want to book")
		if bridge.calls != 0 {
			t.Errorf("bridge called %d times", bridge.calls)
		}
	})

	t.Run("bridge failure falls back to rules", func(t *testing.T) {
		bridge := &fakeBridge{err: context.DeadlineExceeded}
		h := newHarness(t, func(_ *Options, d *harnessDeps) { d.bridge = bridge })

		r := h.send(t, alice, "surprise me with something relaxing")
		expectPrompt(t, r, PromptGreeting, conversation.StepIdle)
	})

	t.Run("plain text answers an idle question", func(t *testing.T) {
		bridge := &fakeBridge{result: llm.PlainText{Text: "We're open 9 to 5, Monday to Friday."}}
		h := newHarness(t, func(_ *Options, d *harnessDeps) { d.bridge = bridge })

		r := h.send(t, alice, "what are your hours")
		expectPrompt(t, r, PromptInfo, conversation.StepIdle)
		if r.Text != "We're open 9 to 5, Monday to Friday." {
			t.Errorf("reply = %q", r.Text)
		}
	})
}

func sameSelection(a, b conversation.State) bool {
	eqInt := func(x, y *int64) bool { return (x == nil && y == nil) || (x != nil && y != nil && *x == *y) }
	eqDate := func(x, y *schedule.Date) bool { return (x == nil && y == nil) || (x != nil && y != nil && *x == *y) }
	eqClock := func(x, y *schedule.Clock) bool { return (x == nil && y == nil) || (x != nil && y != nil && *x == *y) }
	if a.Step != b.Step || !eqInt(a.ServiceID, b.ServiceID) || !eqDate(a.Date, b.Date) || !eqClock(a.Time, b.Time) || !eqInt(a.StaffID, b.StaffID) {
		return false
	}
	if len(a.Offered) != len(b.Offered) {
		return false
	}
	for i := range a.Offered {
		if a.Offered[i] != b.Offered[i] {
			return false
		}
	}
	return true
}
