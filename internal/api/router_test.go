package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/appointment"
	"github.com/hackgods/sms-booking-engine/internal/availability"
	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/conversation"
	"github.com/hackgods/sms-booking-engine/internal/dialogue"
	"github.com/hackgods/sms-booking-engine/internal/keylock"
	"github.com/hackgods/sms-booking-engine/internal/metrics"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

type fakeConversations struct {
	reply dialogue.Reply
	err   error
	got   dialogue.Inbound
}

func (f *fakeConversations) Handle(_ context.Context, in dialogue.Inbound) (dialogue.Reply, error) {
	f.got = in
	return f.reply, f.err
}

var loc = time.FixedZone("EDT", -4*3600)

type fixture struct {
	handler http.Handler
	conv    *fakeConversations
	repo    *appointment.MemoryRepository
	booker  *appointment.Service
	engine  *availability.Engine
}

func newFixture(t *testing.T, deps ...Dependency) *fixture {
	t.Helper()

	cat := catalog.NewDemoRepository(schedule.NewDate(2025, time.January, 1))
	repo := appointment.NewMemoryRepository()
	now := func() time.Time { return time.Date(2025, 9, 1, 8, 0, 0, 0, loc) }
	engine := availability.NewEngine(cat, repo, cat, availability.Options{Location: loc, Now: now})
	booker := appointment.NewService(repo, keylock.New(), engine, loc, zerolog.Nop())

	reg := prometheus.NewRegistry()
	f := &fixture{conv: &fakeConversations{}, repo: repo, booker: booker, engine: engine}
	f.handler = NewRouter(RouterConfig{
		Conversations: f.conv,
		Services:      catalog.NewCache(cat, time.Minute),
		Slots:         engine,
		Appointments:  booker,
		Health:        deps,
		Gatherer:      reg,
		Metrics:       metrics.New(reg),
		Logger:        zerolog.Nop(),
		Env:           "test",
		Version:       "dev",
	})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestSMSWebhook(t *testing.T) {
	tests := []struct {
		name  string
		reply dialogue.Reply
		err   error
		want  string
	}{
		{
			name:  "reply",
			reply: dialogue.Reply{Text: "Open times on Tuesday: 9:00 AM & 9:30 AM", Prompt: dialogue.PromptOfferTimes},
			want:  "<Response><Message>Open times on Tuesday: 9:00 AM &amp; 9:30 AM</Message></Response>",
		},
		{
			name:  "no action",
			reply: dialogue.Reply{NoAction: true},
			want:  "<Response></Response>",
		},
		{
			name:  "failed turn still apologizes",
			reply: dialogue.Reply{Text: "Sorry, something went wrong.", Prompt: dialogue.PromptError},
			err:   errors.New("redis down"),
			want:  "<Response><Message>Sorry, something went wrong.</Message></Response>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.conv.reply, f.conv.err = tt.reply, tt.err

			form := url.Values{"From": {"+15550001111"}, "To": {"+15559990000"}, "Body": {"tomorrow"}}
			req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			rec := f.do(req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
				t.Errorf("content type = %q", ct)
			}
			body := rec.Body.String()
			if !strings.HasPrefix(body, "<?xml") || !strings.HasSuffix(body, tt.want) {
				t.Errorf("body = %q, want suffix %q", body, tt.want)
			}
			if f.conv.got.From != "+15550001111" || f.conv.got.Body != "tomorrow" {
				t.Errorf("inbound = %+v", f.conv.got)
			}
		})
	}
}

func TestMessageEndpoint(t *testing.T) {
	f := newFixture(t)
	f.conv.reply = dialogue.Reply{Text: "Which service?", Prompt: dialogue.PromptAskService, Step: conversation.StepAwaitingService}

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/messages",
		strings.NewReader(`{"from":"+15550001111","body":"I want to book"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp MessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "Which service?" || resp.Prompt != "ask_service" || resp.Step != "awaiting_service" {
		t.Errorf("response = %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestMessageEndpoint_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "not json", body: `from=1`, code: http.StatusBadRequest},
		{name: "missing body", body: `{"from":"+15550001111"}`, code: http.StatusUnprocessableEntity},
		{name: "short phone", body: `{"from":"12","body":"hi"}`, code: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(tt.body)))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/staff/1/availability?service_id=3&date=2025-09-02", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp AvailabilityResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 120 minutes inside 9:00-18:00 on a 30 minute grid
	if len(resp.Slots) != 15 || resp.Slots[0] != "09:00" || resp.Slots[14] != "16:00" {
		t.Errorf("slots = %v", resp.Slots)
	}

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "bad staff", path: "/api/staff/x/availability?service_id=1&date=2025-09-02", code: http.StatusBadRequest},
		{name: "bad date", path: "/api/staff/1/availability?service_id=1&date=tomorrow", code: http.StatusBadRequest},
		{name: "unknown service", path: "/api/staff/1/availability?service_id=99&date=2025-09-02", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(httptest.NewRequest(http.MethodGet, tt.path, nil)); rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestGetAppointment(t *testing.T) {
	f := newFixture(t)
	svc := catalog.DemoServices[0]

	res, err := f.booker.Book(context.Background(), appointment.BookingRequest{
		Phone:   "+15550001111",
		StaffID: 1,
		Service: svc,
		Date:    schedule.NewDate(2025, time.September, 2),
		Start:   schedule.NewClock(10, 0),
	}, nil)
	if err != nil || res.Appointment == nil {
		t.Fatalf("Book() = %+v, %v", res, err)
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/appointments/"+res.Appointment.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp AppointmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != res.Appointment.ID || resp.Status != "confirmed" || resp.Source != "sms" {
		t.Errorf("response = %+v", resp)
	}

	if rec := f.do(httptest.NewRequest(http.MethodGet, "/api/appointments/not-a-uuid", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
	if rec := f.do(httptest.NewRequest(http.MethodGet, "/api/appointments/00000000-0000-0000-0000-000000000001", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		deps   []Dependency
		code   int
		status string
	}{
		{name: "all up", deps: []Dependency{{Name: "postgres", Check: ok, Critical: true}, {Name: "redis", Check: ok}}, code: 200, status: "ok"},
		{name: "optional down", deps: []Dependency{{Name: "postgres", Check: ok, Critical: true}, {Name: "redis", Check: down}}, code: 200, status: "degraded"},
		{name: "critical down", deps: []Dependency{{Name: "postgres", Check: down, Critical: true}, {Name: "redis", Check: ok}}, code: 503, status: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.deps...)
			rec := f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.status || len(resp.Dependencies) != len(tt.deps) {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "booking_http_request_duration_seconds") {
		t.Error("http latency histogram not exported")
	}
}
