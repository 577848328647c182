package api

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/appointment"
	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/dialogue"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

type Conversations interface {
	Handle(ctx context.Context, in dialogue.Inbound) (dialogue.Reply, error)
}

type Services interface {
	Service(ctx context.Context, id int64) (*catalog.Service, error)
}

type Slots interface {
	Candidates(ctx context.Context, staffID int64, svc catalog.Service, date schedule.Date) ([]schedule.Clock, error)
}

type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

var validate = validator.New()

type twimlMessage struct {
	Body string `xml:",chardata"`
}

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Message *twimlMessage `xml:"Message,omitempty"`
}

// smsWebhookHandler accepts Twilio's form-encoded inbound message and answers
// with TwiML. A turn that needs no reply gets an empty <Response>.
func smsWebhookHandler(conv Conversations, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_form", "could not parse form body")
			return
		}

		reply, err := conv.Handle(r.Context(), dialogue.Inbound{
			From:      r.PostForm.Get("From"),
			To:        r.PostForm.Get("To"),
			Body:      r.PostForm.Get("Body"),
			Timestamp: time.Now(),
		})
		if err != nil {
			logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("sms turn failed")
		}

		writeTwiML(w, reply)
	}
}

func writeTwiML(w http.ResponseWriter, reply dialogue.Reply) {
	resp := twimlResponse{}
	if !reply.NoAction && reply.Text != "" {
		resp.Message = &twimlMessage{Body: reply.Text}
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func messageHandler(conv Conversations, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		in := dialogue.Inbound{From: req.From, To: req.To, Body: req.Body, Timestamp: time.Now()}
		if req.Timestamp != nil {
			in.Timestamp = *req.Timestamp
		}

		reply, err := conv.Handle(r.Context(), in)
		if err != nil {
			logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("message turn failed")
			if reply.Text == "" {
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
				return
			}
		}

		resp := MessageResponse{
			Reply:    reply.Text,
			Prompt:   string(reply.Prompt),
			Step:     string(reply.Step),
			NoAction: reply.NoAction,
		}
		if reply.Appointment != nil {
			id := reply.Appointment.ID
			resp.AppointmentID = &id
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(services Services, slots Slots) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		staffID, err := strconv.ParseInt(chi.URLParam(r, "staffID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", "staffID must be an integer")
			return
		}

		serviceID, err := strconv.ParseInt(r.URL.Query().Get("service_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be an integer")
			return
		}

		date, err := schedule.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		svc, err := services.Service(r.Context(), serviceID)
		if err != nil {
			if errors.Is(err, catalog.ErrServiceNotFound) {
				writeError(w, http.StatusNotFound, "service_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		starts, err := slots.Candidates(r.Context(), staffID, *svc, date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := AvailabilityResponse{
			StaffID:   staffID,
			ServiceID: serviceID,
			Date:      date.String(),
			Slots:     make([]string, len(starts)),
		}
		for i, c := range starts {
			resp.Slots[i] = c.String()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(appts Appointments) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := appts.GetAppointment(r.Context(), id)
		if err != nil {
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, AppointmentResponse{
			ID:        appt.ID,
			ClientID:  appt.ClientID,
			StaffID:   appt.StaffID,
			ServiceID: appt.ServiceID,
			StartTime: appt.StartTime,
			EndTime:   appt.EndTime,
			Status:    string(appt.Status),
			Source:    appt.Source,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
