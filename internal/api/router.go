package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/metrics"
)

type RouterConfig struct {
	Conversations Conversations
	Services      Services
	Slots         Slots
	Appointments  Appointments
	Health        []Dependency
	Gatherer      prometheus.Gatherer // nil disables /metrics
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/webhooks/sms", smsWebhookHandler(cfg.Conversations, cfg.Logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", messageHandler(cfg.Conversations, cfg.Logger))
		r.Get("/staff/{staffID}/availability", availabilityHandler(cfg.Services, cfg.Slots))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
