package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "booking"

// Metrics groups the engine's collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
type Metrics struct {
	turns         *prometheus.CounterVec
	turnLatency   prometheus.Histogram
	bookings      *prometheus.CounterVec
	expired       prometheus.Counter
	swept         prometheus.Counter
	llmLatency    *prometheus.HistogramVec
	httpLatency   *prometheus.HistogramVec
	completedJobs prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Inbound messages handled, by resulting step and prompt kind",
		}, []string{"step", "prompt"}),
		turnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "turn_duration_seconds",
			Help:      "Time to handle one inbound message",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactor",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "expired_total",
			Help:      "Conversations found expired on their next message",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "swept_total",
			Help:      "Expired conversations removed by the periodic sweep",
		}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Latency of LLM bridge calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 8},
		}, []string{"model", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		completedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "appointments_completed_total",
			Help:      "Appointments moved to completed after their end time",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.turnLatency, m.bookings, m.expired, m.swept, m.llmLatency, m.httpLatency, m.completedJobs)
	}
	return m
}

func (m *Metrics) Turn(step, prompt string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(step, prompt).Inc()
	m.turnLatency.Observe(d.Seconds())
}

func (m *Metrics) Booking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Expired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.swept.Add(float64(n))
}

func (m *Metrics) LLM(model, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(model, status).Observe(d.Seconds())
}

func (m *Metrics) HTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
}

func (m *Metrics) Completed(n int) {
	if m == nil {
		return
	}
	m.completedJobs.Add(float64(n))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
