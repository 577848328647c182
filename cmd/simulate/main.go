package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/api"
	"github.com/hackgods/sms-booking-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Services      []string
	DateText      string
	ContestedTime string  // time every contested conversation asks for
	ContestRatio  float64 // share of conversations that ask for ContestedTime
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Turn         OperationMetrics
	Conversation OperationMetrics
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger

	mu     sync.Mutex
	booked []uuid.UUID
}

func main() {
	logger := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Str("date", cfg.DateText).
		Str("contested_time", cfg.ContestedTime).
		Float64("contest_ratio", cfg.ContestRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	if err := sim.VerifyNoOverlap(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("double booking detected")
	}
	logger.Info().Int("appointments", len(sim.booked)).Msg("no overlapping appointments")
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Services:      strings.Split(getEnv("SIM_SERVICES", "Signature Head Spa,Deluxe Head Spa,Platinum Head Spa"), ","),
		DateText:      getEnv("SIM_DATE", "tomorrow"),
		ContestedTime: getEnv("SIM_CONTESTED_TIME", "3pm"),
		ContestRatio:  getFloat("SIM_CONTEST_RATIO", 0.5),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if len(cfg.Services) == 0 || cfg.Services[0] == "" {
		return fmt.Errorf("SIM_SERVICES must name at least one service")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			s.converse(ctx, rng, faker.Phone())
		}
	}
}

// converse plays one booking conversation from a fresh phone number.
func (s *Simulator) converse(ctx context.Context, rng *rand.Rand, phone string) {
	start := time.Now()

	timeText := "the first one"
	if rng.Float64() < s.config.ContestRatio {
		timeText = s.config.ContestedTime
	}
	script := []string{
		"I want to book",
		s.config.Services[rng.Intn(len(s.config.Services))],
		s.config.DateText,
		timeText,
	}

	var last api.MessageResponse
	for _, body := range script {
		resp, err := s.send(ctx, phone, body)
		if err != nil {
			s.metrics.Conversation.Record(time.Since(start), false, false)
			return
		}
		last = resp
	}
	if last.Prompt == "confirm" {
		resp, err := s.send(ctx, phone, "yes")
		if err != nil {
			s.metrics.Conversation.Record(time.Since(start), false, false)
			return
		}
		last = resp
	}

	booked := last.Prompt == "booked" && last.AppointmentID != nil
	if booked {
		s.mu.Lock()
		s.booked = append(s.booked, *last.AppointmentID)
		s.mu.Unlock()
	} else {
		// leave no half-finished conversation behind
		_, _ = s.send(context.WithoutCancel(ctx), phone, "cancel")
	}

	taken := last.Prompt == "conflict" || last.Prompt == "time_unavailable" || last.Prompt == "no_availability"
	s.metrics.Conversation.Record(time.Since(start), booked, taken)
}

func (s *Simulator) send(ctx context.Context, phone, body string) (api.MessageResponse, error) {
	payload, _ := json.Marshal(api.MessageRequest{From: phone, Body: body})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/messages", bytes.NewReader(payload))
	if err != nil {
		return api.MessageResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Turn.Record(latency, false, false)
		return api.MessageResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.Turn.Record(latency, false, false)
		return api.MessageResponse{}, fmt.Errorf("POST /api/messages: status %d", resp.StatusCode)
	}

	var out api.MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.metrics.Turn.Record(latency, false, false)
		return api.MessageResponse{}, err
	}
	s.metrics.Turn.Record(latency, out.Prompt != "error", false)
	return out, nil
}

// VerifyNoOverlap loads every appointment booked during the run and fails if
// two of them overlap for the same staff member.
func (s *Simulator) VerifyNoOverlap(ctx context.Context) error {
	byStaff := make(map[int64][]api.AppointmentResponse)
	for _, id := range s.booked {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/api/appointments/"+id.String(), nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("load appointment %s: %w", id, err)
		}
		var appt api.AppointmentResponse
		err = json.NewDecoder(resp.Body).Decode(&appt)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode appointment %s: %w", id, err)
		}
		byStaff[appt.StaffID] = append(byStaff[appt.StaffID], appt)
	}

	for staffID, appts := range byStaff {
		sort.Slice(appts, func(i, j int) bool { return appts[i].StartTime.Before(appts[j].StartTime) })
		for i := 1; i < len(appts); i++ {
			if appts[i].StartTime.Before(appts[i-1].EndTime) {
				return fmt.Errorf("staff %d: %s overlaps %s", staffID, appts[i].ID, appts[i-1].ID)
			}
		}
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Booked: %d\n", len(s.booked))
	fmt.Println()

	printOperationReport("Turn", &s.metrics.Turn)
	printOperationReport("Conversation (conflicts = slot taken)", &s.metrics.Conversation)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
