package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/appointment"
	"github.com/hackgods/sms-booking-engine/internal/availability"
	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/config"
	"github.com/hackgods/sms-booking-engine/internal/db"
	"github.com/hackgods/sms-booking-engine/internal/keylock"
	"github.com/hackgods/sms-booking-engine/internal/logging"
	"github.com/hackgods/sms-booking-engine/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("component", "expiry-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry worker starting up")

	if cfg.StoreDriver != "postgres" {
		logger.Fatal().Str("store", cfg.StoreDriver).Msg("expiry worker needs STORE_DRIVER=postgres")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.Options{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.WorkerMetricsPort != "0" {
		go serveMetrics(rootCtx, ":"+cfg.WorkerMetricsPort, reg, logger)
	}

	catRepo := catalog.NewPgRepository(pgPool)
	repo := appointment.NewPgRepository(pgPool)
	engine := availability.NewEngine(catRepo, repo, catRepo, availability.Options{Location: cfg.Location})
	// the worker never books, so an in-process lock is enough
	svc := appointment.NewService(repo, keylock.New(), engine, cfg.Location, logger)

	// Run once at startup
	runOnce(rootCtx, svc, m, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, m, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, m *metrics.Metrics, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompletePastAppointments(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("completion run error")
		return
	}
	m.Completed(n)
	logger.Info().Int("completed", n).Dur("duration", time.Since(start)).Msg("completion run complete")
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("addr", addr).Msg("metrics listener failed")
	}
}
