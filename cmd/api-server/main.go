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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hackgods/sms-booking-engine/internal/api"
	"github.com/hackgods/sms-booking-engine/internal/appointment"
	"github.com/hackgods/sms-booking-engine/internal/availability"
	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/config"
	"github.com/hackgods/sms-booking-engine/internal/conversation"
	"github.com/hackgods/sms-booking-engine/internal/db"
	"github.com/hackgods/sms-booking-engine/internal/dialogue"
	"github.com/hackgods/sms-booking-engine/internal/extract"
	"github.com/hackgods/sms-booking-engine/internal/keylock"
	"github.com/hackgods/sms-booking-engine/internal/llm"
	"github.com/hackgods/sms-booking-engine/internal/logging"
	"github.com/hackgods/sms-booking-engine/internal/metrics"
	redisclient "github.com/hackgods/sms-booking-engine/internal/redis"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("conversations", cfg.ConversationBackend).
		Str("locks", cfg.LockBackend).
		Bool("llm", cfg.LLMEnabled()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var (
		catRepo  catalog.Repository
		apptRepo appointment.Repository
		health   []api.Dependency
	)

	switch cfg.StoreDriver {
	case "postgres":
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.Options{})
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres setup error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		catRepo = catalog.NewPgRepository(pgPool)
		apptRepo = appointment.NewPgRepository(pgPool)
		health = append(health, api.Dependency{Name: "postgres", Check: pgPool.Ping, Critical: true})
	default:
		today := schedule.DateOf(time.Now().In(cfg.Location))
		catRepo = catalog.NewDemoRepository(today)
		apptRepo = appointment.NewMemoryRepository()
		logger.Warn().Msg("using in-memory catalog and appointments, data is lost on restart")
	}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		health = append(health, api.Dependency{
			Name:     "redis",
			Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			Critical: cfg.ConversationBackend == "redis",
		})
	}

	var bookingLocks redisclient.Locker = keylock.New()
	if cfg.LockBackend == "redis" {
		bookingLocks = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}

	var store conversation.Store
	switch cfg.ConversationBackend {
	case "redis":
		store = conversation.NewRedisStore(rdb, redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait), cfg.ConversationTTL)
	default:
		mem := conversation.NewMemoryStore(cfg.ConversationTTL)
		go mem.RunSweeper(rootCtx, cfg.SweepInterval, m.Swept)
		store = mem
	}

	engine := availability.NewEngine(catRepo, apptRepo, catRepo, availability.Options{
		Location:    cfg.Location,
		Granularity: cfg.SlotGranularity,
		MinLead:     cfg.MinLeadTime,
		LocationID:  cfg.LocationID,
	})
	booker := appointment.NewService(apptRepo, bookingLocks, engine, cfg.Location, logger)
	services := catalog.NewCache(catRepo, time.Minute)

	var bridge llm.Bridge
	if cfg.LLMEnabled() {
		bridge = llm.NewOpenAIBridge(openai.NewClient(cfg.OpenAIAPIKey), cfg.OpenAIModel, cfg.LLMTimeout, cfg.BusinessName, m, logger)
	}

	ctrl := dialogue.New(
		store,
		extract.New(extract.Options{
			Meridiem:  extract.MeridiemPolicy(cfg.BareHourPolicy),
			OpenHour:  cfg.OpenHour,
			CloseHour: cfg.CloseHour,
		}),
		services,
		engine,
		booker,
		bridge,
		dialogue.Options{
			ConfirmMode:     dialogue.ConfirmMode(cfg.ConfirmMode),
			MaxOffered:      cfg.MaxOfferedSlots,
			Tolerance:       cfg.TimeTolerance,
			SearchAheadDays: cfg.SearchAheadDays,
			MaxRetries:      cfg.MaxRetries,
			TTL:             cfg.ConversationTTL,
			BusinessName:    cfg.BusinessName,
			BusinessPhone:   cfg.BusinessPhone,
		},
		m,
		logger,
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Conversations: ctrl,
			Services:      services,
			Slots:         engine,
			Appointments:  booker,
			Health:        health,
			Gatherer:      reg,
			Metrics:       m,
			Logger:        logger,
			Env:           cfg.Env,
			Version:       version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
