package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/conversation"
	"github.com/hackgods/sms-booking-engine/internal/db"
	"github.com/hackgods/sms-booking-engine/internal/logging"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

func main() {
	logger := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	faker := gofakeit.New(0)
	staffCount := getInt("SEED_STAFF", 3)
	clientCount := getInt("SEED_CLIENTS", 200)

	if err := seedServices(context.Background(), pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed services")
	}
	if err := seedStaff(context.Background(), pool, faker, staffCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed staff")
	}
	if err := seedClients(context.Background(), pool, faker, clientCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed clients")
	}

	logger.Info().Msg("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for _, s := range catalog.DemoServices {
		_, err := pool.Exec(ctx, `
			INSERT INTO services (id, name, category, duration_minutes, price_cents, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    category = EXCLUDED.category,
			    duration_minutes = EXCLUDED.duration_minutes,
			    price_cents = EXCLUDED.price_cents,
			    active = EXCLUDED.active
		`, s.ID, s.Name, s.Category, s.DurationMinutes, s.PriceCents, s.Active)
		if err != nil {
			return err
		}
	}
	// explicit ids leave the sequence behind
	if _, err := pool.Exec(ctx, `SELECT setval('services_id_seq', (SELECT MAX(id) FROM services))`); err != nil {
		return err
	}

	logger.Info().Int("count", len(catalog.DemoServices)).Msg("services seeded")
	return nil
}

// seedStaff creates staff members who work Monday to Saturday, 9 to 6, with a
// lunch block from 12 to 1, and can perform every service.
func seedStaff(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding staff")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := schedule.DateOf(time.Now())
	lunch := schedule.NewClock(12, 0)

	for i := 0; i < count; i++ {
		var staffID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO staff (name, active) VALUES ($1, TRUE) RETURNING id
		`, faker.FirstName()+" "+faker.LastName()).Scan(&staffID)
		if err != nil {
			return err
		}

		for _, s := range catalog.DemoServices {
			if _, err := tx.Exec(ctx, `
				INSERT INTO staff_services (staff_id, service_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, staffID, s.ID); err != nil {
				return err
			}
		}

		rules := catalog.WeeklyRules(staffID, time.Saturday, schedule.NewClock(9, 0), schedule.NewClock(18, 0), today)
		for _, r := range catalog.WeeklyRules(staffID, time.Saturday, lunch, lunch+60, today) {
			r.Block = true
			rules = append(rules, r)
		}
		for _, r := range rules {
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_rules (staff_id, day_of_week, start_time, end_time, valid_from, is_block)
				VALUES ($1, $2, $3::time, $4::time, $5, $6)
			`, r.StaffID, int16(r.Weekday), r.Start.String(), r.End.String(), r.ValidFrom.String(), r.Block); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("staff seeded")
	return nil
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding clients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			phone := conversation.NormalizePhone(faker.Phone())
			name := faker.Name()

			_, err := tx.Exec(ctx, `
				INSERT INTO clients (id, phone, name, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
				ON CONFLICT (phone) DO NOTHING
			`, uuid.New(), phone, name)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("clients batch committed")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
