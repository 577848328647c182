package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	err := row.Scan(&s.ID, &s.Name, &s.Category, &s.DurationMinutes, &s.PriceCents, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanRule(row pgx.Row) (*schedule.Rule, error) {
	var (
		r          schedule.Rule
		weekday    int16
		startMin   int32
		endMin     int32
		validFrom  time.Time
		validTo    *time.Time
		categories []string
	)
	err := row.Scan(
		&r.ID,
		&r.StaffID,
		&weekday,
		&startMin,
		&endMin,
		&r.LocationID,
		&validFrom,
		&validTo,
		&r.Block,
		&categories,
	)
	if err != nil {
		return nil, err
	}

	r.Weekday = time.Weekday(weekday)
	r.Start = schedule.Clock(startMin)
	r.End = schedule.Clock(endMin)
	r.ValidFrom = schedule.DateOf(validFrom)
	if validTo != nil {
		d := schedule.DateOf(*validTo)
		r.ValidTo = &d
	}
	r.ServiceCategories = categories
	return &r, nil
}

func (r *PgRepository) ListActiveServices(ctx context.Context) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, category, duration_minutes, price_cents, active
		FROM services
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var result []Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetService(ctx context.Context, id int64) (*Service, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, category, duration_minutes, price_cents, active
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (r *PgRepository) StaffForService(ctx context.Context, serviceID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id
		FROM staff s
		JOIN staff_services ss ON ss.staff_id = s.id
		WHERE ss.service_id = $1 AND s.active
		ORDER BY s.id
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("staff for service: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) RulesForStaff(ctx context.Context, staffID int64, date schedule.Date) ([]schedule.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, staff_id, day_of_week,
		       (EXTRACT(HOUR FROM start_time) * 60 + EXTRACT(MINUTE FROM start_time))::int,
		       (EXTRACT(HOUR FROM end_time) * 60 + EXTRACT(MINUTE FROM end_time))::int,
		       location_id, valid_from, valid_to, is_block, service_categories
		FROM availability_rules
		WHERE staff_id = $1
		  AND day_of_week = $2
		  AND valid_from <= $3
		  AND (valid_to IS NULL OR valid_to >= $3)
		ORDER BY id
	`, staffID, int16(date.Weekday()), date.Midnight(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("rules for staff: %w", err)
	}
	defer rows.Close()

	var rules []schedule.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}
