package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	db   querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

// Helpers

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Phone, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.StaffID,
		&a.ServiceID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Source,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// mapWriteError turns overlap constraint violations into ErrOverlap.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation, pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrOverlap, pgErr.ConstraintName)
		}
	}
	return err
}

const appointmentColumns = `id, client_id, staff_id, service_id, start_time, end_time, status, source, created_at, updated_at`

// Interface methods

func (r *PgRepository) FindOrCreateClient(ctx context.Context, phone string) (*Client, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO clients (id, phone, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (phone) DO UPDATE SET updated_at = now()
		RETURNING id, phone, name, created_at, updated_at
	`, uuid.New(), phone)
	return scanClient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) BusyRanges(ctx context.Context, staffID int64, from, to time.Time) ([]schedule.Span, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE staff_id = $1
		  AND status <> 'cancelled'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, staffID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var spans []schedule.Span
	for rows.Next() {
		var sp schedule.Span
		if err := rows.Scan(&sp.Start, &sp.End); err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, client_id, staff_id, service_id, start_time, end_time, status, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'confirmed', $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), in.ClientID, in.StaffID, in.ServiceID, in.StartTime, in.EndTime, in.Source)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) FindEndedConfirmed(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND end_time < $1
		ORDER BY end_time
		LIMIT 500
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		// already inside a transaction
		return fn(r)
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&PgRepository{db: tx})
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
