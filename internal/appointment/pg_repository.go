package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/appointment-booking-engine/internal/availability"
	"github.com/hackgods/appointment-booking-engine/internal/db"
	"github.com/hackgods/appointment-booking-engine/internal/outbox"
)

const appointmentColumns = `id, business_id, staff_id, service_id, start_time, end_time, status, payment_status,
	client_name, client_email, client_phone, cancel_reason, expires_at, created_at, updated_at`

type PgRepository struct {
	db db.Beginner
}

func NewPgRepository(b db.Beginner) *PgRepository {
	return &PgRepository{db: b}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, payment string

	err := row.Scan(
		&a.ID,
		&a.BusinessID,
		&a.StaffID,
		&a.ServiceID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&payment,
		&a.Client.Name,
		&a.Client.Email,
		&a.Client.Phone,
		&a.CancelReason,
		&a.ExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.PaymentStatus = PaymentStatus(payment)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
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

// Store methods

func (r *PgRepository) ListBusyIntervals(ctx context.Context, businessID, staffID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE business_id = $1
		  AND staff_id = $2
		  AND status <> 'cancelled'
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time
	`, businessID, staffID, from, to)
	if err != nil {
		return nil, err
	}
	return scanIntervals(rows)
}

func (r *PgRepository) GetAppointment(ctx context.Context, businessID, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, id, businessID)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, businessID uuid.UUID, f ListFilter) ([]Appointment, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
		  AND ($2::uuid IS NULL OR staff_id = $2)
		  AND ($3::timestamptz IS NULL OR end_time > $3)
		  AND ($4::timestamptz IS NULL OR start_time < $4)
		  AND ($5::text IS NULL OR status = $5)
		ORDER BY start_time, id
		LIMIT $6 OFFSET $7
	`, businessID, f.StaffID, f.From, f.To, status, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&pgTxStore{tx: tx})
	})
}

// Transaction-scoped methods

type pgTxStore struct {
	tx pgx.Tx
}

func (s *pgTxStore) ListConflicts(ctx context.Context, businessID, staffID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]availability.Interval, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE business_id = $1
		  AND staff_id = $2
		  AND status <> 'cancelled'
		  AND id <> $5
		  AND start_time < $4
		  AND end_time > $3
		UNION ALL
		SELECT start_time, end_time
		FROM time_blocks
		WHERE business_id = $1
		  AND staff_id = $2
		  AND start_time < $4
		  AND end_time > $3
	`, businessID, staffID, from, to, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return scanIntervals(rows)
}

func (s *pgTxStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	err := s.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, business_id, staff_id, service_id, start_time, end_time, status, payment_status,
			client_name, client_email, client_phone, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, a.ID, a.BusinessID, a.StaffID, a.ServiceID, a.StartTime, a.EndTime, string(a.Status), string(a.PaymentStatus),
		a.Client.Name, a.Client.Email, a.Client.Phone, a.ExpiresAt).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		switch {
		case db.IsExclusionViolation(err):
			return ErrSlotTaken
		case db.IsCheckViolation(err):
			return ErrInvalidTimeRange
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *pgTxStore) CountMonthlyBookings(ctx context.Context, businessID uuid.UUID, from, to time.Time) (int, error) {
	if _, err := s.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, businessID); err != nil {
		return 0, fmt.Errorf("lock business quota: %w", err)
	}
	var count int
	err := s.tx.QueryRow(ctx, `
		SELECT COUNT(*)::int
		FROM appointments
		WHERE business_id = $1
		  AND status <> 'cancelled'
		  AND start_time >= $2
		  AND start_time < $3
	`, businessID, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count monthly bookings: %w", err)
	}
	return count, nil
}

func (s *pgTxStore) GetAppointmentForUpdate(ctx context.Context, businessID, id uuid.UUID) (*Appointment, error) {
	row := s.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, id, businessID)
	return scanAppointment(row)
}

func (s *pgTxStore) UpdateAppointment(ctx context.Context, a *Appointment) error {
	err := s.tx.QueryRow(ctx, `
		UPDATE appointments
		SET staff_id = $3,
		    start_time = $4,
		    end_time = $5,
		    status = $6,
		    payment_status = $7,
		    cancel_reason = $8,
		    expires_at = $9,
		    updated_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING updated_at
	`, a.ID, a.BusinessID, a.StaffID, a.StartTime, a.EndTime, string(a.Status), string(a.PaymentStatus),
		a.CancelReason, a.ExpiresAt).Scan(&a.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrAppointmentNotFound
		case db.IsExclusionViolation(err):
			return ErrSlotTaken
		case db.IsCheckViolation(err):
			return ErrInvalidTimeRange
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (s *pgTxStore) InsertEvent(ctx context.Context, ev outbox.Event) error {
	return outbox.Insert(ctx, s.tx, ev)
}

func scanIntervals(rows pgx.Rows) ([]availability.Interval, error) {
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
