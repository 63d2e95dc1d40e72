package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/appointment-booking-engine/internal/db"
	"github.com/hackgods/appointment-booking-engine/internal/rules"
	"github.com/hackgods/appointment-booking-engine/internal/schedule"
)

type PgDirectory struct {
	db db.Querier
	// used when a business row has no timezone
	defaultLoc *time.Location
}

func NewPgDirectory(q db.Querier, defaultLoc *time.Location) *PgDirectory {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &PgDirectory{db: q, defaultLoc: defaultLoc}
}

func (d *PgDirectory) GetStaff(ctx context.Context, businessID, staffID uuid.UUID) (*schedule.StaffMember, error) {
	var s schedule.StaffMember
	var startMin, endMin int

	err := d.db.QueryRow(ctx, `
		SELECT id, business_id, name, is_active,
			(EXTRACT(EPOCH FROM work_start_time) / 60)::int,
			(EXTRACT(EPOCH FROM work_end_time) / 60)::int,
			works_sunday, works_monday, works_tuesday, works_wednesday,
			works_thursday, works_friday, works_saturday
		FROM staff
		WHERE id = $1 AND business_id = $2
	`, staffID, businessID).Scan(
		&s.ID,
		&s.BusinessID,
		&s.Name,
		&s.IsActive,
		&startMin,
		&endMin,
		&s.WorksOn[time.Sunday],
		&s.WorksOn[time.Monday],
		&s.WorksOn[time.Tuesday],
		&s.WorksOn[time.Wednesday],
		&s.WorksOn[time.Thursday],
		&s.WorksOn[time.Friday],
		&s.WorksOn[time.Saturday],
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaffNotFound
		}
		return nil, fmt.Errorf("get staff: %w", err)
	}
	s.WorkHours = schedule.Hours{Start: schedule.ClockTime(startMin), End: schedule.ClockTime(endMin)}

	overrides, err := d.listOverrides(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Overrides = overrides

	return &s, nil
}

func (d *PgDirectory) listOverrides(ctx context.Context, staffID uuid.UUID) (map[time.Weekday]schedule.Hours, error) {
	rows, err := d.db.Query(ctx, `
		SELECT weekday,
			(EXTRACT(EPOCH FROM start_time) / 60)::int,
			(EXTRACT(EPOCH FROM end_time) / 60)::int
		FROM staff_hours_overrides
		WHERE staff_id = $1
	`, staffID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[time.Weekday]schedule.Hours)
	for rows.Next() {
		var weekday, startMin, endMin int
		if err := rows.Scan(&weekday, &startMin, &endMin); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides[time.Weekday(weekday)] = schedule.Hours{
			Start: schedule.ClockTime(startMin),
			End:   schedule.ClockTime(endMin),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	return overrides, nil
}

func (d *PgDirectory) GetService(ctx context.Context, businessID, serviceID uuid.UUID) (*Service, error) {
	var s Service
	err := d.db.QueryRow(ctx, `
		SELECT id, business_id, name, duration_minutes, price_cents, requires_payment_proof, is_active
		FROM services
		WHERE id = $1 AND business_id = $2
	`, serviceID, businessID).Scan(
		&s.ID,
		&s.BusinessID,
		&s.Name,
		&s.DurationMinutes,
		&s.PriceCents,
		&s.RequiresPaymentProof,
		&s.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return &s, nil
}

func (d *PgDirectory) GetBusinessRules(ctx context.Context, businessID uuid.UUID) (rules.BusinessRules, error) {
	var (
		r          rules.BusinessRules
		tz         string
		minAdvance int
	)
	err := d.db.QueryRow(ctx, `
		SELECT timezone, min_advance_minutes, max_advance_days, allow_same_day, auto_confirm, monthly_booking_limit
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(&tz, &minAdvance, &r.MaxAdvanceDays, &r.AllowSameDay, &r.AutoConfirm, &r.MonthlyBookingLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.BusinessRules{}, ErrBusinessNotFound
		}
		return rules.BusinessRules{}, fmt.Errorf("get business rules: %w", err)
	}

	r.MinAdvance = time.Duration(minAdvance) * time.Minute
	r.Location = d.defaultLoc
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return rules.BusinessRules{}, fmt.Errorf("business %s has invalid timezone %q: %w", businessID, tz, err)
		}
		r.Location = loc
	}
	return r, nil
}
