package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/appointment-booking-engine/internal/config"
	"github.com/hackgods/appointment-booking-engine/internal/db"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/timeblock"
)

var timezones = []string{
	"UTC",
	"Europe/London",
	"Europe/Berlin",
	"America/New_York",
	"America/Los_Angeles",
	"Asia/Dhaka",
	"Asia/Kolkata",
	"Australia/Sydney",
}

var serviceNames = []string{
	"Haircut",
	"Beard Trim",
	"Consultation",
	"Massage",
	"Manicure",
	"Physiotherapy Session",
	"Dental Cleaning",
	"Tattoo Touch-up",
}

var blockReasons = []string{"vacation", "lunch", "training", "sick leave", "personal"}

type seedCounts struct {
	Businesses       int
	StaffPerBusiness int
	ServicesPerBiz   int
	BlocksPerStaff   int
}

func main() {
	logger := logging.Default().With("service", "seed")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	counts := seedCounts{Businesses: 5, StaffPerBusiness: 8, ServicesPerBiz: 6, BlocksPerStaff: 3}
	for i := 0; i < counts.Businesses; i++ {
		var businessID uuid.UUID
		err := db.WithTx(context.Background(), pool, func(tx pgx.Tx) error {
			var err error
			businessID, err = seedBusiness(context.Background(), tx, counts)
			return err
		})
		if err != nil {
			logger.Error("seed business", "error", err)
			os.Exit(1)
		}
		logger.Info("business seeded", "business_id", businessID, "progress", fmt.Sprintf("%d/%d", i+1, counts.Businesses))
	}

	logger.Info("seed complete")
}

func seedBusiness(ctx context.Context, tx pgx.Tx, counts seedCounts) (uuid.UUID, error) {
	businessID := uuid.New()
	tz := timezones[gofakeit.Number(0, len(timezones)-1)]

	_, err := tx.Exec(ctx, `
		INSERT INTO businesses (id, name, timezone, min_advance_minutes, max_advance_days, allow_same_day, auto_confirm, monthly_booking_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, businessID, gofakeit.Company(), tz,
		gofakeit.RandomInt([]int{0, 30, 60, 120}),
		gofakeit.RandomInt([]int{0, 30, 60, 90}),
		gofakeit.Bool(),
		gofakeit.Bool(),
		gofakeit.RandomInt([]int{0, 200, 1000}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert business: %w", err)
	}

	for i := 0; i < counts.ServicesPerBiz; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO services (id, business_id, name, duration_minutes, price_cents, requires_payment_proof, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		`, uuid.New(), businessID, serviceNames[i%len(serviceNames)],
			gofakeit.RandomInt([]int{15, 30, 45, 60, 90}),
			int64(gofakeit.Number(10, 200))*100,
			gofakeit.Number(0, 3) == 0,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert service: %w", err)
		}
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return uuid.Nil, err
	}
	blocks := timeblock.NewPgStore(tx)

	for i := 0; i < counts.StaffPerBusiness; i++ {
		staffID := uuid.New()
		startHour := gofakeit.Number(7, 10)
		endHour := startHour + gofakeit.Number(6, 10)

		_, err := tx.Exec(ctx, `
			INSERT INTO staff (id, business_id, name, is_active, work_start_time, work_end_time,
				works_sunday, works_monday, works_tuesday, works_wednesday, works_thursday, works_friday, works_saturday)
			VALUES ($1, $2, $3, $4, make_time($5, 0, 0), make_time($6, 0, 0), $7, TRUE, TRUE, TRUE, TRUE, TRUE, $8)
		`, staffID, businessID, gofakeit.Name(), gofakeit.Number(0, 9) > 0, startHour, endHour,
			gofakeit.Bool(), gofakeit.Bool())
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert staff: %w", err)
		}

		if err := seedOverride(ctx, tx, staffID); err != nil {
			return uuid.Nil, err
		}

		for j := 0; j < counts.BlocksPerStaff; j++ {
			day := time.Now().In(loc).AddDate(0, 0, gofakeit.Number(1, 30))
			start := time.Date(day.Year(), day.Month(), day.Day(), gofakeit.Number(startHour, endHour-1), 0, 0, 0, loc)
			err := blocks.Create(ctx, &timeblock.TimeBlock{
				BusinessID: businessID,
				StaffID:    staffID,
				StartTime:  start,
				EndTime:    start.Add(time.Duration(gofakeit.Number(1, 4)) * time.Hour),
				Reason:     blockReasons[gofakeit.Number(0, len(blockReasons)-1)],
			})
			if err != nil {
				return uuid.Nil, fmt.Errorf("insert time block: %w", err)
			}
		}
	}

	return businessID, nil
}

// seedOverride gives some staff shorter hours on up to two random weekdays.
// A weekday drawn twice is skipped.
func seedOverride(ctx context.Context, tx pgx.Tx, staffID uuid.UUID) error {
	for n := gofakeit.Number(0, 2); n > 0; n-- {
		// savepoint so a duplicate does not abort the whole business transaction
		nested, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		_, err = nested.Exec(ctx, `
			INSERT INTO staff_hours_overrides (staff_id, weekday, start_time, end_time)
			VALUES ($1, $2, '10:00', '14:00')
		`, staffID, gofakeit.Number(0, 6))
		if err != nil {
			_ = nested.Rollback(ctx)
			if db.IsUniqueViolation(err) {
				continue
			}
			return fmt.Errorf("insert override: %w", err)
		}
		if err := nested.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}
