package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-booking-engine/internal/directory"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/metrics"
	"github.com/hackgods/appointment-booking-engine/internal/rules"
	"github.com/hackgods/appointment-booking-engine/internal/schedule"
	"github.com/hackgods/appointment-booking-engine/internal/timeblock"
)

var tracer = otel.Tracer("booking.internal.availability")

const SlotLayout = "15:04"

// Reason explains an empty availability result.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotWorking        Reason = "not_working"
	ReasonSameDayDisallowed Reason = "same_day_disallowed"
	ReasonFullyBooked       Reason = "fully_booked"
	ReasonStaffInactive     Reason = "staff_inactive"
)

// AppointmentSource lists the intervals held by non-cancelled appointments.
type AppointmentSource interface {
	ListBusyIntervals(ctx context.Context, businessID, staffID uuid.UUID, from, to time.Time) ([]Interval, error)
}

type BlockSource interface {
	ListBlocks(ctx context.Context, businessID, staffID uuid.UUID, from, to time.Time) ([]timeblock.TimeBlock, error)
}

type Result struct {
	Slots  []time.Time
	Reason Reason
	loc    *time.Location
}

// Strings formats slots as HH:MM in the business timezone.
func (r Result) Strings() []string {
	out := make([]string, 0, len(r.Slots))
	for _, s := range r.Slots {
		if r.loc != nil {
			s = s.In(r.loc)
		}
		out = append(out, s.Format(SlotLayout))
	}
	return out
}

type Config struct {
	Step time.Duration
	Now  func() time.Time
}

type Service struct {
	dir     directory.Directory
	appts   AppointmentSource
	blocks  BlockSource
	step    time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func NewService(dir directory.Directory, appts AppointmentSource, blocks BlockSource, cfg Config, m *metrics.Metrics, logger *logging.Logger) *Service {
	if cfg.Step <= 0 {
		cfg.Step = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		dir:     dir,
		appts:   appts,
		blocks:  blocks,
		step:    cfg.Step,
		now:     cfg.Now,
		metrics: m,
		logger:  logger,
	}
}

// GetAvailableSlots returns the free start times for a staff member, service
// and YYYY-MM-DD date as HH:MM strings. An empty list is a valid answer.
func (s *Service) GetAvailableSlots(ctx context.Context, businessID, staffID, serviceID uuid.UUID, date string) ([]string, error) {
	res, err := s.Check(ctx, businessID, staffID, serviceID, date)
	if err != nil {
		return nil, err
	}
	return res.Strings(), nil
}

// Check is GetAvailableSlots with the reason for an empty result attached.
func (s *Service) Check(ctx context.Context, businessID, staffID, serviceID uuid.UUID, date string) (Result, error) {
	ctx, span := tracer.Start(ctx, "availability.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.business_id", businessID.String()),
		attribute.String("booking.staff_id", staffID.String()),
		attribute.String("booking.service_id", serviceID.String()),
		attribute.String("booking.date", date),
	)

	res, err := s.check(ctx, businessID, staffID, serviceID, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "availability check failed")
		s.metrics.ObserveAvailability(errorOutcome(err), 0)
		return Result{}, err
	}

	outcome := "ok"
	if res.Reason != ReasonNone {
		outcome = string(res.Reason)
	}
	span.SetAttributes(attribute.Int("booking.slots", len(res.Slots)), attribute.String("booking.reason", string(res.Reason)))
	s.metrics.ObserveAvailability(outcome, len(res.Slots))
	return res, nil
}

func (s *Service) check(ctx context.Context, businessID, staffID, serviceID uuid.UUID, date string) (Result, error) {
	br, err := s.dir.GetBusinessRules(ctx, businessID)
	if err != nil {
		return Result{}, err
	}
	day, err := schedule.ParseDate(date, br.Location)
	if err != nil {
		return Result{}, err
	}

	staff, err := s.dir.GetStaff(ctx, businessID, staffID)
	if err != nil {
		return Result{}, err
	}
	svc, err := s.dir.GetService(ctx, businessID, serviceID)
	if err != nil {
		return Result{}, err
	}
	if !svc.IsActive {
		return Result{}, directory.ErrServiceNotFound
	}

	now := s.now()
	empty := Result{Slots: []time.Time{}, loc: br.Location}

	if err := br.CheckDate(day, now); err != nil {
		if errors.Is(err, rules.ErrSameDayDisallowed) {
			empty.Reason = ReasonSameDayDisallowed
			return empty, nil
		}
		return Result{}, err
	}
	if !staff.IsActive {
		empty.Reason = ReasonStaffInactive
		return empty, nil
	}

	window, err := schedule.Resolve(*staff, day)
	if err != nil {
		return Result{}, err
	}
	if window == nil {
		empty.Reason = ReasonNotWorking
		return empty, nil
	}

	busy, err := s.busyIntervals(ctx, businessID, staffID, *window)
	if err != nil {
		return Result{}, err
	}

	duration := svc.Duration()
	candidates := Generate(*window, duration, s.step, now, br.EarliestStart(now))
	free := Filter(candidates, duration, busy)

	s.logger.Debug("availability computed",
		"business_id", businessID,
		"staff_id", staffID,
		"date", date,
		"candidates", len(candidates),
		"busy", len(busy),
		"free", len(free),
	)

	res := Result{Slots: free, loc: br.Location}
	if len(free) == 0 {
		res.Reason = ReasonFullyBooked
	}
	return res, nil
}

// busyIntervals loads appointments and time blocks overlapping the window in
// parallel. The overlap query also catches an appointment that started the
// previous day and runs into this one.
func (s *Service) busyIntervals(ctx context.Context, businessID, staffID uuid.UUID, window schedule.WorkingWindow) ([]Interval, error) {
	var appts []Interval
	var blocks []timeblock.TimeBlock

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		appts, err = s.appts.ListBusyIntervals(gctx, businessID, staffID, window.Start, window.End)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		blocks, err = s.blocks.ListBlocks(gctx, businessID, staffID, window.Start, window.End)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	busy := make([]Interval, 0, len(appts)+len(blocks))
	busy = append(busy, appts...)
	for _, b := range blocks {
		busy = append(busy, Interval{Start: b.StartTime, End: b.EndTime})
	}
	return busy, nil
}

func errorOutcome(err error) string {
	var invalid *schedule.InvalidScheduleError
	switch {
	case errors.Is(err, directory.ErrStaffNotFound),
		errors.Is(err, directory.ErrServiceNotFound),
		errors.Is(err, directory.ErrBusinessNotFound):
		return "not_found"
	case errors.Is(err, schedule.ErrInvalidDate), errors.Is(err, rules.ErrDateInPast):
		return "invalid_request"
	case rules.IsRuleViolation(err):
		return "rule_violation"
	case errors.As(err, &invalid):
		return "invalid_schedule"
	default:
		return "error"
	}
}
