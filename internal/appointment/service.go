package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/appointment-booking-engine/internal/availability"
	"github.com/hackgods/appointment-booking-engine/internal/directory"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/metrics"
	redisclient "github.com/hackgods/appointment-booking-engine/internal/redis"
	"github.com/hackgods/appointment-booking-engine/internal/rules"
	"github.com/hackgods/appointment-booking-engine/internal/schedule"
)

var tracer = otel.Tracer("booking.internal.appointment")

var (
	ErrSlotTaken               = errors.New("slot is already taken")
	ErrInvalidTimeRange        = errors.New("end time must be after start time")
	ErrDurationMismatch        = errors.New("time range does not match the service duration")
	ErrOutsideWorkingHours     = errors.New("time range is outside the staff member's working hours")
	ErrStaffInactive           = errors.New("staff member is not accepting bookings")
	ErrStartInPast             = errors.New("start time is in the past")
	ErrClientNameRequired      = errors.New("client name is required")
	ErrInvalidStatus           = errors.New("unknown appointment status")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrEmptyUpdate             = errors.New("update carries no changes")
)

const expiryBatchSize = 100

type Config struct {
	// PendingTTL is how long a pending appointment waits for payment proof. 0 disables expiry.
	PendingTTL time.Duration
	Now        func() time.Time
}

type BookRequest struct {
	BusinessID uuid.UUID
	StaffID    uuid.UUID
	ServiceID  uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Client     ClientInfo
}

type UpdateRequest struct {
	BusinessID   uuid.UUID
	ID           uuid.UUID
	Status       *AppointmentStatus
	StaffID      *uuid.UUID
	StartTime    *time.Time
	EndTime      *time.Time
	CancelReason *string
}

func (r UpdateRequest) reschedules() bool {
	return r.StaffID != nil || r.StartTime != nil || r.EndTime != nil
}

// Service is the booking transaction manager: it validates a requested slot,
// re-checks it against committed state and inserts the appointment in one
// transaction.
type Service struct {
	store   Store
	dir     directory.Directory
	locker  redisclient.Locker
	cfg     Config
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func NewService(store Store, dir directory.Directory, locker redisclient.Locker, cfg Config, m *metrics.Metrics, logger *logging.Logger) *Service {
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:   store,
		dir:     dir,
		locker:  locker,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Book commits a new appointment or returns ErrSlotTaken when any
// non-cancelled appointment or time block overlaps the range. It never picks
// another slot on the caller's behalf.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Book")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.business_id", req.BusinessID.String()),
		attribute.String("booking.staff_id", req.StaffID.String()),
		attribute.String("booking.start", req.StartTime.Format(time.RFC3339)),
	)

	started := time.Now()
	appt, err := s.book(ctx, req)
	outcome := Outcome(err)
	s.metrics.ObserveBooking(outcome, time.Since(started).Seconds())
	span.SetAttributes(attribute.String("booking.outcome", outcome))

	log := s.logger.With("business_id", req.BusinessID, "staff_id", req.StaffID, "start", req.StartTime, "end", req.EndTime)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("booking.appointment_id", appt.ID.String()))
		log.Info("appointment booked", "appointment_id", appt.ID, "status", appt.Status)
	case outcome == "error":
		span.RecordError(err)
		span.SetStatus(codes.Error, "booking failed")
		log.Error("booking failed", "error", err)
	default:
		log.Info("booking rejected", "outcome", outcome, "reason", err.Error())
	}
	return appt, err
}

func (s *Service) book(ctx context.Context, req BookRequest) (*Appointment, error) {
	req.Client.Name = strings.TrimSpace(req.Client.Name)
	if req.Client.Name == "" {
		return nil, ErrClientNameRequired
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, ErrInvalidTimeRange
	}

	br, err := s.dir.GetBusinessRules(ctx, req.BusinessID)
	if err != nil {
		return nil, err
	}
	staff, err := s.dir.GetStaff(ctx, req.BusinessID, req.StaffID)
	if err != nil {
		return nil, err
	}
	svc, err := s.dir.GetService(ctx, req.BusinessID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, directory.ErrServiceNotFound
	}

	now := s.cfg.Now()
	if err := checkSlot(br, staff, svc, req.StartTime, req.EndTime, now); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:         uuid.New(),
		BusinessID: req.BusinessID,
		StaffID:    req.StaffID,
		ServiceID:  req.ServiceID,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Client:     req.Client,
	}
	s.applyInitialStatus(appt, br, svc, now)

	err = s.locker.WithSlotLock(ctx, req.StaffID, req.StartTime, req.EndTime, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx TxStore) error {
			if err := checkQuota(ctx, tx, br, req.BusinessID, req.StartTime); err != nil {
				return err
			}
			busy, err := tx.ListConflicts(ctx, req.BusinessID, req.StaffID, req.StartTime, req.EndTime, uuid.Nil)
			if err != nil {
				return err
			}
			if availability.OverlapsAny(appt.Interval(), busy) {
				return ErrSlotTaken
			}
			if err := tx.InsertAppointment(ctx, appt); err != nil {
				return err
			}
			ev, err := bookedEvent(ctx, appt)
			if err != nil {
				return err
			}
			return tx.InsertEvent(ctx, ev)
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return appt, nil
}

// checkQuota enforces the monthly booking limit inside the booking
// transaction. CountMonthlyBookings serializes callers per business, so the
// limit holds across staff members booked concurrently.
func checkQuota(ctx context.Context, tx TxStore, br rules.BusinessRules, businessID uuid.UUID, start time.Time) error {
	if br.MonthlyBookingLimit <= 0 {
		return nil
	}
	from, to := br.MonthBounds(start)
	n, err := tx.CountMonthlyBookings(ctx, businessID, from, to)
	if err != nil {
		return fmt.Errorf("check booking quota: %w", err)
	}
	if n >= br.MonthlyBookingLimit {
		return rules.ErrQuotaExceeded
	}
	return nil
}

// applyInitialStatus confirms straight away unless the business reviews
// payment proof first.
func (s *Service) applyInitialStatus(a *Appointment, br rules.BusinessRules, svc *directory.Service, now time.Time) {
	if br.AutoConfirm || !svc.RequiresPaymentProof {
		a.Status = StatusConfirmed
		a.PaymentStatus = PaymentNotRequired
		return
	}
	a.Status = StatusPending
	a.PaymentStatus = PaymentAwaitingProof
	if s.cfg.PendingTTL > 0 {
		expires := now.Add(s.cfg.PendingTTL)
		a.ExpiresAt = &expires
	}
}

// checkSlot validates a concrete [start, end) against the service, the
// business rules and the staff member's working window.
func checkSlot(br rules.BusinessRules, staff *schedule.StaffMember, svc *directory.Service, start, end time.Time, now time.Time) error {
	if !end.After(start) {
		return ErrInvalidTimeRange
	}
	if !staff.IsActive {
		return ErrStaffInactive
	}
	if end.Sub(start) != svc.Duration() {
		return ErrDurationMismatch
	}
	if !start.After(now) {
		return ErrStartInPast
	}
	if err := br.CheckStart(start, now); err != nil {
		return err
	}

	loc := br.Location
	if loc == nil {
		loc = time.UTC
	}
	window, err := schedule.Resolve(*staff, start.In(loc))
	if err != nil {
		return err
	}
	if window == nil || !window.Contains(start, end) {
		return ErrOutsideWorkingHours
	}
	return nil
}

// UpdateAppointment applies a lifecycle transition, a reschedule, or both in
// one transaction. A reschedule re-runs slot validation and the overlap check
// with the appointment itself excluded.
func (s *Service) UpdateAppointment(ctx context.Context, req UpdateRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Update")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", req.ID.String()))

	appt, err := s.update(ctx, req)
	if err != nil && Outcome(err) == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		s.logger.Error("appointment update failed", "appointment_id", req.ID, "error", err)
	}
	return appt, err
}

func (s *Service) update(ctx context.Context, req UpdateRequest) (*Appointment, error) {
	if req.Status == nil && !req.reschedules() {
		return nil, ErrEmptyUpdate
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	current, err := s.store.GetAppointment(ctx, req.BusinessID, req.ID)
	if err != nil {
		return nil, err
	}

	staffID := current.StaffID
	start, end := current.StartTime, current.EndTime
	if req.reschedules() {
		if req.Status != nil && !req.Status.Reschedulable() {
			return nil, ErrInvalidStatusTransition
		}
		if req.StaffID != nil {
			staffID = *req.StaffID
		}
		if req.StartTime != nil {
			start = *req.StartTime
			end = start.Add(current.EndTime.Sub(current.StartTime))
		}
		if req.EndTime != nil {
			end = *req.EndTime
		}
		if err := s.validateReschedule(ctx, current, staffID, start, end); err != nil {
			return nil, err
		}
	}
	moved := staffID != current.StaffID || !start.Equal(current.StartTime) || !end.Equal(current.EndTime)

	var updated *Appointment
	run := func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx TxStore) error {
			a, err := tx.GetAppointmentForUpdate(ctx, req.BusinessID, req.ID)
			if err != nil {
				return err
			}
			before := *a
			statusChanged := false

			if req.Status != nil && *req.Status != a.Status {
				if !a.Status.CanTransitionTo(*req.Status) {
					return fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, a.Status, *req.Status)
				}
				a.Status = *req.Status
				statusChanged = true
				switch a.Status {
				case StatusCancelled:
					a.CancelReason = req.CancelReason
					a.ExpiresAt = nil
				case StatusConfirmed:
					a.ExpiresAt = nil
				}
			}

			if moved {
				if !before.Status.Reschedulable() {
					return fmt.Errorf("%w: %s appointments cannot be rescheduled", ErrInvalidStatusTransition, before.Status)
				}
				a.StaffID, a.StartTime, a.EndTime = staffID, start, end
				if a.Status != StatusCancelled {
					busy, err := tx.ListConflicts(ctx, req.BusinessID, staffID, start, end, a.ID)
					if err != nil {
						return err
					}
					if availability.OverlapsAny(a.Interval(), busy) {
						return ErrSlotTaken
					}
				}
			}

			if !statusChanged && !moved {
				updated = a
				return nil
			}
			if err := tx.UpdateAppointment(ctx, a); err != nil {
				return err
			}
			if statusChanged {
				ev, err := statusChangedEvent(ctx, a, before.Status)
				if err != nil {
					return err
				}
				if err := tx.InsertEvent(ctx, ev); err != nil {
					return err
				}
			}
			if moved {
				ev, err := rescheduledEvent(ctx, &before, a)
				if err != nil {
					return err
				}
				if err := tx.InsertEvent(ctx, ev); err != nil {
					return err
				}
			}
			updated = a
			return nil
		})
	}

	if moved {
		err = s.locker.WithSlotLock(ctx, staffID, start, end, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	s.logger.Info("appointment updated",
		"appointment_id", updated.ID,
		"business_id", updated.BusinessID,
		"status", updated.Status,
		"rescheduled", moved,
	)
	return updated, nil
}

func (s *Service) validateReschedule(ctx context.Context, current *Appointment, staffID uuid.UUID, start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidTimeRange
	}
	br, err := s.dir.GetBusinessRules(ctx, current.BusinessID)
	if err != nil {
		return err
	}
	staff, err := s.dir.GetStaff(ctx, current.BusinessID, staffID)
	if err != nil {
		return err
	}
	svc, err := s.dir.GetService(ctx, current.BusinessID, current.ServiceID)
	if err != nil {
		return err
	}
	return checkSlot(br, staff, svc, start, end, s.cfg.Now())
}

// ExpirePendingAppointments cancels pending appointments whose payment-proof
// window elapsed. Each appointment is handled in its own transaction; a
// failure is logged and the rest of the batch continues.
func (s *Service) ExpirePendingAppointments(ctx context.Context) (int, error) {
	if s.cfg.PendingTTL <= 0 {
		return 0, nil
	}

	now := s.cfg.Now()
	candidates, err := s.store.FindExpiredPending(ctx, now, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	reason := "expired"
	expired := 0
	for _, c := range candidates {
		err := s.store.InTx(ctx, func(tx TxStore) error {
			a, err := tx.GetAppointmentForUpdate(ctx, c.BusinessID, c.ID)
			if err != nil {
				return err
			}
			// confirmed or cancelled since the scan
			if a.Status != StatusPending || a.ExpiresAt == nil || !a.ExpiresAt.Before(now) {
				return errSkip
			}
			a.Status = StatusCancelled
			a.CancelReason = &reason
			if err := tx.UpdateAppointment(ctx, a); err != nil {
				return err
			}
			ev, err := statusChangedEvent(ctx, a, StatusPending)
			if err != nil {
				return err
			}
			return tx.InsertEvent(ctx, ev)
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, errSkip), errors.Is(err, ErrAppointmentNotFound):
		default:
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.logger.Error("failed to expire appointment", "appointment_id", c.ID, "error", err)
		}
	}

	s.metrics.AddExpired(expired)
	return expired, nil
}

var errSkip = errors.New("skip")

func (s *Service) GetAppointment(ctx context.Context, businessID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, businessID, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) ListAppointments(ctx context.Context, businessID uuid.UUID, f ListFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	appts, err := s.store.ListAppointments(ctx, businessID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// Outcome classifies a booking error for metrics and logs.
func Outcome(err error) string {
	var invalid *schedule.InvalidScheduleError
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case rules.IsRuleViolation(err):
		return "rule_violation"
	case errors.As(err, &invalid):
		return "error"
	case errors.Is(err, directory.ErrStaffNotFound),
		errors.Is(err, directory.ErrServiceNotFound),
		errors.Is(err, directory.ErrBusinessNotFound),
		errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTimeRange),
		errors.Is(err, ErrDurationMismatch),
		errors.Is(err, ErrOutsideWorkingHours),
		errors.Is(err, ErrStaffInactive),
		errors.Is(err, ErrStartInPast),
		errors.Is(err, ErrClientNameRequired),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrEmptyUpdate),
		errors.Is(err, rules.ErrDateInPast):
		return "invalid_request"
	default:
		return "error"
	}
}
