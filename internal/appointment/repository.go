package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-booking-engine/internal/availability"
	"github.com/hackgods/appointment-booking-engine/internal/outbox"
)

var ErrAppointmentNotFound = errors.New("appointment not found")

// Store is the AppointmentStore. Reads run outside a transaction; every
// mutation goes through InTx so the conflict re-check, the write and its
// outbox event commit together.
type Store interface {
	availability.AppointmentSource

	GetAppointment(ctx context.Context, businessID, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, businessID uuid.UUID, f ListFilter) ([]Appointment, error)

	// FindExpiredPending spans all businesses; the expiry worker is not tenant-scoped.
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	InTx(ctx context.Context, fn func(tx TxStore) error) error
}

// TxStore is the transaction-scoped view handed to Store.InTx.
type TxStore interface {
	// ListConflicts returns every non-cancelled appointment and time block of
	// the staff member overlapping [from, to), ignoring excludeID.
	ListConflicts(ctx context.Context, businessID, staffID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]availability.Interval, error)

	// InsertAppointment returns ErrSlotTaken when the exclusion constraint rejects the row.
	InsertAppointment(ctx context.Context, a *Appointment) error

	// CountMonthlyBookings counts the business's non-cancelled appointments
	// starting in [from, to). It first takes a transaction-scoped lock on the
	// business, held until commit or rollback.
	CountMonthlyBookings(ctx context.Context, businessID uuid.UUID, from, to time.Time) (int, error)
	GetAppointmentForUpdate(ctx context.Context, businessID, id uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) error

	InsertEvent(ctx context.Context, ev outbox.Event) error
}
