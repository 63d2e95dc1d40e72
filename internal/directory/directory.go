// Package directory reads the staff, service and business records the
// scheduling core depends on. Staff and service management write these
// tables; this package never mutates them.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-booking-engine/internal/rules"
	"github.com/hackgods/appointment-booking-engine/internal/schedule"
)

var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrStaffNotFound    = errors.New("staff member not found")
	ErrServiceNotFound  = errors.New("service not found")
)

type Service struct {
	ID                   uuid.UUID
	BusinessID           uuid.UUID
	Name                 string
	DurationMinutes      int
	PriceCents           int64
	RequiresPaymentProof bool
	IsActive             bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Directory is the read contract for staff, services and business rules.
// Every lookup is scoped to a business.
type Directory interface {
	GetStaff(ctx context.Context, businessID, staffID uuid.UUID) (*schedule.StaffMember, error)
	GetService(ctx context.Context, businessID, serviceID uuid.UUID) (*Service, error)
	GetBusinessRules(ctx context.Context, businessID uuid.UUID) (rules.BusinessRules, error)
}
