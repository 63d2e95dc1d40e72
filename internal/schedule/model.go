package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Hours is a working window expressed as wall-clock times.
type Hours struct {
	Start ClockTime
	End   ClockTime
}

func (h Hours) Valid() bool {
	return h.Start >= 0 && h.End <= EndOfDay && h.End > h.Start
}

// StaffMember carries the scheduling view of a staff record.
type StaffMember struct {
	ID         uuid.UUID
	BusinessID uuid.UUID
	Name       string
	IsActive   bool

	// Default hours used on any working day without an override.
	WorkHours Hours
	// WorksOn is indexed by time.Weekday.
	WorksOn [7]bool
	// Overrides replaces WorkHours on specific weekdays.
	Overrides map[time.Weekday]Hours
}

// WorkingWindow is a resolved [Start, End) range on a concrete date.
type WorkingWindow struct {
	Start time.Time
	End   time.Time
}

func (w WorkingWindow) Contains(start, end time.Time) bool {
	return !start.Before(w.Start) && !end.After(w.End)
}
