package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InvalidScheduleError reports stored working hours whose end is not after
// their start. Staff management must reject these at write time.
type InvalidScheduleError struct {
	StaffID  uuid.UUID
	Weekday  time.Weekday
	Hours    Hours
	Override bool
}

func (e *InvalidScheduleError) Error() string {
	kind := "default hours"
	if e.Override {
		kind = "override"
	}
	return fmt.Sprintf("invalid schedule for staff %s on %s: %s %s-%s", e.StaffID, e.Weekday, kind, e.Hours.Start, e.Hours.End)
}

// Resolve returns the staff member's working window on date, or nil when they
// do not work that weekday. date is interpreted in its own location.
func Resolve(staff StaffMember, date time.Time) (*WorkingWindow, error) {
	weekday := date.Weekday()
	if !staff.WorksOn[weekday] {
		return nil, nil
	}

	hours, override := staff.Overrides[weekday]
	if !override {
		hours = staff.WorkHours
	}
	if !hours.Valid() {
		return nil, &InvalidScheduleError{StaffID: staff.ID, Weekday: weekday, Hours: hours, Override: override}
	}

	day := startOfDay(date)
	return &WorkingWindow{
		Start: hours.Start.On(day),
		End:   endOn(hours.End, day),
	}, nil
}

// Validate checks every working day's hours. Staff management calls this
// before persisting a schedule.
func Validate(staff StaffMember) error {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if !staff.WorksOn[wd] {
			continue
		}
		hours, override := staff.Overrides[wd]
		if !override {
			hours = staff.WorkHours
		}
		if !hours.Valid() {
			return &InvalidScheduleError{StaffID: staff.ID, Weekday: wd, Hours: hours, Override: override}
		}
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// 24:00 is midnight of the following day.
func endOn(c ClockTime, day time.Time) time.Time {
	if c == EndOfDay {
		return day.AddDate(0, 0, 1)
	}
	return c.On(day)
}
