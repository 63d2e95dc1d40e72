// Package rules holds the per-business booking policy shared by the
// availability read path and the booking write path.
package rules

import (
	"errors"
	"time"
)

var (
	ErrDateInPast        = errors.New("date is in the past")
	ErrTooSoon           = errors.New("start time is inside the minimum advance window")
	ErrTooFarAhead       = errors.New("date is beyond the advance booking horizon")
	ErrSameDayDisallowed = errors.New("same-day booking is not allowed")
	ErrQuotaExceeded     = errors.New("business booking quota exceeded")
)

type BusinessRules struct {
	MinAdvance     time.Duration
	MaxAdvanceDays int // 0 means no horizon
	AllowSameDay   bool
	AutoConfirm    bool
	// MonthlyBookingLimit caps non-cancelled appointments per calendar month, 0 means unlimited.
	MonthlyBookingLimit int
	Location            *time.Location
}

func Default() BusinessRules {
	return BusinessRules{
		MaxAdvanceDays: 90,
		AllowSameDay:   true,
		Location:       time.UTC,
	}
}

func (r BusinessRules) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Today returns midnight of now's calendar day in the business timezone.
func (r BusinessRules) Today(now time.Time) time.Time {
	return dateOf(now.In(r.loc()))
}

// CheckDate validates a calendar day against the booking horizon. The
// comparison is date-only in the business timezone.
func (r BusinessRules) CheckDate(day, now time.Time) error {
	today := r.Today(now)
	d := dateOf(day.In(r.loc()))

	switch {
	case d.Before(today):
		return ErrDateInPast
	case r.MaxAdvanceDays > 0 && d.After(today.AddDate(0, 0, r.MaxAdvanceDays)):
		return ErrTooFarAhead
	case d.Equal(today) && !r.AllowSameDay:
		return ErrSameDayDisallowed
	}
	return nil
}

// EarliestStart is the first instant a new appointment may begin.
func (r BusinessRules) EarliestStart(now time.Time) time.Time {
	return now.Add(r.MinAdvance)
}

// CheckStart validates a concrete start time: its day must pass CheckDate and
// it must not fall inside the minimum advance window.
func (r BusinessRules) CheckStart(start, now time.Time) error {
	if err := r.CheckDate(start, now); err != nil {
		return err
	}
	if start.Before(r.EarliestStart(now)) {
		return ErrTooSoon
	}
	return nil
}

// IsRuleViolation reports whether err is one of the business-rule rejections,
// as opposed to an input or conflict error.
func IsRuleViolation(err error) bool {
	return errors.Is(err, ErrTooSoon) ||
		errors.Is(err, ErrTooFarAhead) ||
		errors.Is(err, ErrSameDayDisallowed) ||
		errors.Is(err, ErrQuotaExceeded)
}

// MonthBounds returns [first of month, first of next month) around t in the
// business timezone.
func (r BusinessRules) MonthBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(r.loc())
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, r.loc())
	return first, first.AddDate(0, 1, 0)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
