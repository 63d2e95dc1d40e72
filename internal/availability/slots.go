package availability

import (
	"iter"
	"time"

	"github.com/hackgods/appointment-booking-engine/internal/schedule"
)

// Candidates yields start times window.Start, window.Start+step, ... for as
// long as start+duration fits inside the window. The sequence is pure and can
// be ranged over any number of times.
//
// Steps are absolute, so a wall-clock time repeated by a DST fall-back is
// yielded once, at its first occurrence.
func Candidates(window schedule.WorkingWindow, duration, step time.Duration) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		loc := window.Start.Location()
		var last time.Time
		for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
			wall := wallClock(t.In(loc))
			if !last.IsZero() && !wall.After(last) {
				continue
			}
			last = wall
			if !yield(t) {
				return
			}
		}
	}
}

// wallClock drops the zone so local times can be compared as read.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// Generate collects the candidate start times strictly after now and not
// before earliest. Zero values disable either bound.
func Generate(window schedule.WorkingWindow, duration, step time.Duration, now, earliest time.Time) []time.Time {
	var out []time.Time
	for t := range Candidates(window, duration, step) {
		if !now.IsZero() && !t.After(now) {
			continue
		}
		if t.Before(earliest) {
			continue
		}
		out = append(out, t)
	}
	return out
}
