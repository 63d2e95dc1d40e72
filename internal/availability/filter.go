package availability

import "time"

// Filter drops every candidate whose [start, start+duration) overlaps a busy
// interval. Order is preserved.
func Filter(candidates []time.Time, duration time.Duration, busy []Interval) []time.Time {
	out := make([]time.Time, 0, len(candidates))
	for _, start := range candidates {
		if OverlapsAny(Interval{Start: start, End: start.Add(duration)}, busy) {
			continue
		}
		out = append(out, start)
	}
	return out
}
