package availability

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-booking-engine/internal/schedule"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 10, hour, minute, 0, 0, time.UTC)
}

func TestCandidatesBoundaries(t *testing.T) {
	window := schedule.WorkingWindow{Start: at(9, 0), End: at(10, 0)}

	got := slices.Collect(Candidates(window, 30*time.Minute, 15*time.Minute))

	// 09:30 ends exactly at window end and is kept; 09:45 would spill past it.
	assert.Equal(t, []time.Time{at(9, 0), at(9, 15), at(9, 30)}, got)
}

func TestCandidatesStepIndependentOfDuration(t *testing.T) {
	window := schedule.WorkingWindow{Start: at(9, 0), End: at(11, 0)}

	got := slices.Collect(Candidates(window, 45*time.Minute, 30*time.Minute))

	assert.Equal(t, []time.Time{at(9, 0), at(9, 30), at(10, 0)}, got)
}

func TestCandidatesRestartable(t *testing.T) {
	window := schedule.WorkingWindow{Start: at(9, 0), End: at(17, 0)}
	seq := Candidates(window, 30*time.Minute, 30*time.Minute)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	require.Len(t, first, 16)
	assert.Equal(t, first, second)
}

func TestCandidatesDegenerateInputs(t *testing.T) {
	window := schedule.WorkingWindow{Start: at(9, 0), End: at(10, 0)}

	assert.Empty(t, slices.Collect(Candidates(window, 0, 30*time.Minute)))
	assert.Empty(t, slices.Collect(Candidates(window, 30*time.Minute, 0)))
	assert.Empty(t, slices.Collect(Candidates(window, 2*time.Hour, 30*time.Minute)))
}

func TestCandidatesEarlyBreak(t *testing.T) {
	window := schedule.WorkingWindow{Start: at(9, 0), End: at(17, 0)}

	var seen []time.Time
	for c := range Candidates(window, 30*time.Minute, 30*time.Minute) {
		seen = append(seen, c)
		if len(seen) == 2 {
			break
		}
	}
	assert.Len(t, seen, 2)
}

func TestGenerateSkipsBeforeEarliest(t *testing.T) {
	window := schedule.WorkingWindow{Start: at(9, 0), End: at(11, 0)}

	got := Generate(window, 30*time.Minute, 30*time.Minute, at(8, 31), at(9, 31))
	assert.Equal(t, []time.Time{at(10, 0), at(10, 30)}, got)

	got = Generate(window, 30*time.Minute, 30*time.Minute, at(9, 0), at(10, 0))
	assert.Equal(t, []time.Time{at(10, 0), at(10, 30)}, got)

	assert.Len(t, Generate(window, 30*time.Minute, 30*time.Minute, time.Time{}, time.Time{}), 4)
}

func TestGenerateWithoutLeadTimeExcludesNow(t *testing.T) {
	window := schedule.WorkingWindow{Start: at(9, 0), End: at(11, 0)}

	got := Generate(window, 30*time.Minute, 30*time.Minute, at(10, 0), at(10, 0))

	assert.Equal(t, []time.Time{at(10, 30)}, got)
}

func TestCandidatesFallBackDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := time.Date(2024, 11, 3, 0, 0, 0, 0, ny)
	window := schedule.WorkingWindow{
		Start: schedule.NewClockTime(0, 0).On(day),
		End:   schedule.NewClockTime(3, 0).On(day),
	}

	var got []string
	for c := range Candidates(window, 30*time.Minute, 30*time.Minute) {
		got = append(got, c.In(ny).Format(SlotLayout))
	}

	assert.Equal(t, []string{"00:00", "00:30", "01:00", "01:30", "02:00", "02:30"}, got)
}

func TestCandidatesSpringForwardDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, ny)
	window := schedule.WorkingWindow{
		Start: schedule.NewClockTime(1, 0).On(day),
		End:   schedule.NewClockTime(4, 0).On(day),
	}

	var got []string
	for c := range Candidates(window, time.Hour, time.Hour) {
		got = append(got, c.In(ny).Format(SlotLayout))
	}

	assert.Equal(t, []string{"01:00", "03:00"}, got)
}

func TestOverlaps(t *testing.T) {
	busy := Interval{Start: at(10, 0), End: at(10, 30)}

	tests := []struct {
		name string
		iv   Interval
		want bool
	}{
		{name: "inside", iv: Interval{at(10, 5), at(10, 25)}, want: true},
		{name: "identical", iv: busy, want: true},
		{name: "straddles start", iv: Interval{at(9, 45), at(10, 15)}, want: true},
		{name: "straddles end", iv: Interval{at(10, 15), at(10, 45)}, want: true},
		{name: "covers", iv: Interval{at(9, 0), at(11, 0)}, want: true},
		{name: "touches start", iv: Interval{at(9, 30), at(10, 0)}, want: false},
		{name: "touches end", iv: Interval{at(10, 30), at(11, 0)}, want: false},
		{name: "disjoint", iv: Interval{at(12, 0), at(12, 30)}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.iv, busy))
			assert.Equal(t, tt.want, Overlaps(busy, tt.iv))
		})
	}
}

func TestFilter(t *testing.T) {
	candidates := []time.Time{at(9, 0), at(9, 30), at(10, 0), at(10, 30), at(11, 0)}
	busy := []Interval{
		{Start: at(10, 0), End: at(10, 30)},
		{Start: at(10, 50), End: at(11, 10)},
	}

	got := Filter(candidates, 30*time.Minute, busy)

	// 09:30 ends where the first busy interval begins and stays.
	assert.Equal(t, []time.Time{at(9, 0), at(9, 30)}, got)
}

func TestFilterNoBusy(t *testing.T) {
	candidates := []time.Time{at(9, 0), at(9, 30)}
	assert.Equal(t, candidates, Filter(candidates, 30*time.Minute, nil))
}
