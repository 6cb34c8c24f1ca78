package habits

import "time"

// ComputeStreak recalculates the consecutive-day streak for a habit.
//
// completedDatesDesc must hold the dates of fully completed records (partial
// days do not count), sorted in descending order by the caller; the function
// compares at date precision and does not re-sort. today is injected rather
// than read from the clock so recomputation is deterministic.
//
// The walk seeds its anchor at today: the most recent completed date must be
// today or yesterday for a streak to exist at all, which keeps a streak
// intact before today's entry has been made. Each further date must be
// exactly one day before the previous one; the first gap ends the walk.
//
// The returned max is max(prevMax, current), so the stored maximum is
// monotonically non-decreasing across recomputations.
func ComputeStreak(today time.Time, completedDatesDesc []time.Time, prevMax int) (current, max int) {
	max = prevMax
	anchor := dateOnly(today)

	for _, d := range completedDatesDesc {
		d = dateOnly(d)
		if current == 0 {
			if d.Equal(anchor) || d.Equal(anchor.AddDate(0, 0, -1)) {
				current = 1
				anchor = d
				continue
			}
			break
		}
		if d.Equal(anchor.AddDate(0, 0, -1)) {
			current++
			anchor = d
			continue
		}
		break
	}

	if current > max {
		max = current
	}
	return current, max
}

// dateOnly truncates a timestamp to midnight UTC so comparisons happen at
// calendar-date precision.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
