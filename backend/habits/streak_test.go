package habits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var today = time.Date(2023, 10, 2, 15, 30, 0, 0, time.UTC)

// daysAgo returns the date n days before today.
func daysAgo(n int) time.Time {
	return today.AddDate(0, 0, -n)
}

func TestComputeStreakEmptyHistory(t *testing.T) {
	current, max := ComputeStreak(today, nil, 0)
	assert.Equal(t, 0, current)
	assert.Equal(t, 0, max)
}

func TestComputeStreakSeededByToday(t *testing.T) {
	current, max := ComputeStreak(today, []time.Time{daysAgo(0)}, 0)
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, max)
}

func TestComputeStreakSeededByYesterday(t *testing.T) {
	// A streak survives before today's entry has been made.
	current, _ := ComputeStreak(today, []time.Time{daysAgo(1), daysAgo(2)}, 0)
	assert.Equal(t, 2, current)
}

func TestComputeStreakBrokenByTwoDayGap(t *testing.T) {
	// The most recent completion was the day before yesterday: streak is gone.
	current, _ := ComputeStreak(today, []time.Time{daysAgo(2), daysAgo(3)}, 0)
	assert.Equal(t, 0, current)
}

func TestComputeStreakStopsAtFirstGap(t *testing.T) {
	// today, yesterday, then a hole before day 3.
	dates := []time.Time{daysAgo(0), daysAgo(1), daysAgo(3), daysAgo(4)}
	current, _ := ComputeStreak(today, dates, 0)
	assert.Equal(t, 2, current)
}

func TestComputeStreakLongRun(t *testing.T) {
	var dates []time.Time
	for i := 0; i < 7; i++ {
		dates = append(dates, daysAgo(i))
	}
	current, max := ComputeStreak(today, dates, 5)
	assert.Equal(t, 7, current)
	assert.Equal(t, 7, max)
}

func TestComputeStreakMaxIsMonotonic(t *testing.T) {
	// Current dropped to 3 but the best ever was 5: max must not shrink.
	dates := []time.Time{daysAgo(0), daysAgo(1), daysAgo(2)}
	current, max := ComputeStreak(today, dates, 5)
	assert.Equal(t, 3, current)
	assert.Equal(t, 5, max)
}

func TestComputeStreakIdempotent(t *testing.T) {
	dates := []time.Time{daysAgo(0), daysAgo(1), daysAgo(2)}

	c1, m1 := ComputeStreak(today, dates, 0)
	c2, m2 := ComputeStreak(today, dates, m1)
	assert.Equal(t, c1, c2)
	assert.Equal(t, m1, m2)
}

func TestComputeStreakComparesAtDatePrecision(t *testing.T) {
	// Completions carry arbitrary times of day; only the calendar date counts.
	dates := []time.Time{
		time.Date(2023, 10, 2, 23, 59, 0, 0, time.UTC),
		time.Date(2023, 10, 1, 0, 1, 0, 0, time.UTC),
	}
	current, _ := ComputeStreak(today, dates, 0)
	assert.Equal(t, 2, current)
}
