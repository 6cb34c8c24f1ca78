package scheduler

import (
	"testing"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"github.com/stretchr/testify/assert"
)

// monday8am is Monday 2023-10-02 08:00 UTC.
var monday8am = time.Date(2023, 10, 2, 8, 0, 0, 0, time.UTC)

func rule(timeOfDay, days string, active bool) models.ReminderRule {
	return models.ReminderRule{Active: active, Time: timeOfDay, Days: days, Channel: models.ChannelEmail}
}

func TestDayCode(t *testing.T) {
	assert.Equal(t, "D", DayCode(time.Sunday))
	assert.Equal(t, "L", DayCode(time.Monday))
	assert.Equal(t, "M", DayCode(time.Tuesday))
	assert.Equal(t, "X", DayCode(time.Wednesday))
	assert.Equal(t, "J", DayCode(time.Thursday))
	assert.Equal(t, "V", DayCode(time.Friday))
	assert.Equal(t, "S", DayCode(time.Saturday))
}

func TestDueRulesTimeMustMatchExactly(t *testing.T) {
	rules := []models.ReminderRule{rule("08:00", "", true)}

	assert.Len(t, DueRules(monday8am, rules), 1)
	assert.Empty(t, DueRules(monday8am.Add(time.Minute), rules))
	assert.Empty(t, DueRules(monday8am.Add(-time.Minute), rules))
}

func TestDueRulesSameMinuteAlwaysDue(t *testing.T) {
	rules := []models.ReminderRule{rule("08:00", "", true)}

	// Seconds within the minute don't matter.
	assert.Len(t, DueRules(monday8am.Add(59*time.Second), rules), 1)
}

func TestDueRulesWeekdayMembership(t *testing.T) {
	weekdaysOnly := []models.ReminderRule{rule("08:00", "L,M,X,J,V", true)}

	for offset := 0; offset < 7; offset++ {
		now := monday8am.AddDate(0, 0, offset)
		due := DueRules(now, weekdaysOnly)
		switch now.Weekday() {
		case time.Saturday, time.Sunday:
			assert.Empty(t, due, "should not fire on %s", now.Weekday())
		default:
			assert.Len(t, due, 1, "should fire on %s", now.Weekday())
		}
	}
}

func TestDueRulesEmptyDaysMeansEveryDay(t *testing.T) {
	rules := []models.ReminderRule{rule("08:00", "", true), rule("08:00", "  ", true)}

	for offset := 0; offset < 7; offset++ {
		assert.Len(t, DueRules(monday8am.AddDate(0, 0, offset), rules), 2)
	}
}

func TestDueRulesInactiveNeverDue(t *testing.T) {
	rules := []models.ReminderRule{rule("08:00", "", false)}
	assert.Empty(t, DueRules(monday8am, rules))
}

func TestDueRulesUnknownTokenFailsClosed(t *testing.T) {
	// "Z" is not a day code: the rule still fires on Monday via "L" but the
	// junk token never matches any day.
	rules := []models.ReminderRule{rule("08:00", "L,Z", true)}

	assert.Len(t, DueRules(monday8am, rules), 1)
	for offset := 1; offset < 7; offset++ {
		assert.Empty(t, DueRules(monday8am.AddDate(0, 0, offset), rules))
	}
}

func TestDueRulesLowercaseTokenDoesNotMatch(t *testing.T) {
	rules := []models.ReminderRule{rule("08:00", "l", true)}
	assert.Empty(t, DueRules(monday8am, rules))
}

func TestDueRulesTokensAreTrimmed(t *testing.T) {
	rules := []models.ReminderRule{rule("08:00", " L , M ", true)}
	assert.Len(t, DueRules(monday8am, rules), 1)
}

func TestValidateDays(t *testing.T) {
	assert.NoError(t, ValidateDays(""))
	assert.NoError(t, ValidateDays("L,M,X,J,V"))
	assert.NoError(t, ValidateDays(" D , S "))
	assert.Error(t, ValidateDays("L,Z"))
	assert.Error(t, ValidateDays("lunes"))
}

func TestValidateTime(t *testing.T) {
	assert.NoError(t, ValidateTime("08:00"))
	assert.NoError(t, ValidateTime("23:59"))
	assert.Error(t, ValidateTime("24:00"))
	assert.Error(t, ValidateTime("8am"))
	assert.Error(t, ValidateTime(""))
}
