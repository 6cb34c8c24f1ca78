package scheduler

import (
	"time"

	"github.com/jghoshh/ritmo/backend/models"
)

// DueRules returns the subset of rules that are due at the given instant.
// A rule is due when it is active, its configured time equals now's hour and
// minute, and now's weekday is covered by its day set (an empty day set
// covers every day). The function is pure: the caller injects now, so it can
// be evaluated at any instant under test.
func DueRules(now time.Time, rules []models.ReminderRule) []models.ReminderRule {
	hourMinute := now.Format(models.TimeLayout)
	code := DayCode(now.Weekday())

	var due []models.ReminderRule
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if rule.Time != hourMinute {
			continue
		}
		if !matchesDay(rule.Days, code) {
			continue
		}
		due = append(due, rule)
	}
	return due
}
