package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// dayCodes is the fixed bidirectional mapping between weekdays and the
// single-letter codes stored on reminder rules: D (Sunday), L (Monday),
// M (Tuesday), X (Wednesday), J (Thursday), V (Friday), S (Saturday).
// The same table serves both the storage format and matching, so the
// alphabet can never drift between the two.
var dayCodes = map[time.Weekday]string{
	time.Sunday:    "D",
	time.Monday:    "L",
	time.Tuesday:   "M",
	time.Wednesday: "X",
	time.Thursday:  "J",
	time.Friday:    "V",
	time.Saturday:  "S",
}

// weekdayByCode is the reverse of dayCodes, built once at package init.
var weekdayByCode = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, len(dayCodes))
	for d, c := range dayCodes {
		m[c] = d
	}
	return m
}()

// DayCode returns the single-letter code for a weekday.
func DayCode(d time.Weekday) string {
	return dayCodes[d]
}

// matchesDay reports whether the day-set string covers the given day code.
// An empty set means every day. Tokens are comma-separated and trimmed;
// comparison is case-sensitive, so an unknown token never matches anything
// (the rule fails closed rather than firing on a day it was not asked for).
func matchesDay(days, code string) bool {
	if strings.TrimSpace(days) == "" {
		return true
	}
	for _, tok := range strings.Split(days, ",") {
		if strings.TrimSpace(tok) == code {
			return true
		}
	}
	return false
}

// ValidateDays checks a day-set string at rule-creation time. Unknown tokens
// are rejected here so that a stored rule can only ever fail closed at match
// time, never because of a typo the user meant differently.
func ValidateDays(days string) error {
	if strings.TrimSpace(days) == "" {
		return nil
	}
	for _, tok := range strings.Split(days, ",") {
		tok = strings.TrimSpace(tok)
		if _, ok := weekdayByCode[tok]; !ok {
			return fmt.Errorf("unknown day token %q, expected one of D,L,M,X,J,V,S", tok)
		}
	}
	return nil
}

// ValidateTime checks an "HH:MM" rule time at rule-creation time.
func ValidateTime(value string) error {
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return nil
}
