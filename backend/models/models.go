package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DateLayout is the calendar-date format used for DailyRecord.Date and
// SentReminder.SendDate. Dates are stored as plain strings so that the
// uniqueness constraints on (habit, date) and (rule, date) are exact,
// independent of timezones.
const DateLayout = "2006-01-02"

// TimeLayout is the minute-granularity clock format used by reminder rules.
const TimeLayout = "15:04"

// Statuses a DailyRecord can be in. The status is derived from the completed
// count and the habit's daily target, never set directly by callers.
const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
)

// Delivery channels a ReminderRule can be configured with.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// DefaultFollowupDelayMinutes is the follow-up delay applied when a rule does
// not configure one.
const DefaultFollowupDelayMinutes = 5

type User struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username       string             `bson:"username" json:"username"`
	PasswordHash   string             `bson:"password_hash" json:"-"`
	Email          string             `bson:"email" json:"email"`
	EmailConfirmed bool               `bson:"email_confirmed" json:"email_confirmed"`
}

type Category struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID primitive.ObjectID `bson:"user_id" json:"user_id"`
	Name   string             `bson:"name" json:"name"`
	Color  string             `bson:"color,omitempty" json:"color"`
	Emoji  string             `bson:"emoji,omitempty" json:"emoji"`
}

type Habit struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        primitive.ObjectID `bson:"user_id" json:"user_id"`
	CategoryID    primitive.ObjectID `bson:"category_id,omitempty" json:"category_id"`
	Name          string             `bson:"name" json:"name"`
	Description   string             `bson:"description" json:"description"`
	Active        bool               `bson:"active" json:"active"`
	DailyTarget   int                `bson:"daily_target" json:"daily_target"` // 0 means no target: any completion finishes the day
	CurrentStreak int                `bson:"current_streak" json:"current_streak"`
	MaxStreak     int                `bson:"max_streak" json:"max_streak"`
	StartDate     time.Time          `bson:"start_date,omitempty" json:"start_date"`
	EndDate       time.Time          `bson:"end_date,omitempty" json:"end_date"`
}

type Goal struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	HabitID     primitive.ObjectID `bson:"habit_id" json:"habit_id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description"`
	Target      int                `bson:"target" json:"target"`
}

type ReminderRule struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	HabitID         primitive.ObjectID `bson:"habit_id" json:"habit_id"`
	Active          bool               `bson:"active" json:"active"`
	Time            string             `bson:"time" json:"time"` // "HH:MM"
	Days            string             `bson:"days,omitempty" json:"days"` // comma-separated day letters; empty means every day
	Channel         string             `bson:"channel" json:"channel"`
	Message         string             `bson:"message,omitempty" json:"message"`
	FollowupEnabled bool               `bson:"followup_enabled" json:"followup_enabled"`
	FollowupDelay   int                `bson:"followup_delay_minutes" json:"followup_delay_minutes"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
}

// FollowupDelayMinutes returns the configured follow-up delay, falling back
// to the default when the rule does not set one.
func (r *ReminderRule) FollowupDelayMinutes() int {
	if r.FollowupDelay <= 0 {
		return DefaultFollowupDelayMinutes
	}
	return r.FollowupDelay
}

type DailyRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	HabitID     primitive.ObjectID `bson:"habit_id" json:"habit_id"`
	Date        string             `bson:"date" json:"date"` // DateLayout
	Completed   bool               `bson:"completed" json:"completed"`
	Count       int                `bson:"completed_count" json:"completed_count"`
	Status      string             `bson:"status" json:"status"`
	Notes       string             `bson:"notes,omitempty" json:"notes"`
	CompletedAt *time.Time         `bson:"completed_at,omitempty" json:"completed_at"`
}

// SentReminder is one dispatch event of a ReminderRule on one day. At most
// one exists per (rule, date).
type SentReminder struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RuleID         primitive.ObjectID `bson:"rule_id" json:"rule_id"`
	HabitID        primitive.ObjectID `bson:"habit_id" json:"habit_id"`
	SendDate       string             `bson:"send_date" json:"send_date"` // DateLayout
	SendTime       string             `bson:"send_time" json:"send_time"` // TimeLayout
	FollowupSent   bool               `bson:"followup_sent" json:"followup_sent"`
	FollowupSentAt *time.Time         `bson:"followup_sent_at,omitempty" json:"followup_sent_at"`
	Completed      bool               `bson:"completed" json:"completed"`
	CompletedAt    *time.Time         `bson:"completed_at,omitempty" json:"completed_at"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}

// ReminderState is the lifecycle position of a SentReminder.
// Sent -> FollowedUp and Sent -> Completed are the only forward moves a task
// may make; Completed is terminal and wins over FollowedUp when both flags
// are set (the user completed after the follow-up went out).
type ReminderState int

const (
	StateSent ReminderState = iota
	StateFollowedUp
	StateCompleted
)

func (s ReminderState) String() string {
	switch s {
	case StateFollowedUp:
		return "followed_up"
	case StateCompleted:
		return "completed"
	default:
		return "sent"
	}
}

// State derives the lifecycle position from the persisted flags.
func (sr *SentReminder) State() ReminderState {
	if sr.Completed {
		return StateCompleted
	}
	if sr.FollowupSent {
		return StateFollowedUp
	}
	return StateSent
}

// DueReminder is a ReminderRule joined with its habit and owning user, as
// returned by the rule queries the dispatcher runs.
type DueReminder struct {
	Rule  ReminderRule `json:"rule"`
	Habit Habit        `json:"habit"`
	User  User         `json:"user"`
}

// PendingFollowup is a SentReminder joined with its rule, habit and user,
// plus the habit's goal when one exists.
type PendingFollowup struct {
	Sent  SentReminder `json:"sent"`
	Rule  ReminderRule `json:"rule"`
	Habit Habit        `json:"habit"`
	User  User         `json:"user"`
	Goal  *Goal        `json:"goal,omitempty"`
}
