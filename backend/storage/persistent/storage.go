package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeleteResult represents the result of a deletion operation in MongoDB,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult represents the result of an update operation in MongoDB,
// specifically the count of documents matched and modified.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement. Methods that look up a single document return
// (nil, nil) when nothing matches, so callers distinguish "absent" from a
// storage failure without error-type gymnastics.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error
	// WithTransaction runs fn inside one transaction; everything fn writes
	// commits or rolls back together.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Adds a new user to the storage backend.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user in the storage backend using a filter.
	FindUser(ctx context.Context, filter interface{}) (*models.User, error)
	// Updates an existing user in the storage backend using a filter and update instructions.
	UpdateUser(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error)

	// Adds a new habit to the storage backend.
	AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error)
	// Finds a habit by its id.
	FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error)
	// Finds habits in the storage backend using a filter.
	FindHabitsByParameter(ctx context.Context, filter interface{}) ([]models.Habit, error)
	// Updates habits matching the filter.
	UpdateHabit(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error)
	// Deletes a habit and everything hanging off it (records, rules, sent
	// reminders, goals).
	DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
	// UpdateHabitStreak persists recomputed streak fields for a habit.
	UpdateHabitStreak(ctx context.Context, habitID primitive.ObjectID, current, max int) error

	// Category CRUD.
	AddCategory(ctx context.Context, category *models.Category) (*models.Category, error)
	FindCategoriesByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Category, error)
	DeleteCategory(ctx context.Context, filter interface{}) (*DeleteResult, error)

	// Goal CRUD.
	AddGoal(ctx context.Context, goal *models.Goal) (*models.Goal, error)
	FindGoalByHabit(ctx context.Context, habitID primitive.ObjectID) (*models.Goal, error)
	UpdateGoal(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error)
	DeleteGoal(ctx context.Context, filter interface{}) (*DeleteResult, error)

	// Reminder rule CRUD.
	AddReminderRule(ctx context.Context, rule *models.ReminderRule) (*models.ReminderRule, error)
	FindReminderRule(ctx context.Context, id primitive.ObjectID) (*models.ReminderRule, error)
	FindReminderRulesByHabit(ctx context.Context, habitID primitive.ObjectID) ([]models.ReminderRule, error)
	UpdateReminderRule(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error)
	DeleteReminderRule(ctx context.Context, filter interface{}) (*DeleteResult, error)
	// FindActiveReminderRules returns active rules of a channel with their
	// habit and owning user preloaded. Rules whose habit or user no longer
	// exists are dropped from the result.
	FindActiveReminderRules(ctx context.Context, channel string) ([]models.DueReminder, error)

	// Daily records.
	FindDailyRecord(ctx context.Context, habitID primitive.ObjectID, date string) (*models.DailyRecord, error)
	// SaveDailyRecord inserts or replaces the record for its (habit, date).
	SaveDailyRecord(ctx context.Context, record *models.DailyRecord) error
	// FindDailyRecords returns up to limit records for a habit, most recent first.
	FindDailyRecords(ctx context.Context, habitID primitive.ObjectID, limit int64) ([]models.DailyRecord, error)
	// FindCompletedDates returns the dates of status=completed records for a
	// habit, most recent first, as required by the streak walk.
	FindCompletedDates(ctx context.Context, habitID primitive.ObjectID) ([]time.Time, error)

	// Sent reminders (dispatch events).
	AddSentReminder(ctx context.Context, sent *models.SentReminder) (*models.SentReminder, error)
	FindSentReminder(ctx context.Context, ruleID primitive.ObjectID, date string) (*models.SentReminder, error)
	FindSentReminderByID(ctx context.Context, id primitive.ObjectID) (*models.SentReminder, error)
	// FindPendingFollowups returns dispatch events with followup_sent=false
	// and completed=false joined with rule, habit and user.
	FindPendingFollowups(ctx context.Context) ([]models.PendingFollowup, error)
	// FindReminderContext reloads one dispatch event with rule, habit, user
	// and the habit's goal (when one exists), as the delivery tasks need.
	FindReminderContext(ctx context.Context, sentID primitive.ObjectID) (*models.PendingFollowup, error)
	// MarkFollowupSent flips followup_sent on a dispatch event, but only if
	// it is still neither followed-up nor completed. Reports whether the
	// transition happened.
	MarkFollowupSent(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error)
	// MarkSentRemindersCompleted completes every open dispatch event for
	// (habit, date) and returns how many were touched.
	MarkSentRemindersCompleted(ctx context.Context, habitID primitive.ObjectID, date string, at time.Time) (int64, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
