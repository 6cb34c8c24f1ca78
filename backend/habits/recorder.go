package habits

import (
	"context"
	"errors"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ErrHabitNotFound is returned when the habit a completion refers to does not exist.
var ErrHabitNotFound = errors.New("habit not found")

// ErrRecordNotFound is returned by Uncomplete when there is no record for the given date.
var ErrRecordNotFound = errors.New("no record for that date")

// Store is the slice of the persistence layer the recorder needs. Find
// methods return (nil, nil) when no matching document exists. Everything the
// recorder writes inside WithTransaction must commit or roll back together.
type Store interface {
	FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error)
	FindDailyRecord(ctx context.Context, habitID primitive.ObjectID, date string) (*models.DailyRecord, error)
	// SaveDailyRecord inserts the record or replaces the existing one for its
	// (habit, date).
	SaveDailyRecord(ctx context.Context, record *models.DailyRecord) error
	// FindCompletedDates returns the dates of status=completed records for
	// the habit, most recent first.
	FindCompletedDates(ctx context.Context, habitID primitive.ObjectID) ([]time.Time, error)
	UpdateHabitStreak(ctx context.Context, habitID primitive.ObjectID, current, max int) error
	// MarkSentRemindersCompleted flips completed=true on every not-yet-completed
	// dispatch event for (habit, date) and returns how many it touched.
	MarkSentRemindersCompleted(ctx context.Context, habitID primitive.ObjectID, date string, at time.Time) (int64, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Recorder applies completion actions to a habit's daily record, keeps the
// habit's streak fields in sync, and cuts off pending follow-ups for the day.
type Recorder struct {
	store Store
	locks *lockMap
	now   func() time.Time
	log   *zap.SugaredLogger
}

func NewRecorder(store Store, log *zap.SugaredLogger) *Recorder {
	return &Recorder{store: store, locks: newLockMap(), now: time.Now, log: log}
}

// Complete increments the completion count for (habit, date), creating the
// day's record if needed, derives the record status from the habit's daily
// target, recomputes the streak, and marks any outstanding sent reminder for
// that day as completed so no follow-up fires for it.
//
// The whole mutation runs in one transaction: a record update without the
// matching streak update is never observable. Concurrent completions for the
// same (habit, date) serialize on an in-process lock so increments are not
// lost.
func (r *Recorder) Complete(ctx context.Context, habitID primitive.ObjectID, date string, times int, notes *string) (*models.DailyRecord, *models.Habit, error) {
	if times < 1 {
		times = 1
	}

	key := habitID.Hex() + "|" + date
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	var (
		record *models.DailyRecord
		habit  *models.Habit
	)
	err := r.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		habit, err = r.store.FindHabit(ctx, habitID)
		if err != nil {
			return err
		}
		if habit == nil {
			return ErrHabitNotFound
		}

		record, err = r.store.FindDailyRecord(ctx, habitID, date)
		if err != nil {
			return err
		}
		if record == nil {
			record = &models.DailyRecord{
				HabitID: habitID,
				Date:    date,
				Status:  models.StatusPending,
			}
		}

		now := r.now()
		record.Count += times
		record.Completed = true
		record.CompletedAt = &now
		if notes != nil {
			record.Notes = *notes
		}
		record.Status = deriveStatus(record.Count, habit.DailyTarget)

		if err := r.store.SaveDailyRecord(ctx, record); err != nil {
			return err
		}

		if err := r.refreshStreak(ctx, habit); err != nil {
			return err
		}

		cut, err := r.store.MarkSentRemindersCompleted(ctx, habitID, date, now)
		if err != nil {
			return err
		}
		if cut > 0 {
			r.log.Infow("pending reminders marked completed", "habit_id", habitID.Hex(), "date", date, "count", cut)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return record, habit, nil
}

// Uncomplete subtracts from the completion count, flooring at zero. Reaching
// zero resets the record to pending and clears the completion timestamp;
// otherwise the status is re-derived downward only (uncompleting never
// promotes a record to completed). Previously completed sent reminders are
// left alone: an undone habit does not resurrect its follow-up chain.
func (r *Recorder) Uncomplete(ctx context.Context, habitID primitive.ObjectID, date string, times int) (*models.DailyRecord, *models.Habit, error) {
	if times < 1 {
		times = 1
	}

	key := habitID.Hex() + "|" + date
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	var (
		record *models.DailyRecord
		habit  *models.Habit
	)
	err := r.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		habit, err = r.store.FindHabit(ctx, habitID)
		if err != nil {
			return err
		}
		if habit == nil {
			return ErrHabitNotFound
		}

		record, err = r.store.FindDailyRecord(ctx, habitID, date)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrRecordNotFound
		}

		record.Count -= times
		if record.Count <= 0 {
			record.Count = 0
			record.Completed = false
			record.Status = models.StatusPending
			record.CompletedAt = nil
		} else if habit.DailyTarget > 0 && record.Count < habit.DailyTarget {
			record.Status = models.StatusPartial
		}

		if err := r.store.SaveDailyRecord(ctx, record); err != nil {
			return err
		}
		return r.refreshStreak(ctx, habit)
	})
	if err != nil {
		return nil, nil, err
	}
	return record, habit, nil
}

// refreshStreak recomputes the habit's streak from its completed history and
// persists the result, updating the passed habit in place.
func (r *Recorder) refreshStreak(ctx context.Context, habit *models.Habit) error {
	dates, err := r.store.FindCompletedDates(ctx, habit.ID)
	if err != nil {
		return err
	}
	current, max := ComputeStreak(r.now(), dates, habit.MaxStreak)
	if err := r.store.UpdateHabitStreak(ctx, habit.ID, current, max); err != nil {
		return err
	}
	habit.CurrentStreak = current
	habit.MaxStreak = max
	return nil
}

// deriveStatus maps a completion count onto a record status given the
// habit's daily target. A habit without a target treats any completion as a
// finished day.
func deriveStatus(count, target int) string {
	if count <= 0 {
		return models.StatusPending
	}
	if target > 0 && count < target {
		return models.StatusPartial
	}
	return models.StatusCompleted
}
