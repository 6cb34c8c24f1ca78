package scheduler

import (
	"context"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Store is the slice of the persistence layer the tick loops read and write.
// Find methods return (nil, nil) when no matching document exists.
type Store interface {
	// FindActiveReminderRules returns active rules of the given channel with
	// their habit and owning user preloaded.
	FindActiveReminderRules(ctx context.Context, channel string) ([]models.DueReminder, error)
	// FindSentReminder looks up the dispatch event for (rule, date).
	FindSentReminder(ctx context.Context, ruleID primitive.ObjectID, date string) (*models.SentReminder, error)
	// AddSentReminder records a dispatch event. The (rule_id, send_date)
	// unique index makes it fail on a duplicate even if two ticks race past
	// the find-before-create check.
	AddSentReminder(ctx context.Context, sent *models.SentReminder) (*models.SentReminder, error)
	// FindPendingFollowups returns sent reminders with followup_sent=false
	// and completed=false, joined with rule, habit and user.
	FindPendingFollowups(ctx context.Context) ([]models.PendingFollowup, error)
}

// TaskEnqueuer hands notification work to the delivery workers. Enqueueing is
// fire-and-forget from the tick's perspective: the tick never waits for
// delivery.
type TaskEnqueuer interface {
	EnqueueReminder(ctx context.Context, sentReminderID primitive.ObjectID) error
	EnqueueFollowup(ctx context.Context, sentReminderID primitive.ObjectID) error
}

// DispatchSummary is the outcome of one dispatcher tick.
type DispatchSummary struct {
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
}

// Dispatcher evaluates reminder rules once per minute and records one
// dispatch event per due (rule, day), enqueueing a send task for each.
type Dispatcher struct {
	store Store
	tasks TaskEnqueuer
	log   *zap.SugaredLogger
}

func NewDispatcher(store Store, tasks TaskEnqueuer, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{store: store, tasks: tasks, log: log}
}

// Tick runs one dispatch pass at the given instant. Per-rule failures are
// logged and counted as skipped; they never abort the rest of the batch.
// Re-running Tick within the same minute dispatches nothing extra: the
// find-before-create on (rule, date) makes the pass idempotent.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (DispatchSummary, error) {
	var summary DispatchSummary

	candidates, err := d.store.FindActiveReminderRules(ctx, models.ChannelEmail)
	if err != nil {
		return summary, err
	}

	date := now.Format(models.DateLayout)
	hourMinute := now.Format(models.TimeLayout)
	code := DayCode(now.Weekday())
	for _, cand := range candidates {
		if !cand.Rule.Active || cand.Rule.Time != hourMinute {
			continue
		}

		// A rule at its configured minute whose day set does not cover today
		// shows up in the summary as skipped; rules at other minutes don't.
		if !matchesDay(cand.Rule.Days, code) {
			summary.Skipped++
			continue
		}

		// The habit can be deactivated between the query and this point, and
		// the rule query does not filter on habit state at all, so check here.
		if !cand.Habit.Active {
			summary.Skipped++
			continue
		}

		existing, err := d.store.FindSentReminder(ctx, cand.Rule.ID, date)
		if err != nil {
			d.log.Errorw("sent-reminder lookup failed", "rule_id", cand.Rule.ID.Hex(), "error", err)
			summary.Skipped++
			continue
		}
		if existing != nil {
			summary.Skipped++
			continue
		}

		sent, err := d.store.AddSentReminder(ctx, &models.SentReminder{
			RuleID:    cand.Rule.ID,
			HabitID:   cand.Habit.ID,
			SendDate:  date,
			SendTime:  now.Format(models.TimeLayout),
			CreatedAt: now,
		})
		if err != nil {
			// Includes the duplicate-key case when a concurrent tick won the race.
			d.log.Errorw("sent-reminder create failed", "rule_id", cand.Rule.ID.Hex(), "error", err)
			summary.Skipped++
			continue
		}

		if err := d.tasks.EnqueueReminder(ctx, sent.ID); err != nil {
			d.log.Errorw("reminder enqueue failed", "sent_reminder_id", sent.ID.Hex(), "error", err)
			summary.Skipped++
			continue
		}
		summary.Dispatched++
	}

	d.log.Infow("reminder dispatch complete",
		"time", now.Format(models.TimeLayout),
		"day", DayCode(now.Weekday()),
		"dispatched", summary.Dispatched,
		"skipped", summary.Skipped,
	)
	return summary, nil
}
