package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func pendingFollowup(sentAt time.Time, followupEnabled bool, delayMinutes int) models.PendingFollowup {
	return models.PendingFollowup{
		Sent: models.SentReminder{
			ID:        primitive.NewObjectID(),
			RuleID:    primitive.NewObjectID(),
			HabitID:   primitive.NewObjectID(),
			SendDate:  sentAt.Format(models.DateLayout),
			SendTime:  sentAt.Format(models.TimeLayout),
			CreatedAt: sentAt,
		},
		Rule: models.ReminderRule{
			ID:              primitive.NewObjectID(),
			Active:          true,
			FollowupEnabled: followupEnabled,
			FollowupDelay:   delayMinutes,
		},
		Habit: models.Habit{ID: primitive.NewObjectID(), Active: true},
		User:  models.User{Email: "user@example.com"},
	}
}

func TestFollowupTickWaitsForDelay(t *testing.T) {
	store := newFakeStore()
	store.pending = []models.PendingFollowup{pendingFollowup(monday8am, true, 0)}
	tasks := &fakeEnqueuer{}
	m := NewFollowupMonitor(store, tasks, testLogger())

	// Default delay is 5 minutes: nothing at 08:04.
	summary, err := m.Tick(context.Background(), monday8am.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Scheduled)
	assert.Empty(t, tasks.followups)

	// At exactly 08:05 the follow-up goes out.
	summary, err = m.Tick(context.Background(), monday8am.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scheduled)
	require.Len(t, tasks.followups, 1)
	assert.Equal(t, store.pending[0].Sent.ID, tasks.followups[0])
}

func TestFollowupTickHonorsCustomDelay(t *testing.T) {
	store := newFakeStore()
	store.pending = []models.PendingFollowup{pendingFollowup(monday8am, true, 30)}
	tasks := &fakeEnqueuer{}
	m := NewFollowupMonitor(store, tasks, testLogger())

	summary, err := m.Tick(context.Background(), monday8am.Add(29*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Scheduled)

	summary, err = m.Tick(context.Background(), monday8am.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scheduled)
}

func TestFollowupTickSkipsDisabledRules(t *testing.T) {
	store := newFakeStore()
	store.pending = []models.PendingFollowup{pendingFollowup(monday8am, false, 0)}
	tasks := &fakeEnqueuer{}
	m := NewFollowupMonitor(store, tasks, testLogger())

	summary, err := m.Tick(context.Background(), monday8am.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Scheduled)
	assert.Empty(t, tasks.followups)
}

func TestFollowupTickSchedulesStaleCandidatesAfterDowntime(t *testing.T) {
	store := newFakeStore()
	store.pending = []models.PendingFollowup{pendingFollowup(monday8am, true, 0)}
	tasks := &fakeEnqueuer{}
	m := NewFollowupMonitor(store, tasks, testLogger())

	// Hours late is still eligible: there is no staleness cutoff.
	summary, err := m.Tick(context.Background(), monday8am.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scheduled)
}

func TestFollowupTickEnqueueFailureMovesOn(t *testing.T) {
	store := newFakeStore()
	store.pending = []models.PendingFollowup{
		pendingFollowup(monday8am, true, 0),
		pendingFollowup(monday8am, true, 0),
	}
	tasks := &fakeEnqueuer{followupErr: errors.New("broker down")}
	m := NewFollowupMonitor(store, tasks, testLogger())

	summary, err := m.Tick(context.Background(), monday8am.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Scheduled)
}

// TestReminderLifecycle walks the whole notification day: dispatch at 08:00,
// idempotent re-tick, then the follow-up pass five minutes later. A reminder
// completed before the follow-up pass never reaches the monitor because the
// pending query excludes completed events.
func TestReminderLifecycle(t *testing.T) {
	store := newFakeStore()
	due := dueReminder("08:00", "L,M,X,J,V", true)
	due.Rule.FollowupEnabled = true
	store.rules = []models.DueReminder{due}
	tasks := &fakeEnqueuer{}

	d := NewDispatcher(store, tasks, testLogger())
	m := NewFollowupMonitor(store, tasks, testLogger())

	// 08:00 Monday: the reminder goes out once.
	summary, err := d.Tick(context.Background(), monday8am)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Dispatched)

	summary, err = d.Tick(context.Background(), monday8am)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Dispatched)

	sent := store.sent[sentKey(due.Rule.ID, "2023-10-02")]
	require.NotNil(t, sent)

	// The event is still open, so it shows up in the pending query.
	store.pending = []models.PendingFollowup{{
		Sent: *sent, Rule: due.Rule, Habit: due.Habit, User: due.User,
	}}
	fs, err := m.Tick(context.Background(), monday8am.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, fs.Scheduled)
	require.Len(t, tasks.followups, 1)
	assert.Equal(t, sent.ID, tasks.followups[0])

	// Completing the habit closes the event, which drops it from the
	// pending query: the next pass schedules nothing.
	store.pending = nil
	fs, err = m.Tick(context.Background(), monday8am.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, fs.Scheduled)
}
