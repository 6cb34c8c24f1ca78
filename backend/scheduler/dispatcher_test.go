package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/jghoshh/ritmo/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeStore is an in-memory Store for exercising the tick loops.
type fakeStore struct {
	rules   []models.DueReminder
	sent    map[string]*models.SentReminder
	pending []models.PendingFollowup

	findSentErr error
	addSentErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sent: make(map[string]*models.SentReminder)}
}

func sentKey(ruleID primitive.ObjectID, date string) string {
	return ruleID.Hex() + "|" + date
}

func (f *fakeStore) FindActiveReminderRules(ctx context.Context, channel string) ([]models.DueReminder, error) {
	return f.rules, nil
}

func (f *fakeStore) FindSentReminder(ctx context.Context, ruleID primitive.ObjectID, date string) (*models.SentReminder, error) {
	if f.findSentErr != nil {
		return nil, f.findSentErr
	}
	return f.sent[sentKey(ruleID, date)], nil
}

func (f *fakeStore) AddSentReminder(ctx context.Context, sent *models.SentReminder) (*models.SentReminder, error) {
	if f.addSentErr != nil {
		return nil, f.addSentErr
	}
	key := sentKey(sent.RuleID, sent.SendDate)
	if _, exists := f.sent[key]; exists {
		return nil, errors.New("duplicate key")
	}
	sent.ID = primitive.NewObjectID()
	f.sent[key] = sent
	return sent, nil
}

func (f *fakeStore) FindPendingFollowups(ctx context.Context) ([]models.PendingFollowup, error) {
	return f.pending, nil
}

// fakeEnqueuer records what the tick loops hand to the queue.
type fakeEnqueuer struct {
	reminders []primitive.ObjectID
	followups []primitive.ObjectID

	reminderErr error
	followupErr error
}

func (f *fakeEnqueuer) EnqueueReminder(ctx context.Context, id primitive.ObjectID) error {
	if f.reminderErr != nil {
		return f.reminderErr
	}
	f.reminders = append(f.reminders, id)
	return nil
}

func (f *fakeEnqueuer) EnqueueFollowup(ctx context.Context, id primitive.ObjectID) error {
	if f.followupErr != nil {
		return f.followupErr
	}
	f.followups = append(f.followups, id)
	return nil
}

func dueReminder(timeOfDay, days string, habitActive bool) models.DueReminder {
	return models.DueReminder{
		Rule: models.ReminderRule{
			ID:      primitive.NewObjectID(),
			HabitID: primitive.NewObjectID(),
			Active:  true,
			Time:    timeOfDay,
			Days:    days,
			Channel: models.ChannelEmail,
		},
		Habit: models.Habit{ID: primitive.NewObjectID(), Active: habitActive},
		User:  models.User{ID: primitive.NewObjectID(), Email: "user@example.com"},
	}
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestDispatcherTickDispatchesDueRule(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{dueReminder("08:00", "L,M,X,J,V", true)}
	tasks := &fakeEnqueuer{}
	d := NewDispatcher(store, tasks, testLogger())

	summary, err := d.Tick(context.Background(), monday8am)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 0, summary.Skipped)
	require.Len(t, tasks.reminders, 1)

	sent := store.sent[sentKey(store.rules[0].Rule.ID, "2023-10-02")]
	require.NotNil(t, sent)
	assert.Equal(t, "2023-10-02", sent.SendDate)
	assert.Equal(t, "08:00", sent.SendTime)
	assert.Equal(t, store.rules[0].Habit.ID, sent.HabitID)
	assert.Equal(t, tasks.reminders[0], sent.ID)
}

func TestDispatcherTickIsIdempotentWithinTheDay(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{dueReminder("08:00", "", true)}
	tasks := &fakeEnqueuer{}
	d := NewDispatcher(store, tasks, testLogger())

	first, err := d.Tick(context.Background(), monday8am)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Dispatched)

	second, err := d.Tick(context.Background(), monday8am)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Dispatched)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, tasks.reminders, 1)
	assert.Len(t, store.sent, 1)
}

func TestDispatcherTickIgnoresRulesAtOtherMinutes(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{
		dueReminder("09:00", "", true),
		dueReminder("07:59", "L", true),
	}
	tasks := &fakeEnqueuer{}
	d := NewDispatcher(store, tasks, testLogger())

	summary, err := d.Tick(context.Background(), monday8am)

	require.NoError(t, err)
	// Rules whose minute never matched are not failures and not skips.
	assert.Equal(t, 0, summary.Dispatched)
	assert.Equal(t, 0, summary.Skipped)
	assert.Empty(t, store.sent)
}

func TestDispatcherTickCountsWrongDayAtMatchedMinuteAsSkipped(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{
		dueReminder("08:00", "S", true), // Saturday only, ticked on a Monday
		dueReminder("08:00", "L", true),
	}
	tasks := &fakeEnqueuer{}
	d := NewDispatcher(store, tasks, testLogger())

	summary, err := d.Tick(context.Background(), monday8am)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, store.sent, 1)
	assert.Len(t, tasks.reminders, 1)
}

func TestDispatcherTickSkipsInactiveHabit(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{dueReminder("08:00", "", false)}
	tasks := &fakeEnqueuer{}
	d := NewDispatcher(store, tasks, testLogger())

	summary, err := d.Tick(context.Background(), monday8am)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, store.sent)
	assert.Empty(t, tasks.reminders)
}

func TestDispatcherTickPerRuleFailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{
		dueReminder("08:00", "", true),
		dueReminder("08:00", "", true),
	}
	tasks := &fakeEnqueuer{}
	d := NewDispatcher(store, tasks, testLogger())

	// Make the first rule's dispatch event already exist so it is skipped;
	// the second still goes out.
	store.sent[sentKey(store.rules[0].Rule.ID, "2023-10-02")] = &models.SentReminder{}

	summary, err := d.Tick(context.Background(), monday8am)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)
}

func TestDispatcherTickEnqueueFailureCountsAsSkipped(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{dueReminder("08:00", "", true)}
	tasks := &fakeEnqueuer{reminderErr: errors.New("broker down")}
	d := NewDispatcher(store, tasks, testLogger())

	summary, err := d.Tick(context.Background(), monday8am)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)
}

func TestDispatcherTickCreateFailureCountsAsSkipped(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.DueReminder{dueReminder("08:00", "", true)}
	store.addSentErr = errors.New("duplicate key")
	tasks := &fakeEnqueuer{}
	d := NewDispatcher(store, tasks, testLogger())

	summary, err := d.Tick(context.Background(), monday8am)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, tasks.reminders)
}
