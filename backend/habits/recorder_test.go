package habits

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeStore is an in-memory Store for exercising the recorder.
type fakeStore struct {
	habits  map[primitive.ObjectID]*models.Habit
	records map[string]*models.DailyRecord

	// markCalls records every MarkSentRemindersCompleted invocation as
	// "habitHex|date".
	markCalls []string
	// openReminders is how many open dispatch events the next mark call reports.
	openReminders int64
}

func newStore() *fakeStore {
	return &fakeStore{
		habits:  make(map[primitive.ObjectID]*models.Habit),
		records: make(map[string]*models.DailyRecord),
	}
}

func recordKey(habitID primitive.ObjectID, date string) string {
	return habitID.Hex() + "|" + date
}

func (f *fakeStore) addHabit(target int) *models.Habit {
	h := &models.Habit{ID: primitive.NewObjectID(), Active: true, DailyTarget: target}
	f.habits[h.ID] = h
	return h
}

func (f *fakeStore) FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	return f.habits[id], nil
}

func (f *fakeStore) FindDailyRecord(ctx context.Context, habitID primitive.ObjectID, date string) (*models.DailyRecord, error) {
	rec, ok := f.records[recordKey(habitID, date)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) SaveDailyRecord(ctx context.Context, record *models.DailyRecord) error {
	cp := *record
	f.records[recordKey(record.HabitID, record.Date)] = &cp
	return nil
}

func (f *fakeStore) FindCompletedDates(ctx context.Context, habitID primitive.ObjectID) ([]time.Time, error) {
	var dates []time.Time
	for _, rec := range f.records {
		if rec.HabitID == habitID && rec.Status == models.StatusCompleted {
			d, err := time.Parse(models.DateLayout, rec.Date)
			if err != nil {
				return nil, err
			}
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	return dates, nil
}

func (f *fakeStore) UpdateHabitStreak(ctx context.Context, habitID primitive.ObjectID, current, max int) error {
	f.habits[habitID].CurrentStreak = current
	f.habits[habitID].MaxStreak = max
	return nil
}

func (f *fakeStore) MarkSentRemindersCompleted(ctx context.Context, habitID primitive.ObjectID, date string, at time.Time) (int64, error) {
	f.markCalls = append(f.markCalls, recordKey(habitID, date))
	n := f.openReminders
	f.openReminders = 0
	return n, nil
}

func (f *fakeStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestRecorder(store *fakeStore) *Recorder {
	return NewRecorder(store, zap.NewNop().Sugar())
}

func todayStr() string {
	return time.Now().Format(models.DateLayout)
}

func TestCompleteWalksThroughTarget(t *testing.T) {
	store := newStore()
	habit := store.addHabit(3)
	r := newTestRecorder(store)
	ctx := context.Background()
	date := todayStr()

	rec, _, err := r.Complete(ctx, habit.ID, date, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, models.StatusPartial, rec.Status)

	rec, _, err = r.Complete(ctx, habit.ID, date, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, models.StatusPartial, rec.Status)

	rec, h, err := r.Complete(ctx, habit.ID, date, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, 1, h.CurrentStreak)

	// Going past the target keeps counting but stays completed.
	rec, _, err = r.Complete(ctx, habit.ID, date, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Count)
	assert.Equal(t, models.StatusCompleted, rec.Status)
}

func TestCompleteWithoutTargetFinishesImmediately(t *testing.T) {
	store := newStore()
	habit := store.addHabit(0)
	r := newTestRecorder(store)

	rec, h, err := r.Complete(context.Background(), habit.ID, todayStr(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.True(t, rec.Completed)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, 1, h.CurrentStreak)
	assert.Equal(t, 1, h.MaxStreak)
}

func TestCompleteMultipleTimesAtOnce(t *testing.T) {
	store := newStore()
	habit := store.addHabit(3)
	r := newTestRecorder(store)

	rec, _, err := r.Complete(context.Background(), habit.ID, todayStr(), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, models.StatusCompleted, rec.Status)
}

func TestCompleteStoresNotes(t *testing.T) {
	store := newStore()
	habit := store.addHabit(0)
	r := newTestRecorder(store)

	notes := "morning run, 5k"
	rec, _, err := r.Complete(context.Background(), habit.ID, todayStr(), 1, &notes)
	require.NoError(t, err)
	assert.Equal(t, notes, rec.Notes)
}

func TestCompleteUnknownHabit(t *testing.T) {
	store := newStore()
	r := newTestRecorder(store)

	_, _, err := r.Complete(context.Background(), primitive.NewObjectID(), todayStr(), 1, nil)
	assert.ErrorIs(t, err, ErrHabitNotFound)
}

func TestCompleteCutsOffPendingReminders(t *testing.T) {
	store := newStore()
	habit := store.addHabit(0)
	store.openReminders = 2
	r := newTestRecorder(store)
	date := todayStr()

	_, _, err := r.Complete(context.Background(), habit.ID, date, 1, nil)
	require.NoError(t, err)
	require.Len(t, store.markCalls, 1)
	assert.Equal(t, recordKey(habit.ID, date), store.markCalls[0])
}

func TestUncompleteFloorsAtZero(t *testing.T) {
	store := newStore()
	habit := store.addHabit(0)
	r := newTestRecorder(store)
	ctx := context.Background()
	date := todayStr()

	_, _, err := r.Complete(ctx, habit.ID, date, 1, nil)
	require.NoError(t, err)

	rec, h, err := r.Uncomplete(ctx, habit.ID, date, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Count)
	assert.False(t, rec.Completed)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Nil(t, rec.CompletedAt)
	assert.Equal(t, 0, h.CurrentStreak)
}

func TestUncompleteDemotesToPartial(t *testing.T) {
	store := newStore()
	habit := store.addHabit(3)
	r := newTestRecorder(store)
	ctx := context.Background()
	date := todayStr()

	_, _, err := r.Complete(ctx, habit.ID, date, 3, nil)
	require.NoError(t, err)

	rec, _, err := r.Uncomplete(ctx, habit.ID, date, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, models.StatusPartial, rec.Status)
}

func TestUncompleteWithoutRecord(t *testing.T) {
	store := newStore()
	habit := store.addHabit(0)
	r := newTestRecorder(store)

	_, _, err := r.Uncomplete(context.Background(), habit.ID, todayStr(), 1)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestUncompleteDoesNotResurrectReminders(t *testing.T) {
	store := newStore()
	habit := store.addHabit(0)
	r := newTestRecorder(store)
	ctx := context.Background()
	date := todayStr()

	_, _, err := r.Complete(ctx, habit.ID, date, 1, nil)
	require.NoError(t, err)
	callsAfterComplete := len(store.markCalls)

	_, _, err = r.Uncomplete(ctx, habit.ID, date, 1)
	require.NoError(t, err)
	assert.Equal(t, callsAfterComplete, len(store.markCalls))
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, models.StatusPending, deriveStatus(0, 3))
	assert.Equal(t, models.StatusPartial, deriveStatus(1, 3))
	assert.Equal(t, models.StatusPartial, deriveStatus(2, 3))
	assert.Equal(t, models.StatusCompleted, deriveStatus(3, 3))
	assert.Equal(t, models.StatusCompleted, deriveStatus(4, 3))
	assert.Equal(t, models.StatusCompleted, deriveStatus(1, 0))
	assert.Equal(t, models.StatusPending, deriveStatus(0, 0))
}
