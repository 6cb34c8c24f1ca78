package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeTaskStore serves one reminder context and records follow-up marks.
type fakeTaskStore struct {
	rc *models.PendingFollowup

	marked     []primitive.ObjectID
	markResult bool
	markErr    error
}

func (f *fakeTaskStore) FindReminderContext(ctx context.Context, sentID primitive.ObjectID) (*models.PendingFollowup, error) {
	return f.rc, nil
}

func (f *fakeTaskStore) MarkFollowupSent(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	f.marked = append(f.marked, id)
	return f.markResult, nil
}

// fakeMailer records sends and can be made to fail.
type fakeMailer struct {
	reminders []string
	followups []string
	goals     []*models.Goal
	sendErr   error
}

func (f *fakeMailer) SendReminder(to, username, habitName, customMessage string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.reminders = append(f.reminders, to)
	return nil
}

func (f *fakeMailer) SendFollowup(to, username, habitName, customMessage string, goal *models.Goal) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.followups = append(f.followups, to)
	f.goals = append(f.goals, goal)
	return nil
}

func reminderContext() *models.PendingFollowup {
	return &models.PendingFollowup{
		Sent: models.SentReminder{
			ID:       primitive.NewObjectID(),
			RuleID:   primitive.NewObjectID(),
			HabitID:  primitive.NewObjectID(),
			SendDate: "2023-10-02",
		},
		Rule:  models.ReminderRule{Active: true, FollowupEnabled: true},
		Habit: models.Habit{Name: "meditate", Active: true},
		User:  models.User{Username: "sam", Email: "sam@example.com"},
	}
}

func newRunner(store Store, mailer Mailer) *TaskRunner {
	return NewTaskRunner(store, mailer, zap.NewNop().Sugar())
}

func taskFor(kind string, sentID primitive.ObjectID) *TaskMessage {
	return &TaskMessage{ID: "task-1", Kind: kind, SentReminderID: sentID.Hex()}
}

func TestRunReminderSendsEmail(t *testing.T) {
	rc := reminderContext()
	store := &fakeTaskStore{rc: rc}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindReminder, rc.Sent.ID))
	require.NoError(t, err)
	require.Len(t, mailer.reminders, 1)
	assert.Equal(t, "sam@example.com", mailer.reminders[0])
}

func TestRunReminderGoneContextIsTerminal(t *testing.T) {
	store := &fakeTaskStore{rc: nil}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	// The dispatch event was deleted: finish without sending, no retry.
	err := r.Run(context.Background(), taskFor(KindReminder, primitive.NewObjectID()))
	require.NoError(t, err)
	assert.Empty(t, mailer.reminders)
}

func TestRunReminderDeactivatedRuleIsTerminal(t *testing.T) {
	rc := reminderContext()
	rc.Rule.Active = false
	store := &fakeTaskStore{rc: rc}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindReminder, rc.Sent.ID))
	require.NoError(t, err)
	assert.Empty(t, mailer.reminders)
}

func TestRunReminderMissingEmailIsTerminal(t *testing.T) {
	rc := reminderContext()
	rc.User.Email = ""
	store := &fakeTaskStore{rc: rc}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindReminder, rc.Sent.ID))
	require.NoError(t, err)
	assert.Empty(t, mailer.reminders)
}

func TestRunReminderDeliveryFailureIsRetryable(t *testing.T) {
	rc := reminderContext()
	store := &fakeTaskStore{rc: rc}
	mailer := &fakeMailer{sendErr: errors.New("smtp down")}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindReminder, rc.Sent.ID))
	assert.Error(t, err)
}

func TestRunFollowupSendsAndMarks(t *testing.T) {
	rc := reminderContext()
	store := &fakeTaskStore{rc: rc, markResult: true}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindFollowup, rc.Sent.ID))
	require.NoError(t, err)
	require.Len(t, mailer.followups, 1)
	require.Len(t, store.marked, 1)
	assert.Equal(t, rc.Sent.ID, store.marked[0])
}

func TestRunFollowupCarriesGoalContext(t *testing.T) {
	rc := reminderContext()
	rc.Goal = &models.Goal{Name: "run a 10k", Description: "race in spring"}
	store := &fakeTaskStore{rc: rc, markResult: true}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindFollowup, rc.Sent.ID))
	require.NoError(t, err)
	require.Len(t, mailer.goals, 1)
	assert.Equal(t, rc.Goal, mailer.goals[0])
}

func TestRunFollowupCompletedEventIsTerminal(t *testing.T) {
	rc := reminderContext()
	rc.Sent.Completed = true
	store := &fakeTaskStore{rc: rc}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindFollowup, rc.Sent.ID))
	require.NoError(t, err)
	assert.Empty(t, mailer.followups)
	assert.Empty(t, store.marked)
}

func TestRunFollowupAlreadyFollowedUpIsTerminal(t *testing.T) {
	rc := reminderContext()
	rc.Sent.FollowupSent = true
	store := &fakeTaskStore{rc: rc}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindFollowup, rc.Sent.ID))
	require.NoError(t, err)
	assert.Empty(t, mailer.followups)
}

func TestRunFollowupCompletedInFlightIsTerminal(t *testing.T) {
	rc := reminderContext()
	// The guarded mark reports no match: the user completed between reload
	// and mark. The send already happened, but the task ends cleanly.
	store := &fakeTaskStore{rc: rc, markResult: false}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor(KindFollowup, rc.Sent.ID))
	require.NoError(t, err)
}

func TestRunUnknownKindIsDropped(t *testing.T) {
	rc := reminderContext()
	store := &fakeTaskStore{rc: rc}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), taskFor("frobnicate", rc.Sent.ID))
	require.NoError(t, err)
	assert.Empty(t, mailer.reminders)
	assert.Empty(t, mailer.followups)
}

func TestRunMalformedIDIsDropped(t *testing.T) {
	store := &fakeTaskStore{}
	mailer := &fakeMailer{}
	r := newRunner(store, mailer)

	err := r.Run(context.Background(), &TaskMessage{ID: "task-1", Kind: KindReminder, SentReminderID: "not-an-id"})
	require.NoError(t, err)
}

// fakeCache is an in-memory CacheInterface for exercising the consumer's
// dedup and attempt tracking.
type fakeCache struct {
	processed map[string]interface{}
	attempts  map[string]int64

	getErr  error
	incrErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{processed: make(map[string]interface{}), attempts: make(map[string]int64)}
}

func (f *fakeCache) Connect(url string) error { return nil }
func (f *fakeCache) Disconnect() error        { return nil }

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}) error {
	f.processed[key] = value
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (interface{}, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	value, ok := f.processed[key]
	if !ok {
		return nil, errors.New("key does not exist")
	}
	return value, nil
}

func (f *fakeCache) Incr(ctx context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.attempts[key]++
	return f.attempts[key], nil
}

func (f *fakeCache) Clear(ctx context.Context) error { return nil }

// fakeAcknowledger records how a delivery was settled.
type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acks++; return nil }

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

func newTestConsumer(cache *fakeCache, runner *TaskRunner) *TaskConsumer {
	return &TaskConsumer{cache: cache, runner: runner, log: zap.NewNop().Sugar()}
}

func deliveryFor(t *testing.T, msg *TaskMessage, ack *fakeAcknowledger) amqp.Delivery {
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestHandleDeliverySuccessIsAckedAndMarkedProcessed(t *testing.T) {
	rc := reminderContext()
	runner := newRunner(&fakeTaskStore{rc: rc}, &fakeMailer{})
	cache := newFakeCache()
	tc := newTestConsumer(cache, runner)
	ack := &fakeAcknowledger{}

	tc.handleDelivery(context.Background(), deliveryFor(t, taskFor(KindReminder, rc.Sent.ID), ack))

	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 0, ack.nacks)
	assert.Contains(t, cache.processed, "task_task-1")
}

func TestHandleDeliveryProcessedTaskIsNotReRun(t *testing.T) {
	rc := reminderContext()
	mailer := &fakeMailer{}
	runner := newRunner(&fakeTaskStore{rc: rc}, mailer)
	cache := newFakeCache()
	cache.processed["task_task-1"] = true
	tc := newTestConsumer(cache, runner)
	ack := &fakeAcknowledger{}

	tc.handleDelivery(context.Background(), deliveryFor(t, taskFor(KindReminder, rc.Sent.ID), ack))

	assert.Equal(t, 1, ack.acks)
	assert.Empty(t, mailer.reminders)
}

func TestHandleDeliveryAttemptTrackingFailureRequeues(t *testing.T) {
	rc := reminderContext()
	runner := newRunner(&fakeTaskStore{rc: rc}, &fakeMailer{sendErr: errors.New("smtp down")})
	cache := newFakeCache()
	cache.incrErr = errors.New("cache unavailable")
	tc := newTestConsumer(cache, runner)
	ack := &fakeAcknowledger{}

	tc.handleDelivery(context.Background(), deliveryFor(t, taskFor(KindReminder, rc.Sent.ID), ack))

	// The attempt count is unknown, so the delivery goes back on the queue
	// instead of being dropped.
	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeued)
}

func TestHandleDeliveryFailureBeforeLimitIsAckedForRetry(t *testing.T) {
	rc := reminderContext()
	runner := newRunner(&fakeTaskStore{rc: rc}, &fakeMailer{sendErr: errors.New("smtp down")})
	cache := newFakeCache()
	tc := newTestConsumer(cache, runner)
	ack := &fakeAcknowledger{}

	tc.handleDelivery(context.Background(), deliveryFor(t, taskFor(KindReminder, rc.Sent.ID), ack))

	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 0, ack.nacks)
	assert.Equal(t, int64(1), cache.attempts["task_attempts_task-1"])
}

func TestHandleDeliveryExhaustedAttemptsIsDropped(t *testing.T) {
	rc := reminderContext()
	runner := newRunner(&fakeTaskStore{rc: rc}, &fakeMailer{sendErr: errors.New("smtp down")})
	cache := newFakeCache()
	cache.attempts["task_attempts_task-1"] = MaxAttempts - 1
	tc := newTestConsumer(cache, runner)
	ack := &fakeAcknowledger{}

	tc.handleDelivery(context.Background(), deliveryFor(t, taskFor(KindReminder, rc.Sent.ID), ack))

	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 0, ack.nacks)
	assert.NotContains(t, cache.processed, "task_task-1")
}

// fakeProducer is a thread-safe Producer that records publishes.
type fakeProducer struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (f *fakeProducer) Publish(body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func TestPublishTaskRoundRobinsProducers(t *testing.T) {
	first := &fakeProducer{}
	second := &fakeProducer{}
	q := &Queue{Producers: []Producer{first, second}}

	for i := 0; i < 4; i++ {
		require.NoError(t, PublishTask(&TaskMessage{ID: "task-1", Kind: KindReminder}, q))
	}

	assert.Equal(t, 2, first.count())
	assert.Equal(t, 2, second.count())
}

func TestPublishTaskConcurrentPublishesAreAllDelivered(t *testing.T) {
	first := &fakeProducer{}
	second := &fakeProducer{}
	q := &Queue{Producers: []Producer{first, second}}

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, PublishTask(&TaskMessage{ID: "task-1", Kind: KindFollowup}, q))
			}
		}()
	}
	wg.Wait()

	// Turns are handed out atomically, so the split is exact.
	assert.Equal(t, 50, first.count())
	assert.Equal(t, 50, second.count())
}

func TestPublishTaskWithoutProducersFails(t *testing.T) {
	err := PublishTask(&TaskMessage{ID: "task-1"}, &Queue{})
	assert.Error(t, err)
}
