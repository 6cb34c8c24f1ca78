package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jghoshh/ritmo/backend/models"
	storage "github.com/jghoshh/ritmo/backend/storage/cache"
	"github.com/streadway/amqp"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Task kinds carried on the notification queue.
const (
	KindReminder = "reminder"
	KindFollowup = "followup"
)

// Retry policy for notification deliveries: a task gets MaxAttempts tries
// with a fixed RetryBackoff between them; each try is bounded by TaskTimeout.
// A task that exhausts its attempts is logged as a terminal failure and
// dropped.
const (
	MaxAttempts  = 3
	RetryBackoff = 60 * time.Second
	TaskTimeout  = 5 * time.Minute
)

// globalCount is used in the round robin algorithm to assign producers to
// each task. Incremented atomically: the reminder and follow-up ticks publish
// from separate goroutines.
var globalCount uint64

// TaskMessage is the payload of one notification task: which kind of send to
// perform and which dispatch event it belongs to. The ID identifies the
// message itself across redeliveries and retries.
type TaskMessage struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	SentReminderID string `json:"sent_reminder_id"`
}

// Store is the slice of the persistence layer the task runner needs.
// FindReminderContext returns (nil, nil) when the dispatch event or one of
// its relations no longer exists.
type Store interface {
	FindReminderContext(ctx context.Context, sentID primitive.ObjectID) (*models.PendingFollowup, error)
	MarkFollowupSent(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error)
}

// Mailer delivers rendered notification emails.
type Mailer interface {
	SendReminder(to, username, habitName, customMessage string) error
	SendFollowup(to, username, habitName, customMessage string, goal *models.Goal) error
}

// TaskRunner executes a single notification task against current storage
// state. Returning nil means the task is finished (delivered, or a terminal
// no-op); returning an error asks the consumer to retry.
type TaskRunner struct {
	store  Store
	mailer Mailer
	now    func() time.Time
	log    *zap.SugaredLogger
}

func NewTaskRunner(store Store, mailer Mailer, log *zap.SugaredLogger) *TaskRunner {
	return &TaskRunner{store: store, mailer: mailer, now: time.Now, log: log}
}

// Run dispatches on the task kind. Unknown kinds are dropped, not retried:
// redelivering them can never succeed.
func (t *TaskRunner) Run(ctx context.Context, msg *TaskMessage) error {
	sentID, err := primitive.ObjectIDFromHex(msg.SentReminderID)
	if err != nil {
		t.log.Errorw("task carries malformed sent reminder id, dropping", "task_id", msg.ID, "value", msg.SentReminderID)
		return nil
	}

	switch msg.Kind {
	case KindReminder:
		return t.runReminder(ctx, sentID)
	case KindFollowup:
		return t.runFollowup(ctx, sentID)
	default:
		t.log.Errorw("unknown task kind, dropping", "task_id", msg.ID, "kind", msg.Kind)
		return nil
	}
}

// runReminder reloads the dispatch event and delivers the initial reminder
// email. A rule that has been deactivated since dispatch, or a user without
// an email address, ends the task silently: those are terminal no-ops, not
// failures to retry.
func (t *TaskRunner) runReminder(ctx context.Context, sentID primitive.ObjectID) error {
	rc, err := t.store.FindReminderContext(ctx, sentID)
	if err != nil {
		return err
	}
	if rc == nil {
		t.log.Infow("dispatch event no longer exists, skipping send", "sent_reminder_id", sentID.Hex())
		return nil
	}

	if !rc.Rule.Active {
		t.log.Infow("rule deactivated since dispatch, skipping send", "rule_id", rc.Rule.ID.Hex())
		return nil
	}
	if rc.User.Email == "" {
		t.log.Warnw("user has no email address, cannot send reminder", "user_id", rc.User.ID.Hex())
		return nil
	}

	if err := t.mailer.SendReminder(rc.User.Email, rc.User.Username, rc.Habit.Name, rc.Rule.Message); err != nil {
		return fmt.Errorf("reminder delivery failed: %w", err)
	}

	t.log.Infow("reminder sent",
		"sent_reminder_id", sentID.Hex(),
		"habit_id", rc.Habit.ID.Hex(),
		"email", rc.User.Email,
	)
	return nil
}

// runFollowup reloads the dispatch event and delivers the follow-up email,
// then marks the event followed-up. The state is re-checked on reload and
// again by the guarded mark, so a habit completed while the task was in
// flight cuts the chain off.
func (t *TaskRunner) runFollowup(ctx context.Context, sentID primitive.ObjectID) error {
	rc, err := t.store.FindReminderContext(ctx, sentID)
	if err != nil {
		return err
	}
	if rc == nil {
		t.log.Infow("dispatch event no longer exists, skipping follow-up", "sent_reminder_id", sentID.Hex())
		return nil
	}

	if state := rc.Sent.State(); state != models.StateSent {
		t.log.Infow("follow-up no longer applies", "sent_reminder_id", sentID.Hex(), "state", state.String())
		return nil
	}
	if rc.User.Email == "" {
		t.log.Warnw("user has no email address, cannot send follow-up", "user_id", rc.User.ID.Hex())
		return nil
	}

	if err := t.mailer.SendFollowup(rc.User.Email, rc.User.Username, rc.Habit.Name, rc.Rule.Message, rc.Goal); err != nil {
		return fmt.Errorf("follow-up delivery failed: %w", err)
	}

	marked, err := t.store.MarkFollowupSent(ctx, sentID, t.now())
	if err != nil {
		return err
	}
	if !marked {
		// The user completed the habit between reload and mark; the flag
		// stays untouched and the completed state remains terminal.
		t.log.Infow("dispatch event completed while follow-up was in flight", "sent_reminder_id", sentID.Hex())
		return nil
	}

	t.log.Infow("follow-up sent", "sent_reminder_id", sentID.Hex(), "email", rc.User.Email)
	return nil
}

// TaskProducerFactory is a struct for creating new TaskProducer instances.
type TaskProducerFactory struct{}

// TaskConsumerFactory is a struct for creating new TaskConsumer instances.
// It carries the cache used for dedup/attempt state and the runner that
// executes tasks.
type TaskConsumerFactory struct {
	Cache  storage.CacheInterface
	Runner *TaskRunner
	Log    *zap.SugaredLogger
}

// TaskProducer manages the connection, channel, and queue of the AMQP message producer for tasks.
type TaskProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
}

// TaskConsumer manages the connection, channel, queue, cache and runner of
// the AMQP message consumer for notification tasks.
type TaskConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   storage.CacheInterface
	runner  *TaskRunner
	log     *zap.SugaredLogger
}

// CreateProducer instantiates a new TaskProducer with the given connection, channel, and queue.
func (f *TaskProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &TaskProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer instantiates a new TaskConsumer with the given connection, channel, and queue.
func (f *TaskConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &TaskConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
		runner:  f.Runner,
		log:     f.Log,
	}, nil
}

// Publish publishes the given message body to the task queue.
func (tp *TaskProducer) Publish(body []byte) error {
	err := tp.channel.Publish(
		"",            // exchange
		tp.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Consume sets up a consumer on the task queue and launches a goroutine that
// reads from it until the context is cancelled. Each delivery is executed
// under the task timeout; failures are retried up to MaxAttempts with a
// fixed backoff between tries, after which the task is logged as a terminal
// failure and dropped. A task id seen before (redelivery after an ack was
// lost) is acknowledged without re-execution.
func (tc *TaskConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := tc.channel.Consume(
		tc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					return
				}
				tc.handleDelivery(ctx, d)
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

func (tc *TaskConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	message := &TaskMessage{}
	if err := json.Unmarshal(d.Body, message); err != nil {
		// A payload that doesn't parse will never parse; drop it.
		tc.log.Errorw("failed to unmarshal task message, dropping", "error", err)
		d.Ack(false)
		return
	}

	processed, err := tc.cache.Get(ctx, "task_"+message.ID)
	if err != nil {
		// Ignore cache misses, handle other errors by requeueing.
		if err.Error() != "key does not exist" {
			tc.log.Errorw("error checking cache", "task_id", message.ID, "error", err)
			d.Nack(false, true)
			return
		}
	}
	if processed != nil {
		d.Ack(false)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, TaskTimeout)
	runErr := tc.runner.Run(execCtx, message)
	cancel()

	if runErr == nil {
		d.Ack(false)
		if err := tc.cache.Set(ctx, "task_"+message.ID, true); err != nil {
			tc.log.Errorw("failed to set processed key in cache", "task_id", message.ID, "error", err)
		}
		return
	}

	attempts, err := tc.cache.Incr(ctx, "task_attempts_"+message.ID)
	if err != nil {
		// Without the counter we cannot tell which attempt this was; requeue
		// rather than guess, same as the processed-key check above.
		tc.log.Errorw("failed to track task attempts", "task_id", message.ID, "error", err)
		d.Nack(false, true)
		return
	}

	if attempts >= MaxAttempts {
		tc.log.Errorw("task failed permanently after all attempts",
			"task_id", message.ID,
			"kind", message.Kind,
			"sent_reminder_id", message.SentReminderID,
			"attempts", attempts,
			"error", runErr,
		)
		d.Ack(false)
		return
	}

	tc.log.Warnw("task failed, scheduling retry",
		"task_id", message.ID,
		"attempt", attempts,
		"error", runErr,
	)
	d.Ack(false)
	body := d.Body
	time.AfterFunc(RetryBackoff, func() {
		if err := tc.republish(body); err != nil {
			tc.log.Errorw("failed to requeue task for retry", "task_id", message.ID, "error", err)
		}
	})
}

func (tc *TaskConsumer) republish(body []byte) error {
	return tc.channel.Publish(
		"",
		tc.queue.Name,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}

// BuildNotificationQueue initializes the Queue for notification tasks with
// the requested numbers of producers and consumers, wiring the cache and
// task runner into every consumer.
func BuildNotificationQueue(rabbitMQURL string, numProducers, numConsumers int, cache storage.CacheInterface, runner *TaskRunner, log *zap.SugaredLogger) *Queue {
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &TaskProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &TaskConsumerFactory{Cache: cache, Runner: runner, Log: log}
	}

	return InitQueue(rabbitMQURL, "notificationTasks", prodFactories, consFactories)
}

// InitTaskCache initializes the cache storage used for task dedup and
// attempt tracking.
func InitTaskCache(url string) (storage.CacheInterface, error) {
	c, err := storage.NewCache(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to cache: %w", err)
	}
	return c, nil
}

// PublishTask serializes a task message and publishes it onto the queue
// using one of the producers in a round-robin manner.
func PublishTask(msg *TaskMessage, q *Queue) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.New("failed to marshal task message: " + err.Error())
	}

	producerCount := len(q.Producers)
	if producerCount == 0 {
		return errors.New("no producers available")
	}

	turn := atomic.AddUint64(&globalCount, 1) - 1
	producer := q.Producers[turn%uint64(producerCount)]

	if err := producer.Publish(body); err != nil {
		return errors.New("failed to publish task message: " + err.Error())
	}

	return nil
}

// Enqueuer adapts the task queue to the fire-and-forget enqueue interface
// the tick loops use.
type Enqueuer struct {
	queue *Queue
}

func NewEnqueuer(q *Queue) *Enqueuer {
	return &Enqueuer{queue: q}
}

// EnqueueReminder publishes a send-reminder task for a dispatch event.
func (e *Enqueuer) EnqueueReminder(ctx context.Context, sentReminderID primitive.ObjectID) error {
	return PublishTask(&TaskMessage{
		ID:             uuid.NewString(),
		Kind:           KindReminder,
		SentReminderID: sentReminderID.Hex(),
	}, e.queue)
}

// EnqueueFollowup publishes a send-followup task for a dispatch event.
func (e *Enqueuer) EnqueueFollowup(ctx context.Context, sentReminderID primitive.ObjectID) error {
	return PublishTask(&TaskMessage{
		ID:             uuid.NewString(),
		Kind:           KindFollowup,
		SentReminderID: sentReminderID.Hex(),
	}, e.queue)
}
