package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/ritmo/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on the collections of
// the habit tracker: users, habits, categories, goals, reminder rules, daily
// records and sent reminders.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and
// database name. Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Users: unique email and username, as every account must be reachable by
	// either.
	usersCollection := m.collection("users")
	for _, field := range []string{"email", "username"} {
		indexModel := mongo.IndexModel{
			Keys:    bson.M{field: 1},
			Options: options.Index().SetUnique(true),
		}
		if _, err := usersCollection.Indexes().CreateOne(ctx, indexModel); err != nil {
			return fmt.Errorf("error creating %s index: %v", field, err)
		}
	}

	// Habits: fast lookup per user, and a user can't have two habits with the
	// same name.
	habitsCollection := m.collection("habits")
	userIdIndexModel := mongo.IndexModel{
		Keys:    bson.M{"user_id": 1},
		Options: options.Index(),
	}
	if _, err := habitsCollection.Indexes().CreateOne(ctx, userIdIndexModel); err != nil {
		return fmt.Errorf("error creating user_id index: %v", err)
	}
	userIdNameIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "name", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := habitsCollection.Indexes().CreateOne(ctx, userIdNameIndexModel); err != nil {
		return fmt.Errorf("error creating user_id and name index: %v", err)
	}

	// Categories: unique per user and name.
	categoriesCollection := m.collection("categories")
	categoryIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "name", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := categoriesCollection.Indexes().CreateOne(ctx, categoryIndexModel); err != nil {
		return fmt.Errorf("error creating category index: %v", err)
	}

	// Goals: at most one goal per habit.
	goalsCollection := m.collection("goals")
	goalIndexModel := mongo.IndexModel{
		Keys:    bson.M{"habit_id": 1},
		Options: options.Index().SetUnique(true),
	}
	if _, err := goalsCollection.Indexes().CreateOne(ctx, goalIndexModel); err != nil {
		return fmt.Errorf("error creating goal habit_id index: %v", err)
	}

	// Reminder rules: looked up per habit and scanned by channel each minute.
	rulesCollection := m.collection("reminderRules")
	ruleHabitIndexModel := mongo.IndexModel{
		Keys:    bson.M{"habit_id": 1},
		Options: options.Index(),
	}
	if _, err := rulesCollection.Indexes().CreateOne(ctx, ruleHabitIndexModel); err != nil {
		return fmt.Errorf("error creating rule habit_id index: %v", err)
	}
	ruleChannelIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "active", Value: 1},
			{Key: "channel", Value: 1},
		},
		Options: options.Index(),
	}
	if _, err := rulesCollection.Indexes().CreateOne(ctx, ruleChannelIndexModel); err != nil {
		return fmt.Errorf("error creating rule channel index: %v", err)
	}

	// Daily records: exactly one record per habit and date.
	recordsCollection := m.collection("dailyRecords")
	recordIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "habit_id", Value: 1},
			{Key: "date", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := recordsCollection.Indexes().CreateOne(ctx, recordIndexModel); err != nil {
		return fmt.Errorf("error creating daily record index: %v", err)
	}

	// Sent reminders: at most one dispatch event per rule and date. The
	// unique index backstops the dispatcher's find-before-create when two
	// ticks race inside the same minute.
	sentCollection := m.collection("sentReminders")
	sentIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "rule_id", Value: 1},
			{Key: "send_date", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := sentCollection.Indexes().CreateOne(ctx, sentIndexModel); err != nil {
		return fmt.Errorf("error creating sent reminder index: %v", err)
	}
	pendingIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "followup_sent", Value: 1},
			{Key: "completed", Value: 1},
		},
		Options: options.Index(),
	}
	if _, err := sentCollection.Indexes().CreateOne(ctx, pendingIndexModel); err != nil {
		return fmt.Errorf("error creating pending follow-up index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// WithTransaction runs fn inside a MongoDB session transaction. The callback
// receives a session-bound context; every storage call made with it commits
// or rolls back as one unit.
func (m *MongoStorage) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("error starting session: %v", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (m *MongoStorage) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

// isNoDocuments backs the single-document lookup convention: a missing
// document is (nil, nil), not an error.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// AddUser adds a new user document to the 'users' collection.
// Returns the added user instance and an error if the insert operation fails.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	result, err := m.collection("users").InsertOne(ctx, user)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, errors.New("a user with that username or email already exists")
		}
		return nil, err
	}
	user.ID = result.InsertedID.(primitive.ObjectID)
	return user, nil
}

// FindUser finds a user document in the 'users' collection that matches the given filter.
func (m *MongoStorage) FindUser(ctx context.Context, filter interface{}) (*models.User, error) {
	user := &models.User{}
	err := m.collection("users").FindOne(ctx, filter).Decode(user)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// UpdateUser updates user documents matching the given filter with the provided update.
func (m *MongoStorage) UpdateUser(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error) {
	result, err := m.collection("users").UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// AddHabit adds a new habit document to the 'habits' collection.
// The owning user must exist; habit names are unique per user.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if habit.Name == "" || habit.UserID.IsZero() {
		return nil, errors.New("invalid habit fields")
	}

	err := m.collection("users").FindOne(ctx, bson.M{"_id": habit.UserID}).Err()
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("no user found with id %s", habit.UserID.Hex())
		}
		return nil, err
	}

	result, err := m.collection("habits").InsertOne(ctx, habit)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("a habit with the name '%s' already exists for the user", habit.Name)
		}
		return nil, err
	}
	habit.ID = result.InsertedID.(primitive.ObjectID)
	return habit, nil
}

// FindHabit finds a habit by its id.
func (m *MongoStorage) FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	habit := &models.Habit{}
	err := m.collection("habits").FindOne(ctx, bson.M{"_id": id}).Decode(habit)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, err
	}
	return habit, nil
}

// FindHabitsByParameter finds habit documents in the 'habits' collection that match the given filter.
func (m *MongoStorage) FindHabitsByParameter(ctx context.Context, filter interface{}) ([]models.Habit, error) {
	cursor, err := m.collection("habits").Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var habits []models.Habit
	if err := cursor.All(ctx, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// UpdateHabit updates habit documents matching the given filter with the provided update.
func (m *MongoStorage) UpdateHabit(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error) {
	result, err := m.collection("habits").UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteHabit deletes a habit and cascades to its daily records, reminder
// rules, sent reminders and goal.
func (m *MongoStorage) DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	byHabit := bson.M{"habit_id": id}
	if _, err := m.collection("dailyRecords").DeleteMany(ctx, byHabit); err != nil {
		return nil, err
	}
	if _, err := m.collection("reminderRules").DeleteMany(ctx, byHabit); err != nil {
		return nil, err
	}
	if _, err := m.collection("sentReminders").DeleteMany(ctx, byHabit); err != nil {
		return nil, err
	}
	if _, err := m.collection("goals").DeleteMany(ctx, byHabit); err != nil {
		return nil, err
	}

	result, err := m.collection("habits").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// UpdateHabitStreak persists recomputed streak fields for a habit.
func (m *MongoStorage) UpdateHabitStreak(ctx context.Context, habitID primitive.ObjectID, current, max int) error {
	_, err := m.collection("habits").UpdateOne(
		ctx,
		bson.M{"_id": habitID},
		bson.M{"$set": bson.M{"current_streak": current, "max_streak": max}},
	)
	return err
}

// AddCategory adds a new category document to the 'categories' collection.
func (m *MongoStorage) AddCategory(ctx context.Context, category *models.Category) (*models.Category, error) {
	if category.Name == "" || category.UserID.IsZero() {
		return nil, errors.New("invalid category fields")
	}
	result, err := m.collection("categories").InsertOne(ctx, category)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("a category named '%s' already exists", category.Name)
		}
		return nil, err
	}
	category.ID = result.InsertedID.(primitive.ObjectID)
	return category, nil
}

// FindCategoriesByUser returns all categories belonging to a user.
func (m *MongoStorage) FindCategoriesByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Category, error) {
	cursor, err := m.collection("categories").Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var categories []models.Category
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// DeleteCategory deletes category documents matching the given filter.
func (m *MongoStorage) DeleteCategory(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	result, err := m.collection("categories").DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddGoal adds a new goal document to the 'goals' collection.
func (m *MongoStorage) AddGoal(ctx context.Context, goal *models.Goal) (*models.Goal, error) {
	if goal.Name == "" || goal.HabitID.IsZero() {
		return nil, errors.New("invalid goal fields")
	}
	result, err := m.collection("goals").InsertOne(ctx, goal)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, errors.New("the habit already has a goal")
		}
		return nil, err
	}
	goal.ID = result.InsertedID.(primitive.ObjectID)
	return goal, nil
}

// FindGoalByHabit returns the goal configured for a habit, if any.
func (m *MongoStorage) FindGoalByHabit(ctx context.Context, habitID primitive.ObjectID) (*models.Goal, error) {
	goal := &models.Goal{}
	err := m.collection("goals").FindOne(ctx, bson.M{"habit_id": habitID}).Decode(goal)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, err
	}
	return goal, nil
}

// UpdateGoal updates goal documents matching the given filter.
func (m *MongoStorage) UpdateGoal(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error) {
	result, err := m.collection("goals").UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteGoal deletes goal documents matching the given filter.
func (m *MongoStorage) DeleteGoal(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	result, err := m.collection("goals").DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddReminderRule adds a new reminder rule document to the 'reminderRules' collection.
func (m *MongoStorage) AddReminderRule(ctx context.Context, rule *models.ReminderRule) (*models.ReminderRule, error) {
	if rule.HabitID.IsZero() || rule.Time == "" || rule.Channel == "" {
		return nil, errors.New("invalid reminder rule fields")
	}
	result, err := m.collection("reminderRules").InsertOne(ctx, rule)
	if err != nil {
		return nil, err
	}
	rule.ID = result.InsertedID.(primitive.ObjectID)
	return rule, nil
}

// FindReminderRule finds a reminder rule by its id.
func (m *MongoStorage) FindReminderRule(ctx context.Context, id primitive.ObjectID) (*models.ReminderRule, error) {
	rule := &models.ReminderRule{}
	err := m.collection("reminderRules").FindOne(ctx, bson.M{"_id": id}).Decode(rule)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// FindReminderRulesByHabit returns all reminder rules configured for a habit.
func (m *MongoStorage) FindReminderRulesByHabit(ctx context.Context, habitID primitive.ObjectID) ([]models.ReminderRule, error) {
	cursor, err := m.collection("reminderRules").Find(ctx, bson.M{"habit_id": habitID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rules []models.ReminderRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// UpdateReminderRule updates rule documents matching the given filter.
func (m *MongoStorage) UpdateReminderRule(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error) {
	result, err := m.collection("reminderRules").UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteReminderRule deletes rule documents matching the given filter.
func (m *MongoStorage) DeleteReminderRule(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	result, err := m.collection("reminderRules").DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// FindActiveReminderRules returns active rules of the given channel with
// their habit and owning user preloaded. The habit's own active flag is NOT
// filtered here; the dispatcher checks it at evaluation time and counts
// skips, since habit state can change between query and evaluation.
func (m *MongoStorage) FindActiveReminderRules(ctx context.Context, channel string) ([]models.DueReminder, error) {
	cursor, err := m.collection("reminderRules").Find(ctx, bson.M{"active": true, "channel": channel})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rules []models.ReminderRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, err
	}

	var due []models.DueReminder
	for _, rule := range rules {
		habit, err := m.FindHabit(ctx, rule.HabitID)
		if err != nil {
			return nil, err
		}
		if habit == nil {
			continue
		}
		user, err := m.FindUser(ctx, bson.M{"_id": habit.UserID})
		if err != nil {
			return nil, err
		}
		if user == nil {
			continue
		}
		due = append(due, models.DueReminder{Rule: rule, Habit: *habit, User: *user})
	}
	return due, nil
}

// FindDailyRecord finds the record for (habit, date).
func (m *MongoStorage) FindDailyRecord(ctx context.Context, habitID primitive.ObjectID, date string) (*models.DailyRecord, error) {
	record := &models.DailyRecord{}
	err := m.collection("dailyRecords").FindOne(ctx, bson.M{"habit_id": habitID, "date": date}).Decode(record)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// SaveDailyRecord inserts or replaces the record for its (habit, date). The
// unique index on (habit_id, date) guarantees at most one document survives.
func (m *MongoStorage) SaveDailyRecord(ctx context.Context, record *models.DailyRecord) error {
	filter := bson.M{"habit_id": record.HabitID, "date": record.Date}
	opts := options.Replace().SetUpsert(true)
	result, err := m.collection("dailyRecords").ReplaceOne(ctx, filter, record, opts)
	if err != nil {
		return err
	}
	if result.UpsertedID != nil {
		record.ID = result.UpsertedID.(primitive.ObjectID)
	}
	return nil
}

// FindDailyRecords returns up to limit records for a habit, most recent first.
func (m *MongoStorage) FindDailyRecords(ctx context.Context, habitID primitive.ObjectID, limit int64) ([]models.DailyRecord, error) {
	opts := options.Find().SetSort(bson.M{"date": -1})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cursor, err := m.collection("dailyRecords").Find(ctx, bson.M{"habit_id": habitID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []models.DailyRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindCompletedDates returns the dates of status=completed records for a
// habit in descending order, the precondition the streak walk relies on.
func (m *MongoStorage) FindCompletedDates(ctx context.Context, habitID primitive.ObjectID) ([]time.Time, error) {
	opts := options.Find().
		SetSort(bson.M{"date": -1}).
		SetProjection(bson.M{"date": 1})
	cursor, err := m.collection("dailyRecords").Find(ctx, bson.M{"habit_id": habitID, "status": models.StatusCompleted}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Date string `bson:"date"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	dates := make([]time.Time, 0, len(docs))
	for _, doc := range docs {
		d, err := time.Parse(models.DateLayout, doc.Date)
		if err != nil {
			return nil, fmt.Errorf("malformed date %q on daily record: %v", doc.Date, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// AddSentReminder records a dispatch event. The unique (rule_id, send_date)
// index rejects a second event for the same rule and day.
func (m *MongoStorage) AddSentReminder(ctx context.Context, sent *models.SentReminder) (*models.SentReminder, error) {
	result, err := m.collection("sentReminders").InsertOne(ctx, sent)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("reminder already dispatched for rule %s on %s", sent.RuleID.Hex(), sent.SendDate)
		}
		return nil, err
	}
	sent.ID = result.InsertedID.(primitive.ObjectID)
	return sent, nil
}

// FindSentReminder finds the dispatch event for (rule, date).
func (m *MongoStorage) FindSentReminder(ctx context.Context, ruleID primitive.ObjectID, date string) (*models.SentReminder, error) {
	sent := &models.SentReminder{}
	err := m.collection("sentReminders").FindOne(ctx, bson.M{"rule_id": ruleID, "send_date": date}).Decode(sent)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, err
	}
	return sent, nil
}

// FindSentReminderByID finds a dispatch event by its id.
func (m *MongoStorage) FindSentReminderByID(ctx context.Context, id primitive.ObjectID) (*models.SentReminder, error) {
	sent := &models.SentReminder{}
	err := m.collection("sentReminders").FindOne(ctx, bson.M{"_id": id}).Decode(sent)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, err
	}
	return sent, nil
}

// FindPendingFollowups returns every dispatch event that has neither been
// followed up nor completed, joined with its rule, habit and user. Rows whose
// rule, habit or user has since been deleted are dropped.
func (m *MongoStorage) FindPendingFollowups(ctx context.Context) ([]models.PendingFollowup, error) {
	cursor, err := m.collection("sentReminders").Find(ctx, bson.M{"followup_sent": false, "completed": false})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sents []models.SentReminder
	if err := cursor.All(ctx, &sents); err != nil {
		return nil, err
	}

	var pending []models.PendingFollowup
	for _, sent := range sents {
		p, err := m.loadReminderContext(ctx, sent, false)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		pending = append(pending, *p)
	}
	return pending, nil
}

// FindReminderContext reloads one dispatch event with its rule, habit, user
// and goal. Returns (nil, nil) when the event or any required relation is gone.
func (m *MongoStorage) FindReminderContext(ctx context.Context, sentID primitive.ObjectID) (*models.PendingFollowup, error) {
	sent, err := m.FindSentReminderByID(ctx, sentID)
	if err != nil {
		return nil, err
	}
	if sent == nil {
		return nil, nil
	}
	return m.loadReminderContext(ctx, *sent, true)
}

// loadReminderContext joins a dispatch event with its relations. The goal is
// only loaded when withGoal is set; the follow-up email is the sole consumer.
func (m *MongoStorage) loadReminderContext(ctx context.Context, sent models.SentReminder, withGoal bool) (*models.PendingFollowup, error) {
	rule, err := m.FindReminderRule(ctx, sent.RuleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}
	habit, err := m.FindHabit(ctx, sent.HabitID)
	if err != nil {
		return nil, err
	}
	if habit == nil {
		return nil, nil
	}
	user, err := m.FindUser(ctx, bson.M{"_id": habit.UserID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	p := &models.PendingFollowup{Sent: sent, Rule: *rule, Habit: *habit, User: *user}
	if withGoal {
		goal, err := m.FindGoalByHabit(ctx, habit.ID)
		if err != nil {
			return nil, err
		}
		p.Goal = goal
	}
	return p, nil
}

// MarkFollowupSent flips followup_sent=true on a dispatch event, guarded so
// the transition only happens from the plain sent state: a reminder the user
// completed in the meantime, or one another worker already followed up on,
// is left untouched. Reports whether the transition happened.
func (m *MongoStorage) MarkFollowupSent(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	result, err := m.collection("sentReminders").UpdateOne(
		ctx,
		bson.M{"_id": id, "completed": false, "followup_sent": false},
		bson.M{"$set": bson.M{"followup_sent": true, "followup_sent_at": at}},
	)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// MarkSentRemindersCompleted completes every open dispatch event for
// (habit, date). Completed is terminal: already-completed events never match
// the filter, so their timestamps are preserved.
func (m *MongoStorage) MarkSentRemindersCompleted(ctx context.Context, habitID primitive.ObjectID, date string, at time.Time) (int64, error) {
	result, err := m.collection("sentReminders").UpdateMany(
		ctx,
		bson.M{"habit_id": habitID, "send_date": date, "completed": false},
		bson.M{"$set": bson.M{"completed": true, "completed_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// isDuplicateKey reports whether an insert failed on a unique index.
func isDuplicateKey(err error) bool {
	var writeException mongo.WriteException
	if errors.As(err, &writeException) {
		for _, writeError := range writeException.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}
