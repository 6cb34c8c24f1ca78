package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jghoshh/ritmo/backend/habits"
	"github.com/jghoshh/ritmo/backend/models"
	"github.com/jghoshh/ritmo/backend/scheduler"
	"github.com/jghoshh/ritmo/backend/server/auth"
	contextKey "github.com/jghoshh/ritmo/backend/server/context_key"
	storage "github.com/jghoshh/ritmo/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// API bundles the services the HTTP handlers delegate to: the storage
// backend for plain CRUD, the recorder for completion semantics, and the two
// tick loops for the manual trigger endpoints.
type API struct {
	store      storage.StorageInterface
	recorder   *habits.Recorder
	dispatcher *scheduler.Dispatcher
	monitor    *scheduler.FollowupMonitor
	log        *zap.SugaredLogger
}

func NewAPI(store storage.StorageInterface, recorder *habits.Recorder, dispatcher *scheduler.Dispatcher, monitor *scheduler.FollowupMonitor, log *zap.SugaredLogger) *API {
	return &API{
		store:      store,
		recorder:   recorder,
		dispatcher: dispatcher,
		monitor:    monitor,
		log:        log,
	}
}

// RegisterRoutes mounts every API endpoint on the router.
func (a *API) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/signup", a.handleSignUp).Methods("POST")
	r.HandleFunc("/auth/signin", a.handleSignIn).Methods("POST")
	r.HandleFunc("/auth/refresh", a.handleRefresh).Methods("POST")
	r.HandleFunc("/auth/user", a.handleUpdateUser).Methods("PUT")

	r.HandleFunc("/habits", a.handleListHabits).Methods("GET")
	r.HandleFunc("/habits", a.handleCreateHabit).Methods("POST")
	r.HandleFunc("/habits/{id}", a.handleGetHabit).Methods("GET")
	r.HandleFunc("/habits/{id}", a.handleUpdateHabit).Methods("PUT")
	r.HandleFunc("/habits/{id}", a.handleDeleteHabit).Methods("DELETE")

	r.HandleFunc("/habits/{id}/complete", a.handleComplete).Methods("POST")
	r.HandleFunc("/habits/{id}/uncomplete", a.handleUncomplete).Methods("POST")
	r.HandleFunc("/habits/{id}/records", a.handleListRecords).Methods("GET")
	r.HandleFunc("/habits/{id}/stats", a.handleStats).Methods("GET")

	r.HandleFunc("/categories", a.handleListCategories).Methods("GET")
	r.HandleFunc("/categories", a.handleCreateCategory).Methods("POST")
	r.HandleFunc("/categories/{id}", a.handleDeleteCategory).Methods("DELETE")

	r.HandleFunc("/habits/{id}/goal", a.handleGetGoal).Methods("GET")
	r.HandleFunc("/habits/{id}/goal", a.handleCreateGoal).Methods("POST")
	r.HandleFunc("/habits/{id}/goal", a.handleUpdateGoal).Methods("PUT")
	r.HandleFunc("/habits/{id}/goal", a.handleDeleteGoal).Methods("DELETE")

	r.HandleFunc("/habits/{id}/reminders", a.handleListRules).Methods("GET")
	r.HandleFunc("/habits/{id}/reminders", a.handleCreateRule).Methods("POST")
	r.HandleFunc("/reminders/{id}", a.handleUpdateRule).Methods("PUT")
	r.HandleFunc("/reminders/{id}", a.handleDeleteRule).Methods("DELETE")

	r.HandleFunc("/admin/reminders/tick", a.handleReminderTick).Methods("POST")
	r.HandleFunc("/admin/followups/tick", a.handleFollowupTick).Methods("POST")
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// userID extracts the authenticated user's ID from the request context that
// the JWT middleware populated.
func (a *API) userID(r *http.Request) (primitive.ObjectID, error) {
	if err, ok := r.Context().Value(contextKey.JwtErrorKey).(error); ok && err != nil {
		return primitive.NilObjectID, errors.New("invalid or expired token")
	}
	raw, ok := r.Context().Value(contextKey.UserIDKey).(string)
	if !ok || raw == "" {
		return primitive.NilObjectID, errors.New("authentication required")
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, errors.New("invalid or expired token")
	}
	return id, nil
}

// ownedHabit resolves the habit named in the route and verifies it belongs
// to the authenticated user. The second return value is the HTTP status to
// respond with when the habit could not be resolved.
func (a *API) ownedHabit(r *http.Request, userID primitive.ObjectID) (*models.Habit, int, error) {
	habitID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid habit id")
	}
	habit, err := a.store.FindHabit(r.Context(), habitID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if habit == nil || habit.UserID != userID {
		return nil, http.StatusNotFound, errors.New("habit not found")
	}
	return habit, 0, nil
}

// --- auth ---

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AuthToken    string `json:"auth_token"`
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, refresh, err := auth.SignUp(req.Username, req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, tokenResponse{AuthToken: token, RefreshToken: refresh})
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, refresh, err := auth.SignIn(req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{AuthToken: token, RefreshToken: refresh})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string `json:"user_id"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, refresh, err := auth.RefreshToken(req.UserID, req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{AuthToken: token, RefreshToken: refresh})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewUsername     string `json:"new_username"`
		NewEmail        string `json:"new_email"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := auth.UpdateUser(userID.Hex(), req.CurrentPassword, req.NewUsername, req.NewEmail, req.NewPassword); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// --- habits ---

type habitRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	CategoryID  *string `json:"category_id"`
	DailyTarget *int    `json:"daily_target"`
	Active      *bool   `json:"active"`
}

func (a *API) handleListHabits(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	list, err := a.store.FindHabitsByParameter(r.Context(), bson.M{"user_id": userID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list habits")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req habitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == nil || *req.Name == "" {
		respondError(w, http.StatusBadRequest, "habit name is required")
		return
	}

	habit := &models.Habit{
		UserID:    userID,
		Name:      *req.Name,
		Active:    true,
		StartDate: time.Now().UTC(),
	}
	if req.Description != nil {
		habit.Description = *req.Description
	}
	if req.DailyTarget != nil {
		if *req.DailyTarget < 0 {
			respondError(w, http.StatusBadRequest, "daily target cannot be negative")
			return
		}
		habit.DailyTarget = *req.DailyTarget
	}
	if req.Active != nil {
		habit.Active = *req.Active
	}
	if req.CategoryID != nil && *req.CategoryID != "" {
		catID, err := primitive.ObjectIDFromHex(*req.CategoryID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid category id")
			return
		}
		habit.CategoryID = catID
	}

	created, err := a.store.AddHabit(r.Context(), habit)
	if err != nil {
		respondError(w, http.StatusConflict, "a habit with this name already exists")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, habit)
}

func (a *API) handleUpdateHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	var req habitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	set := bson.M{}
	if req.Name != nil && *req.Name != "" {
		set["name"] = *req.Name
	}
	if req.Description != nil {
		set["description"] = *req.Description
	}
	if req.DailyTarget != nil {
		if *req.DailyTarget < 0 {
			respondError(w, http.StatusBadRequest, "daily target cannot be negative")
			return
		}
		set["daily_target"] = *req.DailyTarget
	}
	if req.Active != nil {
		set["active"] = *req.Active
	}
	if req.CategoryID != nil {
		if *req.CategoryID == "" {
			set["category_id"] = primitive.NilObjectID
		} else {
			catID, err := primitive.ObjectIDFromHex(*req.CategoryID)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid category id")
				return
			}
			set["category_id"] = catID
		}
	}
	if len(set) == 0 {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if _, err := a.store.UpdateHabit(r.Context(), bson.M{"_id": habit.ID}, bson.M{"$set": set}); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update habit")
		return
	}
	updated, err := a.store.FindHabit(r.Context(), habit.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update habit")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	if _, err := a.store.DeleteHabit(r.Context(), habit.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete habit")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- completions ---

type completionRequest struct {
	Date  string  `json:"date"`
	Times int     `json:"times"`
	Notes *string `json:"notes"`
}

// resolveDate defaults to today and rejects dates that do not parse.
func resolveDate(raw string) (string, error) {
	if raw == "" {
		return time.Now().Format(models.DateLayout), nil
	}
	if _, err := time.Parse(models.DateLayout, raw); err != nil {
		return "", errors.New("invalid date, expected YYYY-MM-DD")
	}
	return raw, nil
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	var req completionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := resolveDate(req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	times := req.Times
	if times <= 0 {
		times = 1
	}

	record, updatedHabit, err := a.recorder.Complete(r.Context(), habit.ID, date, times, req.Notes)
	if err != nil {
		if errors.Is(err, habits.ErrHabitNotFound) {
			respondError(w, http.StatusNotFound, "habit not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to record completion")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"record": record,
		"habit":  updatedHabit,
	})
}

func (a *API) handleUncomplete(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	var req completionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := resolveDate(req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	times := req.Times
	if times <= 0 {
		times = 1
	}

	record, updatedHabit, err := a.recorder.Uncomplete(r.Context(), habit.ID, date, times)
	if err != nil {
		if errors.Is(err, habits.ErrHabitNotFound) {
			respondError(w, http.StatusNotFound, "habit not found")
			return
		}
		if errors.Is(err, habits.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "no completion recorded for this date")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to undo completion")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"record": record,
		"habit":  updatedHabit,
	})
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	records, err := a.store.FindDailyRecords(r.Context(), habit.ID, 90)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// habitStats summarizes a habit's tracked history.
type habitStats struct {
	CurrentStreak  int     `json:"current_streak"`
	MaxStreak      int     `json:"max_streak"`
	DaysTracked    int     `json:"days_tracked"`
	CompletedDays  int     `json:"completed_days"`
	PartialDays    int     `json:"partial_days"`
	CompletionRate float64 `json:"completion_rate"`
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	records, err := a.store.FindDailyRecords(r.Context(), habit.ID, 365)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	stats := habitStats{
		CurrentStreak: habit.CurrentStreak,
		MaxStreak:     habit.MaxStreak,
		DaysTracked:   len(records),
	}
	for _, rec := range records {
		switch rec.Status {
		case models.StatusCompleted:
			stats.CompletedDays++
		case models.StatusPartial:
			stats.PartialDays++
		}
	}
	if stats.DaysTracked > 0 {
		stats.CompletionRate = float64(stats.CompletedDays) / float64(stats.DaysTracked)
	}
	respondJSON(w, http.StatusOK, stats)
}

// --- categories ---

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	list, err := a.store.FindCategoriesByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
		Emoji string `json:"emoji"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "category name is required")
		return
	}
	created, err := a.store.AddCategory(r.Context(), &models.Category{
		UserID: userID,
		Name:   req.Name,
		Color:  req.Color,
		Emoji:  req.Emoji,
	})
	if err != nil {
		respondError(w, http.StatusConflict, "a category with this name already exists")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (a *API) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	catID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid category id")
		return
	}
	res, err := a.store.DeleteCategory(r.Context(), bson.M{"_id": catID, "user_id": userID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}
	if res.DeletedCount == 0 {
		respondError(w, http.StatusNotFound, "category not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- goals ---

type goalRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Target      *int    `json:"target"`
}

func (a *API) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	goal, err := a.store.FindGoalByHabit(r.Context(), habit.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load goal")
		return
	}
	if goal == nil {
		respondError(w, http.StatusNotFound, "this habit has no goal")
		return
	}
	respondJSON(w, http.StatusOK, goal)
}

func (a *API) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	var req goalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == nil || *req.Name == "" {
		respondError(w, http.StatusBadRequest, "goal name is required")
		return
	}
	goal := &models.Goal{
		UserID:  userID,
		HabitID: habit.ID,
		Name:    *req.Name,
	}
	if req.Description != nil {
		goal.Description = *req.Description
	}
	if req.Target != nil {
		goal.Target = *req.Target
	}
	created, err := a.store.AddGoal(r.Context(), goal)
	if err != nil {
		respondError(w, http.StatusConflict, "this habit already has a goal")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	var req goalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	set := bson.M{}
	if req.Name != nil && *req.Name != "" {
		set["name"] = *req.Name
	}
	if req.Description != nil {
		set["description"] = *req.Description
	}
	if req.Target != nil {
		set["target"] = *req.Target
	}
	if len(set) == 0 {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	res, err := a.store.UpdateGoal(r.Context(), bson.M{"habit_id": habit.ID}, bson.M{"$set": set})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update goal")
		return
	}
	if res.MatchedCount == 0 {
		respondError(w, http.StatusNotFound, "this habit has no goal")
		return
	}
	goal, err := a.store.FindGoalByHabit(r.Context(), habit.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update goal")
		return
	}
	respondJSON(w, http.StatusOK, goal)
}

func (a *API) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	res, err := a.store.DeleteGoal(r.Context(), bson.M{"habit_id": habit.ID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete goal")
		return
	}
	if res.DeletedCount == 0 {
		respondError(w, http.StatusNotFound, "this habit has no goal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- reminder rules ---

type ruleRequest struct {
	Time            *string `json:"time"`
	Days            *string `json:"days"`
	Channel         *string `json:"channel"`
	Message         *string `json:"message"`
	Active          *bool   `json:"active"`
	FollowupEnabled *bool   `json:"followup_enabled"`
	FollowupDelay   *int    `json:"followup_delay_minutes"`
}

func validChannel(c string) bool {
	return c == models.ChannelEmail || c == models.ChannelPush
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	rules, err := a.store.FindReminderRulesByHabit(r.Context(), habit.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	habit, status, err := a.ownedHabit(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Time == nil {
		respondError(w, http.StatusBadRequest, "reminder time is required")
		return
	}
	if err := scheduler.ValidateTime(*req.Time); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := &models.ReminderRule{
		HabitID:   habit.ID,
		Active:    true,
		Time:      *req.Time,
		Channel:   models.ChannelEmail,
		CreatedAt: time.Now().UTC(),
	}
	if req.Days != nil {
		if err := scheduler.ValidateDays(*req.Days); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		rule.Days = *req.Days
	}
	if req.Channel != nil {
		if !validChannel(*req.Channel) {
			respondError(w, http.StatusBadRequest, "unknown channel")
			return
		}
		rule.Channel = *req.Channel
	}
	if req.Message != nil {
		rule.Message = *req.Message
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.FollowupEnabled != nil {
		rule.FollowupEnabled = *req.FollowupEnabled
	}
	if req.FollowupDelay != nil {
		if *req.FollowupDelay < 0 {
			respondError(w, http.StatusBadRequest, "follow-up delay cannot be negative")
			return
		}
		rule.FollowupDelay = *req.FollowupDelay
	}

	created, err := a.store.AddReminderRule(r.Context(), rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create reminder")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// ownedRule resolves the rule named in the route and verifies its habit
// belongs to the authenticated user.
func (a *API) ownedRule(r *http.Request, userID primitive.ObjectID) (*models.ReminderRule, int, error) {
	ruleID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid reminder id")
	}
	rule, err := a.store.FindReminderRule(r.Context(), ruleID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if rule == nil {
		return nil, http.StatusNotFound, errors.New("reminder not found")
	}
	habit, err := a.store.FindHabit(r.Context(), rule.HabitID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if habit == nil || habit.UserID != userID {
		return nil, http.StatusNotFound, errors.New("reminder not found")
	}
	return rule, 0, nil
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rule, status, err := a.ownedRule(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	set := bson.M{}
	if req.Time != nil {
		if err := scheduler.ValidateTime(*req.Time); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		set["time"] = *req.Time
	}
	if req.Days != nil {
		if err := scheduler.ValidateDays(*req.Days); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		set["days"] = *req.Days
	}
	if req.Channel != nil {
		if !validChannel(*req.Channel) {
			respondError(w, http.StatusBadRequest, "unknown channel")
			return
		}
		set["channel"] = *req.Channel
	}
	if req.Message != nil {
		set["message"] = *req.Message
	}
	if req.Active != nil {
		set["active"] = *req.Active
	}
	if req.FollowupEnabled != nil {
		set["followup_enabled"] = *req.FollowupEnabled
	}
	if req.FollowupDelay != nil {
		if *req.FollowupDelay < 0 {
			respondError(w, http.StatusBadRequest, "follow-up delay cannot be negative")
			return
		}
		set["followup_delay_minutes"] = *req.FollowupDelay
	}
	if len(set) == 0 {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if _, err := a.store.UpdateReminderRule(r.Context(), bson.M{"_id": rule.ID}, bson.M{"$set": set}); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update reminder")
		return
	}
	updated, err := a.store.FindReminderRule(r.Context(), rule.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update reminder")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rule, status, err := a.ownedRule(r, userID)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	if _, err := a.store.DeleteReminderRule(r.Context(), bson.M{"_id": rule.ID}); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete reminder")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- manual scheduler triggers ---

func (a *API) handleReminderTick(w http.ResponseWriter, r *http.Request) {
	if _, err := a.userID(r); err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	summary, err := a.dispatcher.Tick(r.Context(), time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reminder tick failed")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (a *API) handleFollowupTick(w http.ResponseWriter, r *http.Request) {
	if _, err := a.userID(r); err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	summary, err := a.monitor.Tick(r.Context(), time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "follow-up tick failed")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
