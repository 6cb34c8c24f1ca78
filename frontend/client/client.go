package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/ritmo/backend/models"
	"github.com/jghoshh/ritmo/lib/utils"
	"github.com/zalando/go-keyring"
)

// jwtSigningKey is used to sign and verify JWT tokens.
var jwtSigningKey string

// KeyringKey is used to store and retrieve the JWT token from the system keyring.
var KeyringKey string

// RefreshKeyringKey is used to store and retrieve the refresh token from the system keyring.
var RefreshKeyringKey string

// ServerURL is the URL of the server the client is connecting to.
var ServerURL string

// client is the HTTP client used to make requests to the server.
var client = &http.Client{}

// KeyringService is the name of the service in the system keyring where the JWT token and refresh token are stored.
const KeyringService = "Ritmo"

// TokenResult is a struct that represents the result of a request to an auth endpoint, such as SignIn or SignUp.
type TokenResult struct {
	Token        string
	RefreshToken string
}

// Stats summarizes a habit's tracked history as the server reports it.
type Stats struct {
	CurrentStreak  int     `json:"current_streak"`
	MaxStreak      int     `json:"max_streak"`
	DaysTracked    int     `json:"days_tracked"`
	CompletedDays  int     `json:"completed_days"`
	PartialDays    int     `json:"partial_days"`
	CompletionRate float64 `json:"completion_rate"`
}

// CompletionResult pairs the daily record the server wrote with the habit
// carrying the recomputed streaks.
type CompletionResult struct {
	Record models.DailyRecord `json:"record"`
	Habit  models.Habit       `json:"habit"`
}

// TickSummary reports what a manually triggered scheduler pass did.
type TickSummary struct {
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Scheduled  int `json:"scheduled"`
}

// InitClient initializes the signing key, keyring keys and server URL.
// This function must be called before using any other functions in the package.
func InitClient(serverURL, signingKey, authToken, authTokenRefresh string) {
	jwtSigningKey = signingKey
	KeyringKey = authToken
	RefreshKeyringKey = authTokenRefresh
	ServerURL = serverURL
}

// decodeJWT decodes a JWT token and returns the claims contained within it.
// Returns the claims if the token is valid, else an error.
func decodeJWT(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// isJwtTokenInKeyring checks if the system keyring contains a JWT token.
// Returns 'true' and the token if it exists, 'false' and an empty string if it doesn't.
func isJwtTokenInKeyring() (bool, string, error) {
	jwtToken, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return false, "", nil
		}
		return false, "", errors.New("failed to access keyring: " + err.Error())
	}
	return true, jwtToken, nil
}

// ClearKeyring clears the JWT token and refresh token from the system keyring atomically.
func ClearKeyring() error {
	accessToken, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		return errors.New("failed to retrieve access token from keyring: " + err.Error())
	}

	err = keyring.Delete(KeyringService, KeyringKey)
	if err != nil {
		return errors.New("failed to delete access token from keyring: " + err.Error())
	}

	err = keyring.Delete(KeyringService, RefreshKeyringKey)
	if err != nil {
		keyring.Set(KeyringService, KeyringKey, accessToken)
		return errors.New("failed to delete refresh token from keyring: " + err.Error())
	}

	return nil
}

// IsUserAuthenticated checks if the user is authenticated by checking if a valid JWT token
// exists in the system keyring. If a valid token is found, it returns the token, else it
// returns an empty string. If the token is expired, it tries to refresh it using the
// refresh token.
func IsUserAuthenticated() (string, error) {

	hasJwt, tokenStr, err := isJwtTokenInKeyring()

	if err != nil {
		return "", err
	}

	if !hasJwt {
		return "", nil
	}

	_, err = decodeJWT(tokenStr)
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorExpired != 0 {
				newToken, refreshErr := RefreshAccessToken()
				if refreshErr != nil {
					return "", refreshErr
				}
				return newToken, nil
			}
		}
		return "", err
	}

	return tokenStr, nil
}

// sendRequest performs one JSON request against the server. A non-nil token
// is sent as a Bearer Authorization header; a non-nil payload is marshaled
// as the request body; a non-nil out receives the decoded response body.
// Error responses are surfaced as the server's error message.
func sendRequest(method, path string, token *string, payload, out interface{}) error {

	var body io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		body = bytes.NewBuffer(reqBody)
	}

	req, err := http.NewRequest(method, ServerURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != nil {
		req.Header.Add("Authorization", "Bearer "+*token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(bodyBytes, &errBody); err == nil && errBody.Error != "" {
			return errors.New(errBody.Error)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %v", err)
		}
	}

	return nil
}

// storeTokens saves a token pair to the system keyring.
func storeTokens(token, refreshToken string) error {
	if err := keyring.Set(KeyringService, KeyringKey, token); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := keyring.Set(KeyringService, RefreshKeyringKey, refreshToken); err != nil {
			keyring.Delete(KeyringService, KeyringKey)
			return err
		}
	}
	return nil
}

// RefreshAccessToken attempts to refresh the JWT token using the refresh token.
// Returns the refreshed token if successful, else an error.
func RefreshAccessToken() (string, error) {

	refreshToken, err := keyring.Get(KeyringService, RefreshKeyringKey)
	if err != nil {
		return "", err
	}

	claims, err := decodeJWT(refreshToken)
	if err != nil {
		return "", errors.New("expired refresh token")
	}
	userID, _ := claims["id"].(string)

	var tokens struct {
		AuthToken    string `json:"auth_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err = sendRequest("POST", "/auth/refresh", nil, map[string]string{
		"user_id":       userID,
		"refresh_token": refreshToken,
	}, &tokens)
	if err != nil {
		return "", err
	}

	if err := storeTokens(tokens.AuthToken, tokens.RefreshToken); err != nil {
		return "", err
	}

	return tokens.AuthToken, nil
}

// requireAuth returns a usable token or an error when no user is signed in.
func requireAuth() (string, error) {
	token, err := IsUserAuthenticated()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("no user is currently signed in")
	}
	return token, nil
}

// SignIn attempts to sign in a user with the provided username and password.
// Returns the JWT token and refresh token if the sign in was successful, else an error.
func SignIn(username, password string) (string, string, error) {

	isSignedIn, _, err := isJwtTokenInKeyring()
	if err != nil {
		return "", "", err
	}
	if isSignedIn {
		return "", "", errors.New("a user is already signed in")
	}

	var tokens struct {
		AuthToken    string `json:"auth_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err = sendRequest("POST", "/auth/signin", nil, map[string]string{
		"username": username,
		"password": password,
	}, &tokens)
	if err != nil {
		return "", "", err
	}

	if err := storeTokens(tokens.AuthToken, tokens.RefreshToken); err != nil {
		return "", "", err
	}

	return tokens.AuthToken, tokens.RefreshToken, nil
}

// SignUp attempts to sign up a new user with the provided username, email, and password.
// Returns the JWT token and refresh token if the sign up was successful, else an error.
func SignUp(username, email, password string) (string, string, error) {

	isSignedIn, _, err := isJwtTokenInKeyring()
	if err != nil {
		return "", "", err
	}
	if isSignedIn {
		return "", "", errors.New("a user is already signed in")
	}

	if !(len(username) > 1) {
		return "", "", errors.New("username must be at least 2 characters")
	}
	if !utils.ValidateEmail(email) {
		return "", "", errors.New("invalid email format")
	}
	if !utils.ValidatePassword(password) {
		return "", "", errors.New("password must be at least 8 characters and contain both letters and numbers")
	}

	var tokens struct {
		AuthToken    string `json:"auth_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err = sendRequest("POST", "/auth/signup", nil, map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &tokens)
	if err != nil {
		return "", "", err
	}

	if err := storeTokens(tokens.AuthToken, tokens.RefreshToken); err != nil {
		return "", "", err
	}

	return tokens.AuthToken, tokens.RefreshToken, nil
}

// UpdateUser attempts to update the current user's information. It requires
// the current password for authentication, and the new username, email,
// and/or password to update.
func UpdateUser(currentPassword, newUsername, newEmail, newPassword string) error {

	token, err := requireAuth()
	if err != nil {
		return err
	}

	if newUsername == "" && newEmail == "" && newPassword == "" {
		return errors.New("nothing to update")
	}
	if newUsername != "" && len(newUsername) <= 1 {
		return errors.New("new username must be at least 2 characters")
	}
	if newEmail != "" && !utils.ValidateEmail(newEmail) {
		return errors.New("new email is in invalid format")
	}
	if newPassword != "" && !utils.ValidatePassword(newPassword) {
		return errors.New("new password must be at least 8 characters and contain both letters and numbers")
	}

	return sendRequest("PUT", "/auth/user", &token, map[string]string{
		"current_password": currentPassword,
		"new_username":     newUsername,
		"new_email":        newEmail,
		"new_password":     newPassword,
	}, nil)
}

// SignOut signs out the current user by removing the tokens from the system keyring.
func SignOut() error {
	if _, err := requireAuth(); err != nil {
		return err
	}
	return ClearKeyring()
}

// ListHabits returns every habit of the signed-in user.
func ListHabits() ([]models.Habit, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var habits []models.Habit
	if err := sendRequest("GET", "/habits", &token, nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// CreateHabit creates a new habit with an optional description and daily target.
func CreateHabit(name, description string, dailyTarget int) (*models.Habit, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var habit models.Habit
	err = sendRequest("POST", "/habits", &token, map[string]interface{}{
		"name":         name,
		"description":  description,
		"daily_target": dailyTarget,
	}, &habit)
	if err != nil {
		return nil, err
	}
	return &habit, nil
}

// DeleteHabit deletes a habit and everything recorded against it.
func DeleteHabit(habitID string) error {
	token, err := requireAuth()
	if err != nil {
		return err
	}
	return sendRequest("DELETE", "/habits/"+habitID, &token, nil, nil)
}

// CompleteHabit records a completion for a habit. An empty date means today.
func CompleteHabit(habitID, date string, times int, notes string) (*CompletionResult, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"date":  date,
		"times": times,
	}
	if notes != "" {
		payload["notes"] = notes
	}
	var result CompletionResult
	if err := sendRequest("POST", "/habits/"+habitID+"/complete", &token, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UncompleteHabit walks back a recorded completion for a habit.
func UncompleteHabit(habitID, date string, times int) (*CompletionResult, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var result CompletionResult
	err = sendRequest("POST", "/habits/"+habitID+"/uncomplete", &token, map[string]interface{}{
		"date":  date,
		"times": times,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// HabitStats returns the tracked-history summary for a habit.
func HabitStats(habitID string) (*Stats, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var stats Stats
	if err := sendRequest("GET", "/habits/"+habitID+"/stats", &token, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListReminders returns the reminder rules configured for a habit.
func ListReminders(habitID string) ([]models.ReminderRule, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var rules []models.ReminderRule
	if err := sendRequest("GET", "/habits/"+habitID+"/reminders", &token, nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// AddReminder creates a reminder rule for a habit. Days is a comma-separated
// list of day letters; empty means every day.
func AddReminder(habitID, timeOfDay, days, message string, followup bool) (*models.ReminderRule, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var rule models.ReminderRule
	err = sendRequest("POST", "/habits/"+habitID+"/reminders", &token, map[string]interface{}{
		"time":             timeOfDay,
		"days":             days,
		"message":          message,
		"followup_enabled": followup,
	}, &rule)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeleteReminder deletes a reminder rule.
func DeleteReminder(ruleID string) error {
	token, err := requireAuth()
	if err != nil {
		return err
	}
	return sendRequest("DELETE", "/reminders/"+ruleID, &token, nil, nil)
}

// SetGoal attaches a goal to a habit.
func SetGoal(habitID, name, description string, target int) (*models.Goal, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var goal models.Goal
	err = sendRequest("POST", "/habits/"+habitID+"/goal", &token, map[string]interface{}{
		"name":        name,
		"description": description,
		"target":      target,
	}, &goal)
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

// GetGoal returns the goal attached to a habit, if any.
func GetGoal(habitID string) (*models.Goal, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var goal models.Goal
	if err := sendRequest("GET", "/habits/"+habitID+"/goal", &token, nil, &goal); err != nil {
		return nil, err
	}
	return &goal, nil
}

// TriggerReminderTick asks the server to run one reminder dispatch pass now.
func TriggerReminderTick() (*TickSummary, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var summary TickSummary
	if err := sendRequest("POST", "/admin/reminders/tick", &token, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// TriggerFollowupTick asks the server to run one follow-up pass now.
func TriggerFollowupTick() (*TickSummary, error) {
	token, err := requireAuth()
	if err != nil {
		return nil, err
	}
	var summary TickSummary
	if err := sendRequest("POST", "/admin/followups/tick", &token, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
