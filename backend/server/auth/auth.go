package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/ritmo/backend/models"
	storage "github.com/jghoshh/ritmo/backend/storage/persistent"
	"github.com/jghoshh/ritmo/lib/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// store is a global variable that holds an interface to the storage system (database).
var store storage.StorageInterface

// jwtSigningKey is a global variable that holds the key used for signing and verifying JWT tokens.
var jwtSigningKey string

// InitAuth initializes the authentication system with the shared storage
// backend and the key used to sign JWT tokens.
func InitAuth(s storage.StorageInterface, signingKey string) {
	store = s
	jwtSigningKey = signingKey
}

// CreateAuthToken creates a short-lived signed JWT token carrying the
// user's ID.
func CreateAuthToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Minute * 15).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create auth token")
	}

	return signedToken, nil
}

// CreateRefreshToken creates a longer-lived signed JWT refresh token for
// the user, used to obtain a fresh token pair without re-entering
// credentials.
func CreateRefreshToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Hour * 24 * 7).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create refresh token")
	}

	return signedToken, nil
}

// CreateTokens creates both an auth token and a refresh token for a user.
func CreateTokens(userId string) (string, string, error) {
	authToken, authErr := CreateAuthToken(userId)
	if authErr != nil {
		return "", "", authErr
	}

	refreshToken, refreshErr := CreateRefreshToken(userId)
	if refreshErr != nil {
		return "", "", refreshErr
	}

	return authToken, refreshToken, nil
}

// SignIn authenticates a user by username and password.
//
// It finds the user in the database by their username, compares the stored
// hash with the password provided, and generates a new pair of tokens on
// success. The same generic error is returned whether the username or the
// password was wrong.
func SignIn(username string, password string) (string, string, error) {

	if len(username) < 2 {
		return "", "", errors.New("invalid username")
	}

	foundUser, err := store.FindUser(context.Background(), bson.M{"username": username})
	if err != nil || foundUser == nil {
		return "", "", errors.New("authentication failed")
	}

	err = bcrypt.CompareHashAndPassword([]byte(foundUser.PasswordHash), []byte(password))
	if err != nil {
		return "", "", errors.New("authentication failed")
	}

	token, refreshToken, err := CreateTokens(foundUser.ID.Hex())

	if err != nil {
		return "", "", err
	}

	return token, refreshToken, nil
}

// SignUp registers a new user.
//
// It validates the username length, the email format and the password
// complexity, checks that neither the email nor the username is already in
// use, hashes the password, creates the user, and returns a fresh pair of
// tokens for the new account.
func SignUp(username string, email string, password string) (string, string, error) {

	if len(username) < 2 {
		return "", "", errors.New("invalid username")
	}

	if !utils.ValidateEmail(email) {
		return "", "", errors.New("invalid email format")
	}

	if !utils.ValidatePassword(password) {
		return "", "", errors.New("password must be at least 8 characters and contain both letters and numbers")
	}

	foundUser, err := store.FindUser(context.Background(), bson.M{"email": email})
	if err != nil {
		return "", "", err
	}
	if foundUser != nil {
		return "", "", errors.New("an account with this email already exists")
	}

	foundUser, err = store.FindUser(context.Background(), bson.M{"username": username})
	if err != nil {
		return "", "", err
	}
	if foundUser != nil {
		return "", "", errors.New("username is taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}

	newUserID := primitive.NewObjectID()

	user := &models.User{
		ID:             newUserID,
		Username:       username,
		Email:          email,
		EmailConfirmed: false,
		PasswordHash:   string(hashedPassword),
	}

	_, err = store.AddUser(context.Background(), user)
	if err != nil {
		return "", "", err
	}

	token, refreshToken, err := CreateTokens(newUserID.Hex())
	if err != nil {
		return "", "", err
	}

	return token, refreshToken, nil
}

// RefreshToken validates a refresh token and generates a new pair of tokens
// if the refresh token is valid and belongs to the given user.
func RefreshToken(userId string, refreshToken string) (string, string, error) {
	token, err := jwt.Parse(refreshToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})

	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors == jwt.ValidationErrorExpired {
				return "", "", errors.New("expired refresh token")
			}
		}
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid refresh token")
	}

	if claims["id"] != userId {
		return "", "", errors.New("invalid refresh token")
	}

	return CreateTokens(userId)
}

// UpdateUser updates a user's username, email, and/or password after
// verifying the current password. Changing the email resets its confirmed
// flag.
func UpdateUser(userId, currentPassword, newUsername, newEmail, newPassword string) (bool, error) {

	objectID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return false, err
	}

	foundUser, err := store.FindUser(context.Background(), bson.M{"_id": objectID})
	if err != nil || foundUser == nil {
		return false, errors.New("authentication failed")
	}

	err = bcrypt.CompareHashAndPassword([]byte(foundUser.PasswordHash), []byte(currentPassword))
	if err != nil {
		return false, errors.New("authentication failed")
	}

	update := bson.M{
		"$set": bson.M{},
	}

	if newUsername != "" {
		existingUser, err := store.FindUser(context.Background(), bson.M{"username": newUsername})
		if err != nil {
			return false, err
		}
		if existingUser != nil {
			return false, errors.New("username already in use")
		}
		update["$set"].(bson.M)["username"] = newUsername
	}

	if newEmail != "" {
		if !utils.ValidateEmail(newEmail) {
			return false, errors.New("invalid email format")
		}
		existingUser, err := store.FindUser(context.Background(), bson.M{"email": newEmail})
		if err != nil {
			return false, err
		}
		if existingUser != nil {
			return false, errors.New("email already in use")
		}
		update["$set"].(bson.M)["email"] = newEmail
		update["$set"].(bson.M)["email_confirmed"] = false
	}

	if newPassword != "" {
		if !utils.ValidatePassword(newPassword) {
			return false, errors.New("password must be at least 8 characters and contain both letters and numbers")
		}
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return false, err
		}
		update["$set"].(bson.M)["password_hash"] = string(hashedPassword)
	}

	if len(update["$set"].(bson.M)) == 0 {
		return false, errors.New("nothing to update")
	}

	_, err = store.UpdateUser(context.Background(), bson.M{"_id": objectID}, update)
	if err != nil {
		return false, errors.New("internal server error updating user")
	}

	return true, nil
}
