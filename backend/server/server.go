package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	contextKey "github.com/jghoshh/ritmo/backend/server/context_key"
	"github.com/jghoshh/ritmo/lib/logging"
)

// jwtMiddleware is a middleware function that performs JWT validation.
//
// It reads the JWT from the Authorization header of the HTTP request. If a
// JWT is present, it verifies the token's signature and checks if it has
// expired. If the JWT is valid, the middleware injects the user's ID
// extracted from the JWT into the request's context under
// contextKey.UserIDKey. In case of any error during parsing, the error is
// injected under contextKey.JwtErrorKey instead.
//
// The middleware never stops the request itself: it always calls the next
// http.Handler, and it's up to the handlers to interpret the data in the
// request's context and react accordingly.
func jwtMiddleware(signingKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			splitToken := strings.Split(authHeader, "Bearer ")
			if len(splitToken) == 2 {
				token, err := jwt.Parse(splitToken[1], func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return []byte(signingKey), nil
				})
				if err != nil {
					logging.Logger().Debugw("jwt validation failed", "error", err)
					ctx := context.WithValue(r.Context(), contextKey.JwtErrorKey, err)
					r = r.WithContext(ctx)
				} else if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
					ctx := context.WithValue(r.Context(), contextKey.UserIDKey, claims["id"])
					r = r.WithContext(ctx)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware is a middleware function that recovers from panics and provides a generic error message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.Logger().Errorw("panic recovered", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the REST API server. Runs on localhost:8080 by default.
// The function requires a serverURL (the URL where the server must be deployed), the JWT
// signing key, and the wired API.
func Start(serverURL, signingKey string, api *API) error {
	// Initialize a new router
	r := mux.NewRouter()

	// Register the API routes with JWT and recovery middleware around them
	api.RegisterRoutes(r)
	handler := recoveryMiddleware(jwtMiddleware(signingKey, r))

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})

	// Wrap the router with the CORS middleware
	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(handler)

	// Apply the logging middleware
	loggingRouter := handlers.LoggingHandler(os.Stdout, corsRouter)

	// Parsing the server url
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}

	server := &http.Server{
		Handler:      loggingRouter,
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	return server.ListenAndServe()
}
