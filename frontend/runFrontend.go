package frontend

import (
	"fmt"
	"os"

	"github.com/jghoshh/ritmo/frontend/client"
	"github.com/jghoshh/ritmo/frontend/cmd"
	"github.com/joho/godotenv"
)

// RunFrontend wires up the REST client and starts the interactive shell.
func RunFrontend() {
	// Load the .env file
	err := godotenv.Load("frontend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables
	signingKey := os.Getenv("JWT_SIGNING_KEY")
	authToken := os.Getenv("AUTH_TOKEN")
	authTokenRefresh := os.Getenv("AUTH_TOKEN_REFRESH")
	serverURL := os.Getenv("SERVER_URL")

	if authToken == "" {
		authToken = "ritmo_auth_token"
	}
	if authTokenRefresh == "" {
		authTokenRefresh = "ritmo_auth_token_refresh"
	}

	client.InitClient(serverURL, signingKey, authToken, authTokenRefresh)
	cmd.InitCommands()
	cmd.Execute()
}
