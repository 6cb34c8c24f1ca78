package backend

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jghoshh/ritmo/backend/habits"
	"github.com/jghoshh/ritmo/backend/queue"
	"github.com/jghoshh/ritmo/backend/scheduler"
	"github.com/jghoshh/ritmo/backend/server"
	"github.com/jghoshh/ritmo/backend/server/auth"
	"github.com/jghoshh/ritmo/backend/server/notifications/email"
	storage "github.com/jghoshh/ritmo/backend/storage/persistent"
	"github.com/jghoshh/ritmo/lib/logging"
	"github.com/joho/godotenv"
)

// RunBackend is the main function that sets up and runs the backend server:
// storage, the notification queue and its workers, the scheduler loops, and
// the HTTP API.
func RunBackend() {

	// Load the .env file.
	err := godotenv.Load("backend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	logging.Init()
	log := logging.Logger()

	// Read the environment variables from the .env file using os.Getenv.
	signingKey := os.Getenv("JWT_SIGNING_KEY") // JWT signing key for token generation
	serverURL := os.Getenv("SERVER_URL")       // The URL where the server is running
	dbURI := os.Getenv("MONGODB_URI")          // MongoDB database URI
	dbName := os.Getenv("DB_NAME")             // The name of the MongoDB database
	smtpEmail := os.Getenv("GOOGLE_EMAIL")     // The email address used for sending notifications
	smtpPassword := os.Getenv("GOOGLE_PASS")   // The password for the email account
	redisURL := os.Getenv("REDIS_URL")         // The Redis URL backing task dedup and retry counters
	rabbitMQURL := os.Getenv("RABBITMQ_URL")   // The URL for the RabbitMQ message broker
	numTaskProducers := 1
	numTaskConsumers := 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the persistent storage backend.
	store, err := storage.NewStorage(dbName, dbURI)
	if err != nil {
		log.Fatalw("error initializing storage", "error", err)
	}

	// Initialize the email service with the sender credentials.
	mailer, err := email.InitEmailService(smtpEmail, smtpPassword)
	if err != nil {
		log.Fatalw("error initializing email service", "error", err)
	}

	// Initialize the task cache using the Redis URL.
	taskCache, err := queue.InitTaskCache(redisURL)
	if err != nil {
		log.Fatalw("error initializing task cache", "error", err)
	}

	// Build the notification queue and start its consumer workers.
	runner := queue.NewTaskRunner(store, mailer, log)
	taskQueue := queue.BuildNotificationQueue(rabbitMQURL, numTaskProducers, numTaskConsumers, taskCache, runner, log)
	if _, err := taskQueue.StartConsumers(ctx); err != nil {
		log.Fatalw("error starting queue consumers", "error", err)
	}

	// Wire the scheduler loops on top of storage and the queue.
	enqueuer := queue.NewEnqueuer(taskQueue)
	dispatcher := scheduler.NewDispatcher(store, enqueuer, log)
	monitor := scheduler.NewFollowupMonitor(store, enqueuer, log)
	scheduler.NewRunner(dispatcher, monitor, log).Start(ctx)

	// Initialize the authentication service.
	auth.InitAuth(store, signingKey)

	// Start the HTTP API.
	recorder := habits.NewRecorder(store, log)
	api := server.NewAPI(store, recorder, dispatcher, monitor, log)
	go func() {
		if err := server.Start(serverURL, signingKey, api); err != nil {
			log.Fatalw("server stopped", "error", err)
		}
	}()

	// Setting up the signal interrupt handler to gracefully shut down.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	log.Infow("shutting down", "signal", sig.String())
	cancel()
	if err := store.Disconnect(); err != nil {
		log.Errorw("error disconnecting storage", "error", err)
	}
	if err := taskCache.Disconnect(); err != nil {
		log.Errorw("error disconnecting cache", "error", err)
	}
}
