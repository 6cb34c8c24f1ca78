package logging

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger is the process-wide logger instance.
var logger *zap.Logger

// Init sets up the logging configuration. Production mode (APP_ENV=production)
// uses the JSON encoder at info level; everything else gets the development
// encoder at debug level.
func Init() {
	var cfg zap.Config

	if os.Getenv("APP_ENV") == "production" {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	var err error
	logger, err = cfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}

// Logger retrieves the process-wide logger, initializing it on first use.
func Logger() *zap.SugaredLogger {
	if logger == nil {
		Init()
	}
	return logger.Sugar()
}
