package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the service logger. Level comes from LOG_LEVEL, the
// formatter switches to JSON when ENVIRONMENT=production.
func NewLogger(service string) *logrus.Logger {
	logger := logrus.New()

	switch os.Getenv("LOG_LEVEL") {
	case "trace":
		logger.SetLevel(logrus.TraceLevel)
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if os.Getenv("ENVIRONMENT") == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logger.WithField("service", service).Debug("Logger initialized")
	return logger
}
