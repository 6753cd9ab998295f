package logger

import (
	"os"
	"strings"
	"time"

	"study_engagement_bot/internal/infra/config"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Components derive their own tagged entries
// from it via WithField("component", ...).
var Log = logrus.New()

// Init configures the global logger from the application configuration. An
// unknown LOG_LEVEL falls back to info rather than failing startup.
func Init(cfg *config.AppConfig) {
	Log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
		Log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}
	Log.SetLevel(level)

	switch cfg.Environment {
	case "production", "staging":
		// Machine-readable lines for log shipping.
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	Log.WithField("environment", cfg.Environment).Debug("Logger configured")
}

// Get returns the configured global logger.
func Get() *logrus.Logger {
	return Log
}
