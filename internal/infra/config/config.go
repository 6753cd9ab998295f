package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken    string
	StoreDriver      string // "postgres" or "redis"
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	HTTPListenAddr   string
	StudyTimezone    *time.Location
	Thresholds       []int // milestone active-day counts, ascending
	QuestionBatch    int
	CronSpecPrompt   string
	DailyPromptText  string
	FinalSurveyURL   string
	SchedulingURL    string
	SurveyBaseURL    string
	LogLevel         string
	Environment      string
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.StoreDriver = strings.ToLower(os.Getenv("STORE_DRIVER"))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreDriverRedis:
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %s", cfg.StoreDriver)
	}

	cfg.HTTPListenAddr = os.Getenv("HTTP_LISTEN_ADDR")
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = ":8080"
	}

	tzName := os.Getenv("STUDY_TIMEZONE")
	if tzName == "" {
		tzName = "UTC" // the original study counted days in UTC
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid STUDY_TIMEZONE %q: %w", tzName, err)
	}
	cfg.StudyTimezone = loc

	cfg.Thresholds, err = parseThresholds(os.Getenv("MILESTONE_THRESHOLDS"))
	if err != nil {
		return nil, err
	}

	batchStr := os.Getenv("QUESTION_BATCH_SIZE")
	if batchStr == "" {
		cfg.QuestionBatch = 5
	} else {
		cfg.QuestionBatch, err = strconv.Atoi(batchStr)
		if err != nil || cfg.QuestionBatch <= 0 {
			return nil, fmt.Errorf("invalid QUESTION_BATCH_SIZE: %s", batchStr)
		}
	}

	cfg.CronSpecPrompt = os.Getenv("CRON_SPEC_DAILY_PROMPT")
	if cfg.CronSpecPrompt == "" {
		cfg.CronSpecPrompt = "0 18 * * *" // Default: 18:00 daily
	}

	cfg.DailyPromptText = os.Getenv("DAILY_PROMPT_TEXT")
	if cfg.DailyPromptText == "" {
		cfg.DailyPromptText = "Time for today's check-in! Open the study app to record your activity."
	}

	cfg.FinalSurveyURL = os.Getenv("FINAL_SURVEY_URL")
	cfg.SchedulingURL = os.Getenv("SCHEDULING_URL")
	cfg.SurveyBaseURL = os.Getenv("SURVEY_BASE_URL")

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	return cfg, nil
}

// parseThresholds parses a comma-separated threshold list, e.g. "7,14".
// Thresholds must be positive and strictly ascending.
func parseThresholds(raw string) ([]int, error) {
	if raw == "" {
		return []int{7, 14}, nil
	}
	parts := strings.Split(raw, ",")
	thresholds := make([]int, 0, len(parts))
	prev := 0
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid MILESTONE_THRESHOLDS entry %q: %w", p, err)
		}
		if v <= prev {
			return nil, fmt.Errorf("MILESTONE_THRESHOLDS must be positive and strictly ascending, got %q", raw)
		}
		thresholds = append(thresholds, v)
		prev = v
	}
	return thresholds, nil
}
