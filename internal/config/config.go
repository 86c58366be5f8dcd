package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string
	RedisURL   string

	// JWTSecret verifies tokens issued by the external auth service.
	JWTSecret string

	// ExamAPIBaseURL and ExamAPIToken reach the external session/grading
	// collaborator that owns all durable state.
	ExamAPIBaseURL string
	ExamAPIToken   string
	ExamAPITimeout time.Duration

	// Engine tuning. Every wait in the engine is bounded by one of these.
	AutosaveDebounce    time.Duration
	AutosaveMaxAttempts int
	AutosaveBaseDelay   time.Duration
	SubmitMaxAttempts   int
	SubmitBaseDelay     time.Duration
	FlushTimeout        time.Duration
	DriftTolerance      time.Duration

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		GinMode:             getEnv("GIN_MODE", "debug"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "pretty"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:           getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		ExamAPIBaseURL:      getEnv("EXAM_API_BASE_URL", "http://localhost:9090"),
		ExamAPIToken:        getEnv("EXAM_API_TOKEN", ""),
		ExamAPITimeout:      getEnvDuration("EXAM_API_TIMEOUT", 15*time.Second),
		AutosaveDebounce:    getEnvDuration("AUTOSAVE_DEBOUNCE", 750*time.Millisecond),
		AutosaveMaxAttempts: getEnvInt("AUTOSAVE_MAX_ATTEMPTS", 5),
		AutosaveBaseDelay:   getEnvDuration("AUTOSAVE_BASE_DELAY", 500*time.Millisecond),
		SubmitMaxAttempts:   getEnvInt("SUBMIT_MAX_ATTEMPTS", 4),
		SubmitBaseDelay:     getEnvDuration("SUBMIT_BASE_DELAY", time.Second),
		FlushTimeout:        getEnvDuration("FLUSH_TIMEOUT", 10*time.Second),
		DriftTolerance:      getEnvDuration("DRIFT_TOLERANCE", 2*time.Second),
		AllowedOrigins:      parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
