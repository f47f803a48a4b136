package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Backend API configuration
	APIBaseURL string
	APITimeout time.Duration
	CinemaID   string

	// Payment confirmation configuration
	PollInterval     time.Duration
	ConfirmWindow    time.Duration
	CountdownTick    time.Duration
	IntentRetryMax   int
	IntentRetryDelay time.Duration

	// Local store configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub payment notification configuration
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubCipherKey    string
	PubNubChannel      string
	PubNubUserID       string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Backend
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:3000/api/v1"),
		APITimeout: getEnvAsDuration("API_TIMEOUT", "10s"),
		CinemaID:   getEnv("CINEMA_ID", ""),

		// Confirmation flow
		PollInterval:     getEnvAsDuration("CONFIRM_POLL_INTERVAL", "5s"),
		ConfirmWindow:    getEnvAsDuration("CONFIRM_WINDOW", "2m"),
		CountdownTick:    getEnvAsDuration("COUNTDOWN_TICK", "1s"),
		IntentRetryMax:   getEnvAsInt("INTENT_RETRY_MAX", 2),
		IntentRetryDelay: getEnvAsDuration("INTENT_RETRY_DELAY", "1500ms"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubCipherKey:    getEnv("PUBNUB_CIPHER_KEY", ""),
		PubNubChannel:      getEnv("PUBNUB_CHANNEL", "payment-notifications"),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "cinema-checkout"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", false),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
