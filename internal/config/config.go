// Package config loads runtime configuration from the environment, with
// an optional .env file for development.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	// Trusted header the auth proxy sets with the verified user ID.
	IdentityHeader string

	// Web push.
	VAPIDPublicKey  string
	VAPIDPrivateKey string

	// Calendar bridge.
	CalendarBaseURL string
	CalendarTimeout time.Duration

	// Sync engine.
	SyncInterval        time.Duration
	SyncMaxRetries      int
	SyncRetryBase       time.Duration
	ResolverGranularity time.Duration

	// Hospital slot watching.
	HospitalBaseURL    string
	HospitalAPIKey     string
	WebhookSecret      string
	WatchPollInterval  time.Duration
	WatchDedupWindow   time.Duration
	WatchRateLimit     int
	WatchRateWindow    time.Duration
	WatchFailureBudget int
	WatchInactiveAfter time.Duration
}

// Load reads configuration values and prepares defaults where applicable.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getenvDefault("HOPELINK_PORT", "8080"),
		DBPath:         getenvDefault("HOPELINK_DB_PATH", "hopelink.db"),
		LogLevel:       getenvDefault("HOPELINK_LOG_LEVEL", "info"),
		LogFormat:      getenvDefault("HOPELINK_LOG_FORMAT", "text"),
		IdentityHeader: getenvDefault("HOPELINK_IDENTITY_HEADER", "X-User-ID"),

		VAPIDPublicKey:  os.Getenv("HOPELINK_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("HOPELINK_VAPID_PRIVATE_KEY"),

		CalendarBaseURL: getenvDefault("HOPELINK_CALENDAR_URL", "http://localhost:8090"),
		CalendarTimeout: durationEnv("HOPELINK_CALENDAR_TIMEOUT", 15*time.Second),

		SyncInterval:        durationEnv("HOPELINK_SYNC_INTERVAL", 5*time.Minute),
		SyncMaxRetries:      intEnv("HOPELINK_SYNC_MAX_RETRIES", 3),
		SyncRetryBase:       durationEnv("HOPELINK_SYNC_RETRY_BASE", 500*time.Millisecond),
		ResolverGranularity: durationEnv("HOPELINK_RESOLVER_GRANULARITY", time.Second),

		HospitalBaseURL:    getenvDefault("HOPELINK_HOSPITAL_URL", "http://localhost:8091"),
		HospitalAPIKey:     os.Getenv("HOPELINK_HOSPITAL_API_KEY"),
		WebhookSecret:      os.Getenv("HOPELINK_WEBHOOK_SECRET"),
		WatchPollInterval:  durationEnv("HOPELINK_WATCH_POLL_INTERVAL", 2*time.Minute),
		WatchDedupWindow:   durationEnv("HOPELINK_WATCH_DEDUP_WINDOW", 6*time.Hour),
		WatchRateLimit:     intEnv("HOPELINK_WATCH_RATE_LIMIT", 5),
		WatchRateWindow:    durationEnv("HOPELINK_WATCH_RATE_WINDOW", 10*time.Minute),
		WatchFailureBudget: intEnv("HOPELINK_WATCH_FAILURE_BUDGET", 5),
		WatchInactiveAfter: durationEnv("HOPELINK_WATCH_INACTIVE_AFTER", 30*24*time.Hour),
	}
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

func intEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}

func durationEnv(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as duration: %v", key, value, err)
		return def
	}
	return parsed
}
