package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL string

	APIPort   string
	JWTSecret string

	WorkerID            string
	PollIntervalSeconds int

	RedisAddr     string
	RedisPassword string

	EtcdEndpoints []string

	SolverTimeLimitSeconds int
	StaleLockMinutes       int

	AutoTriggerCron string
	// Orgs the cron trigger schedules for, comma separated UUIDs.
	AutoTriggerOrgs []string

	ArchiveBucket   string
	ArchiveRegion   string
	ArchiveEndpoint string
	ArchivePrefix   string

	OTLPEndpoint   string
	TracingEnabled bool

	LogLevel string
}

// LoadConfig reads configuration from the environment. DATABASE_URL is the
// only required variable; everything else has a working local default.
func LoadConfig() (*Config, error) {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		DatabaseURL: dbURL,

		APIPort:   getEnv("API_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		WorkerID:            getEnv("WORKER_ID", "worker-1"),
		PollIntervalSeconds: getEnvAsInt("POLL_INTERVAL_SECONDS", 2),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		EtcdEndpoints: splitList(getEnv("ETCD_ENDPOINTS", "")),

		SolverTimeLimitSeconds: getEnvAsInt("SOLVER_TIME_LIMIT_SECONDS", 30),
		StaleLockMinutes:       getEnvAsInt("STALE_LOCK_MINUTES", 10),

		AutoTriggerCron: getEnv("AUTO_TRIGGER_CRON", ""),
		AutoTriggerOrgs: splitList(getEnv("AUTO_TRIGGER_ORGS", "")),

		ArchiveBucket:   getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveRegion:   getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveEndpoint: getEnv("ARCHIVE_S3_ENDPOINT", ""),
		ArchivePrefix:   getEnv("ARCHIVE_S3_PREFIX", "schedule-runs"),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
