package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers     []string
	InteractiveTopic string
	BulkTopic        string
	WorkerGroup      string

	StoragePath    string
	StorageBaseURL string
	PresignSecret  string
	PresignTTL     time.Duration

	StreamPollInterval time.Duration
	StreamMaxDuration  time.Duration

	MonthlyQuota int

	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. A .env file is honored in development.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		InteractiveTopic: getEnv("KAFKA_TOPIC_INTERACTIVE", "jobs.interactive"),
		BulkTopic:        getEnv("KAFKA_TOPIC_BULK", "jobs.bulk"),
		WorkerGroup:      getEnv("KAFKA_WORKER_GROUP", "iris-workers"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/v1/files"),
		PresignSecret:  os.Getenv("PRESIGN_SECRET"),
		PresignTTL:     time.Second * time.Duration(getEnvInt("PRESIGN_TTL_SECONDS", 3600)),

		StreamPollInterval: time.Millisecond * time.Duration(getEnvInt("STREAM_POLL_INTERVAL_MS", 500)),
		StreamMaxDuration:  time.Second * time.Duration(getEnvInt("STREAM_MAX_SECONDS", 600)),

		MonthlyQuota: getEnvInt("MONTHLY_GENERATION_QUOTA", 3),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PresignSecret == "" {
		cfg.PresignSecret = cfg.JWTSecret
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
