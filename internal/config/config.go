package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// NATS (presence events; disabled when empty)
	NatsURL string

	// JWT
	JWTSecret string

	// Presence
	ReaperInterval    time.Duration
	HeartbeatInterval time.Duration
	PresenceTimezone  string

	// WebSocket
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Storage
	StorageType   string
	StoragePath   string
	PublicBaseURL string
	MaxUploadMB   int

	// S3
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3PublicURL    string

	// Tracing
	OtelEndpoint string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	port := getEnvOrDefault("PORT", "8080")

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefault("ENV", "development"),
		DatabaseURL:       mustGetEnv("DATABASE_URL"),
		RedisURL:          mustGetEnv("REDIS_URL"),
		NatsURL:           getEnvOrDefault("NATS_URL", ""),
		JWTSecret:         mustGetEnv("JWT_SECRET"),
		ReaperInterval:    getEnvAsDurationOrDefault("REAPER_INTERVAL", time.Hour),
		HeartbeatInterval: getEnvAsDurationOrDefault("HEARTBEAT_INTERVAL", 30*time.Second),
		PresenceTimezone:  getEnvOrDefault("PRESENCE_TIMEZONE", "Local"),
		WSPingInterval:    getEnvAsDurationOrDefault("WS_PING_INTERVAL", 25*time.Second),
		WSWriteTimeout:    getEnvAsDurationOrDefault("WS_WRITE_TIMEOUT", 10*time.Second),
		StorageType:       strings.ToLower(getEnvOrDefault("STORAGE_TYPE", "local")),
		StoragePath:       getEnvOrDefault("STORAGE_PATH", "./uploads"),
		PublicBaseURL:     getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:"+port),
		MaxUploadMB:       getEnvAsIntOrDefault("MAX_UPLOAD_MB", 25),
		S3Endpoint:        getEnvOrDefault("S3_ENDPOINT", ""),
		S3Region:          getEnvOrDefault("AWS_REGION", "us-east-1"),
		S3Bucket:          getEnvOrDefault("S3_BUCKET_NAME", ""),
		S3AccessKey:       getEnvOrDefault("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:       getEnvOrDefault("AWS_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:    getEnvAsBoolOrDefault("S3_USE_PATH_STYLE", false),
		S3PublicURL:       getEnvOrDefault("S3_PUBLIC_URL", ""),
		OtelEndpoint:      getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		FrontendURL:       getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.StorageType {
	case "local":
		if c.StoragePath == "" {
			return errors.New("STORAGE_PATH must be set for local storage")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET_NAME must be set for s3 storage")
		}
		if c.S3PublicURL == "" {
			return errors.New("S3_PUBLIC_URL must be set for s3 storage")
		}
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q: must be 'local' or 's3'", c.StorageType)
	}

	if c.ReaperInterval < time.Minute {
		return errors.New("REAPER_INTERVAL must be at least 1m")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if c.WSPingInterval <= 0 || c.WSWriteTimeout <= 0 {
		return errors.New("websocket ping interval and write timeout must be positive")
	}
	if c.MaxUploadMB < 1 {
		return errors.New("MAX_UPLOAD_MB must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid PRESENCE_TIMEZONE: %w", err)
	}

	return nil
}

// Location resolves the zone in which a trainer's calendar day is computed.
func (c *Config) Location() (*time.Location, error) {
	if c.PresenceTimezone == "" || c.PresenceTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.PresenceTimezone)
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
