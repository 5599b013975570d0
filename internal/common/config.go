package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/podcast-tracker/constants"
)

// Config holds all application configuration
type Config struct {
	API      APIConfig
	Upload   UploadConfig
	Poll     PollConfig
	Auth     AuthConfig
	Database DatabaseConfig
	Push     PushConfig
	Server   ServerConfig
	Dev      DevConfig
}

// APIConfig holds the job-processing backend location
type APIConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

// UploadConfig holds local validation limits for uploads
type UploadConfig struct {
	MaxBytes     int64
	AllowedTypes []string
}

// PollConfig holds status reconciliation tuning
type PollConfig struct {
	Interval    time.Duration
	Concurrency int
}

// AuthConfig holds where bearer tokens come from
type AuthConfig struct {
	Token     string
	TokenFile string
}

// DatabaseConfig holds job journal configuration
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// PushConfig holds the optional NATS status channel
type PushConfig struct {
	NATSURL string
	Subject string
}

// ServerConfig holds daemon-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// DevConfig holds development backend configuration
type DevConfig struct {
	Addr      string
	JWTSecret string
	JobLimit  int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     strings.TrimRight(getEnv("API_URL", "http://localhost:8000"), "/"),
			HTTPTimeout: getEnvAsDuration("API_HTTP_TIMEOUT", 30*time.Second),
		},
		Upload: UploadConfig{
			MaxBytes:     getEnvAsInt64("UPLOAD_MAX_BYTES", constants.DefaultMaxUploadBytes),
			AllowedTypes: getEnvAsList("UPLOAD_ALLOWED_TYPES", []string{constants.ContentTypePDF}),
		},
		Poll: PollConfig{
			Interval:    getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			Concurrency: getEnvAsInt("POLL_CONCURRENCY", 8),
		},
		Auth: AuthConfig{
			Token:     getEnv("ACCESS_TOKEN", ""),
			TokenFile: getEnv("ACCESS_TOKEN_FILE", ""),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", "file:podcast-tracker.db"),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 4),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Push: PushConfig{
			NATSURL: getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "podcasts.status"),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8081"),
		},
		Dev: DevConfig{
			Addr:      getEnv("DEV_ADDR", ":8000"),
			JWTSecret: getEnv("DEV_JWT_SECRET", "dev-secret"),
			JobLimit:  getEnvAsInt("DEV_JOB_LIMIT", 0),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return NewAppError(CodeConfig, "API_URL is required", ErrInvalidInput)
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return NewAppError(CodeConfig, "API_URL must be an http(s) URL", ErrInvalidInput)
	}
	if c.Upload.MaxBytes <= 0 {
		return NewAppError(CodeConfig, "UPLOAD_MAX_BYTES must be positive", ErrInvalidInput)
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return NewAppError(CodeConfig, "UPLOAD_ALLOWED_TYPES must not be empty", ErrInvalidInput)
	}
	if c.Poll.Interval <= 0 {
		return NewAppError(CodeConfig, "POLL_INTERVAL must be positive", ErrInvalidInput)
	}
	if c.Poll.Concurrency <= 0 {
		return NewAppError(CodeConfig, "POLL_CONCURRENCY must be positive", ErrInvalidInput)
	}
	return nil
}

// AllowedTypeSet returns the configured upload types as a lookup set.
func (c UploadConfig) AllowedTypeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AllowedTypes))
	for _, t := range c.AllowedTypes {
		set[constants.NormalizeContentType(t)] = struct{}{}
	}
	return set
}
