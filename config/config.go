package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	Provider ProviderConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/tutorhall?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// SessionConfig governs the live-session lifecycle: watchdog bounds,
// polling cadence and completion-cache retention.
type SessionConfig struct {
	// MaxDuration caps how long a session may stay active without an end
	// signal before the watchdog forces it to ended.
	MaxDuration time.Duration
	// HeartbeatInterval is how often the host is expected to refresh liveness.
	HeartbeatInterval time.Duration
	// MissedHeartbeatLimit is how many consecutive stale probes end a session.
	MissedHeartbeatLimit int
	// WatchdogInterval is the cadence of the server-side liveness sweep.
	WatchdogInterval time.Duration
	// PollInterval is the client polling cadence; GetCurrent also uses it as
	// the ended-grace window for pollers that do not identify a tab.
	PollInterval time.Duration
	// CompletionTTL is the retention window of the completion cache.
	CompletionTTL time.Duration
}

// ProviderConfig holds the external meeting provider settings.
type ProviderConfig struct {
	BaseURL       string // empty = static join links (local/dev)
	APIKey        string
	JoinURLFormat string // used by the static provider, e.g. https://meet.example.com/%s
	Timeout       time.Duration
}

// AWSConfig holds AWS credentials and the replay artifact bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ReplaysBucket        string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/tutorhall?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "tutorhall"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Session: SessionConfig{
			MaxDuration:          getEnvDuration("SESSION_MAX_DURATION", 4*time.Hour),
			HeartbeatInterval:    getEnvDuration("SESSION_HEARTBEAT_INTERVAL", 30*time.Second),
			MissedHeartbeatLimit: getEnvInt("SESSION_MISSED_HEARTBEAT_LIMIT", 4),
			WatchdogInterval:     getEnvDuration("SESSION_WATCHDOG_INTERVAL", 15*time.Second),
			PollInterval:         getEnvDuration("SESSION_POLL_INTERVAL", 3*time.Second),
			CompletionTTL:        getEnvDuration("SESSION_COMPLETION_TTL", 5*time.Minute),
		},
		Provider: ProviderConfig{
			BaseURL:       getEnv("MEETING_PROVIDER_URL", ""),
			APIKey:        getEnv("MEETING_PROVIDER_API_KEY", ""),
			JoinURLFormat: getEnv("MEETING_JOIN_URL_FORMAT", "https://meet.tutorhall.dev/%s"),
			Timeout:       getEnvDuration("MEETING_PROVIDER_TIMEOUT", 10*time.Second),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReplaysBucket:        getEnv("AWS_S3_REPLAYS_BUCKET", "tutorhall-replays"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}
