package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration, loaded from environment
// variables (optionally seeded from a .env file in development).
type Config struct {
	Environment string

	Server     ServerConfig
	Scylla     ScyllaConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Auth       AuthConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type ScyllaConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
	// InMemory switches the store family to the in-process implementation.
	// Used for local development and tests; never in production.
	InMemory bool
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	Enabled  bool
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	Enabled    bool
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
	Enabled  bool
}

// AuthConfig carries every tunable of the identity subsystem. Defaults match
// the documented behavior: 5 minute OTPs, 6 digits, 15 minute access tokens,
// 24 hour stale-session threshold.
type AuthConfig struct {
	JWTSecret          string
	AccessTokenTTL     time.Duration
	PreAuthTokenTTL    time.Duration
	RefreshTokenTTL    time.Duration
	OTPTTL             time.Duration
	OTPLength          int
	SessionMaxAgeHours int
	BCryptCost         int

	LoginRateMax        int
	LoginRateWindow     time.Duration
	RegisterRateMax     int
	RegisterRateWindow  time.Duration
	ResetRateMax        int
	ResetRateWindow     time.Duration
	AnalyticsRateMax    int
	AnalyticsRateWindow time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment. A missing .env file is
// not an error; container deployments inject variables directly.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Scylla: ScyllaConfig{
			Hosts:       getEnvSlice("SCYLLA_HOSTS", []string{"127.0.0.1:9042"}),
			Keyspace:    getEnv("SCYLLA_KEYSPACE", "identity"),
			Consistency: getEnv("SCYLLA_CONSISTENCY", "quorum"),
			Timeout:     getEnvDuration("SCYLLA_TIMEOUT", 5*time.Second),
			InMemory:    getEnvBool("STORE_IN_MEMORY", false),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvSlice("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "identity.audit"),
			Enabled:    getEnvBool("KAFKA_ENABLED", false),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "127.0.0.1:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "identity"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			AccessTokenTTL:      getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			PreAuthTokenTTL:     getEnvDuration("PRE_AUTH_TOKEN_TTL", 5*time.Minute),
			RefreshTokenTTL:     getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			OTPTTL:              getEnvDuration("OTP_TTL", 5*time.Minute),
			OTPLength:           getEnvInt("OTP_LENGTH", 6),
			SessionMaxAgeHours:  getEnvInt("SESSION_MAX_AGE_HOURS", 24),
			BCryptCost:          getEnvInt("BCRYPT_COST", 12),
			LoginRateMax:        getEnvInt("LOGIN_RATE_MAX", 10),
			LoginRateWindow:     getEnvDuration("LOGIN_RATE_WINDOW", time.Minute),
			RegisterRateMax:     getEnvInt("REGISTER_RATE_MAX", 10),
			RegisterRateWindow:  getEnvDuration("REGISTER_RATE_WINDOW", time.Minute),
			ResetRateMax:        getEnvInt("RESET_RATE_MAX", 10),
			ResetRateWindow:     getEnvDuration("RESET_RATE_WINDOW", time.Minute),
			AnalyticsRateMax:    getEnvInt("ANALYTICS_RATE_MAX", 30),
			AnalyticsRateWindow: getEnvDuration("ANALYTICS_RATE_WINDOW", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.OTPLength < 4 || c.Auth.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.Auth.OTPLength)
	}
	if !c.Scylla.InMemory && len(c.Scylla.Hosts) == 0 {
		return fmt.Errorf("SCYLLA_HOSTS is required when the durable store is enabled")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
