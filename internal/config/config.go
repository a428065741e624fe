package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Invitation    InvitationConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// RuntimeRole is assumed with SET ROLE by the server and worker. It
	// must not own the tenant tables or bypass row-level security.
	RuntimeRole string
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// RedisConfig holds the redis connection used by the domain cache and the
// notification queue.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DomainTTL    time.Duration
	CacheEnabled bool
}

// AuthConfig holds bearer token configuration
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// InvitationConfig holds invitation ledger configuration
type InvitationConfig struct {
	FrontendBaseURL string
	DefaultTTL      time.Duration
	SweepSchedule   string
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	Concurrency int
	Queue       string
	MaxRetry    int
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string
	OTELEnabled       bool
	PrometheusEnabled bool
	ServiceName       string
	ServiceVersion    string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Argon2Memory       uint32
	Argon2Iterations   uint32
	Argon2Parallelism  uint8
	Argon2SaltLength   uint32
	Argon2KeyLength    uint32
	LockoutMaxAttempts int
	LockoutDuration    time.Duration
	// BootstrapSuperuserEmail names an existing user promoted to superuser
	// at startup when no superuser exists yet.
	BootstrapSuperuserEmail string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:   parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:    parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout: parseDuration("SERVER_REQUEST_TIMEOUT", "30s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "tenancy"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "tenancy"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
			RuntimeRole:     getEnv("DB_RUNTIME_ROLE", "tenancy_app"),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           parseInt("REDIS_DB", 0),
			DomainTTL:    parseDuration("REDIS_DOMAIN_TTL", "5m"),
			CacheEnabled: parseBool("REDIS_CACHE_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_ISSUER", "tenancy"),
			TokenTTL:  parseDuration("AUTH_TOKEN_TTL", "1h"),
		},
		Invitation: InvitationConfig{
			FrontendBaseURL: getEnv("FRONTEND_BASE_URL", "localhost:3000"),
			DefaultTTL:      parseDuration("INVITATION_DEFAULT_TTL", "168h"),
			SweepSchedule:   getEnv("INVITATION_SWEEP_SCHEDULE", "@every 15m"),
		},
		Worker: WorkerConfig{
			Concurrency: parseInt("WORKER_CONCURRENCY", 10),
			Queue:       getEnv("WORKER_QUEUE", "notifications"),
			MaxRetry:    parseInt("WORKER_MAX_RETRY", 5),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			OTELEnabled:       parseBool("OTEL_ENABLED", false),
			PrometheusEnabled: parseBool("PROMETHEUS_ENABLED", true),
			ServiceName:       getEnv("OTEL_SERVICE_NAME", "tenancy"),
			ServiceVersion:    getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		Security: SecurityConfig{
			Argon2Memory:            uint32(parseInt("ARGON2_MEMORY", 65536)),
			Argon2Iterations:        uint32(parseInt("ARGON2_ITERATIONS", 3)),
			Argon2Parallelism:       uint8(parseInt("ARGON2_PARALLELISM", 4)),
			Argon2SaltLength:        uint32(parseInt("ARGON2_SALT_LENGTH", 16)),
			Argon2KeyLength:         uint32(parseInt("ARGON2_KEY_LENGTH", 32)),
			LockoutMaxAttempts:      parseInt("SECURITY_LOCKOUT_MAX_ATTEMPTS", 5),
			LockoutDuration:         parseDuration("SECURITY_LOCKOUT_DURATION", "15m"),
			BootstrapSuperuserEmail: getEnv("BOOTSTRAP_SUPERUSER_EMAIL", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}
	if c.Database.RuntimeRole != "" && c.Database.RuntimeRole == c.Database.User {
		errs = append(errs, errors.New("DB_RUNTIME_ROLE must differ from DB_USER, which owns the schema"))
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must be at least 32 characters"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_TOKEN_TTL must be positive"))
	}
	if c.Invitation.DefaultTTL <= 0 {
		errs = append(errs, errors.New("INVITATION_DEFAULT_TTL must be positive"))
	}
	if c.Invitation.FrontendBaseURL == "" {
		errs = append(errs, errors.New("FRONTEND_BASE_URL is required"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
