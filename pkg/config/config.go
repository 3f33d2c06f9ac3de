package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Environment name; "development" exposes internal error detail
	Environment string

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Mail          MailConfig
	RateLimit     RateLimitConfig
	Maintenance   MaintenanceConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// TrustedProxies are the CIDRs (or bare addresses) of reverse proxies
	// whose forwarding headers are honoured when resolving the client IP
	TrustedProxies []string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	PrimaryURL      string
	ReplicaURLs     []string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

// RedisConfig holds the optional Redis connection used by the distributed limiter
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// Enabled reports whether a Redis URL was configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds token, session and credential settings
type AuthConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration

	RequireEmailVerification bool

	// FrontendOrigin is the base of reset links and the allowed CORS origin
	FrontendOrigin string
}

// MailConfig selects and configures the outbound mail provider
type MailConfig struct {
	Provider       string // log or sendgrid
	SendGridAPIKey string
	FromAddress    string
	FromName       string

	// Background delivery pool
	Workers   int
	QueueSize int
}

// RateLimitConfig holds per-IP request budgets
type RateLimitConfig struct {
	APIRequests          int
	APIWindow            time.Duration
	LoginAttempts        int
	LoginWindow          time.Duration
	ResetRequests        int
	ResetWindow          time.Duration
	VerificationRequests int
	VerificationWindow   time.Duration
	LRUSize              int
}

// MaintenanceConfig holds the cron schedules and the audit archive target
type MaintenanceConfig struct {
	ResetPurgeSchedule   string
	SessionSweepSchedule string
	DBHealthSchedule     string

	ArchiveEnabled  bool
	ArchiveSchedule string
	S3              S3Config
}

// S3Config holds the audit archive bucket settings
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("GATEKEEPER_ENV", "production"),
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Mail:          loadMailConfig(),
		RateLimit:     loadRateLimitConfig(),
		Maintenance:   loadMaintenanceConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("GATEKEEPER_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
		TrustedProxies:  getEnvList("GATEKEEPER_TRUSTED_PROXIES"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PrimaryURL:      getEnv("GATEKEEPER_DATABASE_URL", ""),
		ReplicaURLs:     getEnvList("GATEKEEPER_DATABASE_REPLICA_URLS"),
		MaxOpenConns:    getEnvInt("GATEKEEPER_DATABASE_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("GATEKEEPER_DATABASE_MIN_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GATEKEEPER_DATABASE_CONN_LIFETIME", 5*time.Minute),
		Timeout:         getEnvDuration("GATEKEEPER_DATABASE_TIMEOUT", 5*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("GATEKEEPER_REDIS_URL", ""),
		Password:   getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GATEKEEPER_REDIS_DB", 0),
		PoolSize:   getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 3),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		AccessSecret:             getEnv("GATEKEEPER_JWT_SECRET", ""),
		RefreshSecret:            getEnv("GATEKEEPER_JWT_REFRESH_SECRET", ""),
		AccessTTL:                getEnvDuration("GATEKEEPER_ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTTL:               getEnvDuration("GATEKEEPER_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ResetTTL:                 getEnvDuration("GATEKEEPER_RESET_TOKEN_TTL", time.Hour),
		RequireEmailVerification: getEnvBool("GATEKEEPER_REQUIRE_EMAIL_VERIFICATION", true),
		FrontendOrigin:           strings.TrimRight(getEnv("GATEKEEPER_FRONTEND_URL", "http://localhost:5173"), "/"),
	}
}

func loadMailConfig() MailConfig {
	return MailConfig{
		Provider:       strings.ToLower(getEnv("GATEKEEPER_MAIL_PROVIDER", "log")),
		SendGridAPIKey: getEnv("GATEKEEPER_SENDGRID_API_KEY", ""),
		FromAddress:    getEnv("GATEKEEPER_MAIL_FROM", "no-reply@localhost"),
		FromName:       getEnv("GATEKEEPER_MAIL_FROM_NAME", "Gatekeeper"),
		Workers:        getEnvInt("GATEKEEPER_MAIL_WORKERS", 4),
		QueueSize:      getEnvInt("GATEKEEPER_MAIL_QUEUE_SIZE", 100),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		APIRequests:          getEnvInt("GATEKEEPER_RATE_LIMIT_API", 100),
		APIWindow:            getEnvDuration("GATEKEEPER_RATE_LIMIT_API_WINDOW", time.Minute),
		LoginAttempts:        getEnvInt("GATEKEEPER_RATE_LIMIT_LOGIN", 5),
		LoginWindow:          getEnvDuration("GATEKEEPER_RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute),
		ResetRequests:        getEnvInt("GATEKEEPER_RATE_LIMIT_RESET", 3),
		ResetWindow:          getEnvDuration("GATEKEEPER_RATE_LIMIT_RESET_WINDOW", time.Hour),
		VerificationRequests: getEnvInt("GATEKEEPER_RATE_LIMIT_VERIFICATION", 2),
		VerificationWindow:   getEnvDuration("GATEKEEPER_RATE_LIMIT_VERIFICATION_WINDOW", time.Hour),
		LRUSize:              getEnvInt("GATEKEEPER_RATE_LIMIT_LRU_SIZE", 10000),
	}
}

func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		ResetPurgeSchedule:   getEnv("GATEKEEPER_RESET_PURGE_SCHEDULE", "@every 1h"),
		SessionSweepSchedule: getEnv("GATEKEEPER_SESSION_SWEEP_SCHEDULE", "@every 1h"),
		DBHealthSchedule:     getEnv("GATEKEEPER_DB_HEALTH_SCHEDULE", "@every 1m"),
		ArchiveEnabled:       getEnvBool("GATEKEEPER_AUDIT_ARCHIVE_ENABLED", false),
		ArchiveSchedule:      getEnv("GATEKEEPER_AUDIT_ARCHIVE_SCHEDULE", "15 0 * * *"),
		S3: S3Config{
			Endpoint:     getEnv("GATEKEEPER_S3_ENDPOINT", ""),
			Region:       getEnv("GATEKEEPER_S3_REGION", "us-east-1"),
			Bucket:       getEnv("GATEKEEPER_S3_BUCKET", ""),
			Prefix:       getEnv("GATEKEEPER_S3_PREFIX", "audit-logs"),
			AccessKey:    getEnv("GATEKEEPER_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("GATEKEEPER_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("GATEKEEPER_S3_USE_PATH_STYLE", false),
		},
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	for _, proxy := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}

	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return fmt.Errorf("both access and refresh token secrets are required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("access and refresh token secrets must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.ResetTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}

	switch c.Mail.Provider {
	case "log":
	case "sendgrid":
		if c.Mail.SendGridAPIKey == "" {
			return fmt.Errorf("SendGrid API key is required for the sendgrid mail provider")
		}
	default:
		return fmt.Errorf("invalid mail provider: %s (must be log or sendgrid)", c.Mail.Provider)
	}

	if c.RateLimit.APIRequests <= 0 || c.RateLimit.LoginAttempts <= 0 ||
		c.RateLimit.ResetRequests <= 0 || c.RateLimit.VerificationRequests <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	if c.Maintenance.ArchiveEnabled && c.Maintenance.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when the audit archive is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
