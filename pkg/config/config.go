package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (rate limiting on management endpoints)
	Redis RedisConfig

	// Audit pipeline configuration
	Audit AuditConfig

	// Protected identity configuration
	Protected ProtectedConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Enabled  bool
}

// AuditConfig holds audit pipeline configuration
type AuditConfig struct {
	QueueSize      int
	Workers        int
	WriteTimeout   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	DeadLetterPath string
}

// ProtectedConfig identifies the single protected system actor. All fields
// are required at startup; there are no compiled-in defaults.
type ProtectedConfig struct {
	ActorID        uuid.UUID
	Email          string
	OrganizationID int64
	Reason         string
}

// Identity returns the protected identity value consumed by the
// authorization and guard layers.
func (p ProtectedConfig) Identity() auth.ProtectedIdentity {
	return auth.ProtectedIdentity{
		ID:             p.ActorID,
		Email:          p.Email,
		OrganizationID: p.OrganizationID,
	}
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
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	protected, err := loadProtectedConfig()
	if err != nil {
		return nil, fmt.Errorf("protected identity configuration: %w", err)
	}
	cfg.Protected = protected

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("VISTORIA_HOST", "0.0.0.0"),
		Port:            getEnv("VISTORIA_PORT", "8080"),
		ReadTimeout:     getEnvDuration("VISTORIA_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("VISTORIA_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("VISTORIA_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("VISTORIA_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("VISTORIA_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("VISTORIA_POSTGRES_URL", ""),
		MaxConns:    getEnvInt("VISTORIA_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("VISTORIA_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("VISTORIA_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("VISTORIA_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("VISTORIA_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	url := getEnv("VISTORIA_REDIS_URL", "")
	return RedisConfig{
		URL:      url,
		Password: getEnv("VISTORIA_REDIS_PASSWORD", ""),
		DB:       getEnvInt("VISTORIA_REDIS_DB", 0),
		Enabled:  url != "",
	}
}

// loadAuditConfig loads audit pipeline configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		QueueSize:      getEnvInt("VISTORIA_AUDIT_QUEUE_SIZE", 1024),
		Workers:        getEnvInt("VISTORIA_AUDIT_WORKERS", 2),
		WriteTimeout:   getEnvDuration("VISTORIA_AUDIT_WRITE_TIMEOUT", 5*time.Second),
		MaxRetries:     getEnvInt("VISTORIA_AUDIT_MAX_RETRIES", 3),
		RetryBackoff:   getEnvDuration("VISTORIA_AUDIT_RETRY_BACKOFF", 250*time.Millisecond),
		DeadLetterPath: getEnv("VISTORIA_AUDIT_DEAD_LETTER_PATH", "/var/vistoria/audit-dead-letter.ndjson"),
	}
}

// loadProtectedConfig loads the protected identity from environment. Unlike
// the rest of the configuration there are no defaults: the process must not
// start without a protected identity.
func loadProtectedConfig() (ProtectedConfig, error) {
	rawID := getEnv("VISTORIA_PROTECTED_ACTOR_ID", "")
	if rawID == "" {
		return ProtectedConfig{}, fmt.Errorf("VISTORIA_PROTECTED_ACTOR_ID is required")
	}
	actorID, err := uuid.Parse(rawID)
	if err != nil {
		return ProtectedConfig{}, fmt.Errorf("VISTORIA_PROTECTED_ACTOR_ID is not a valid UUID: %w", err)
	}

	email := getEnv("VISTORIA_PROTECTED_EMAIL", "")
	if email == "" {
		return ProtectedConfig{}, fmt.Errorf("VISTORIA_PROTECTED_EMAIL is required")
	}

	orgID := getEnvInt64("VISTORIA_PROTECTED_ORGANIZATION_ID", 0)
	if orgID == 0 {
		return ProtectedConfig{}, fmt.Errorf("VISTORIA_PROTECTED_ORGANIZATION_ID is required")
	}

	return ProtectedConfig{
		ActorID:        actorID,
		Email:          strings.ToLower(email),
		OrganizationID: orgID,
		Reason:         getEnv("VISTORIA_PROTECTED_REASON", "system identity"),
	}, nil
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("VISTORIA_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("VISTORIA_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("VISTORIA_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("VISTORIA_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("VISTORIA_OTEL_SERVICE_NAME", "vistoria"),
		OTelServiceVersion: getEnv("VISTORIA_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("VISTORIA_OTEL_INSECURE", true),
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Protected.ActorID == uuid.Nil {
		return fmt.Errorf("protected actor ID is required")
	}
	if c.Protected.Email == "" {
		return fmt.Errorf("protected actor email is required")
	}

	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit queue size must be positive")
	}
	if c.Audit.Workers <= 0 {
		return fmt.Errorf("audit worker count must be positive")
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

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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
