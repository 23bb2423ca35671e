package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Events        EventsConfig        `yaml:"events"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// StorageConfig holds role store configuration.
type StorageConfig struct {
	// Type selects the backing store: memory or postgres.
	Type string `yaml:"type"`

	// PostgreSQL
	PostgresURL      string        `yaml:"postgres_url"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	// Redis / cache tiering
	CacheEnabled    bool          `yaml:"cache_enabled"`
	RedisURL        string        `yaml:"redis_url"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	RedisMaxRetries int           `yaml:"redis_max_retries"`
	RedisPoolSize   int           `yaml:"redis_pool_size"`
	L1CacheSize     int           `yaml:"l1_cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// EventsConfig holds event retry configuration.
type EventsConfig struct {
	RetryEnabled  bool   `yaml:"retry_enabled"`
	RetrySchedule string `yaml:"retry_schedule"`
	RetryBatch    int    `yaml:"retry_batch"`
	MaxRetries    int    `yaml:"max_retries"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Optional allows unauthenticated requests through with no actor.
	Optional bool `yaml:"optional"`

	// Tokens maps SHA256 token hashes to actor IDs, loaded at startup.
	Tokens map[string]string `yaml:"tokens"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel     observability.LogLevel `yaml:"-"`
	LogLevelName string                 `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from environment variables, optionally
// overlaid on a YAML file named by WARDEN_CONFIG_FILE. Environment
// variables take precedence over file values.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("WARDEN_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: StorageConfig{
			Type:             "memory",
			PostgresMaxConns: 25,
			PostgresTimeout:  5 * time.Second,
			RedisMaxRetries:  3,
			RedisPoolSize:    10,
			L1CacheSize:      1024,
			CacheTTL:         5 * time.Minute,
		},
		Events: EventsConfig{
			RetryEnabled:  true,
			RetrySchedule: "*/5 * * * *",
			RetryBatch:    50,
			MaxRetries:    5,
		},
		Auth: AuthConfig{
			Optional: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "warden",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// loadFile overlays a YAML configuration file onto the config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if c.Observability.LogLevelName != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(c.Observability.LogLevelName)
	}
	return nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	// Server
	c.Server.Host = getEnv("WARDEN_HOST", c.Server.Host)
	c.Server.Port = getEnv("WARDEN_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("WARDEN_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("WARDEN_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("WARDEN_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("WARDEN_HEALTH_PORT", c.Server.HealthPort)

	// Storage
	c.Storage.Type = getEnv("WARDEN_STORAGE_TYPE", c.Storage.Type)
	c.Storage.PostgresURL = getEnv("WARDEN_POSTGRES_URL", c.Storage.PostgresURL)
	c.Storage.PostgresMaxConns = getEnvInt("WARDEN_POSTGRES_MAX_CONNS", c.Storage.PostgresMaxConns)
	c.Storage.PostgresTimeout = getEnvDuration("WARDEN_POSTGRES_TIMEOUT", c.Storage.PostgresTimeout)
	c.Storage.CacheEnabled = getEnvBool("WARDEN_CACHE_ENABLED", c.Storage.CacheEnabled)
	c.Storage.RedisURL = getEnv("WARDEN_REDIS_URL", c.Storage.RedisURL)
	c.Storage.RedisPassword = getEnv("WARDEN_REDIS_PASSWORD", c.Storage.RedisPassword)
	c.Storage.RedisDB = getEnvInt("WARDEN_REDIS_DB", c.Storage.RedisDB)
	c.Storage.RedisMaxRetries = getEnvInt("WARDEN_REDIS_MAX_RETRIES", c.Storage.RedisMaxRetries)
	c.Storage.RedisPoolSize = getEnvInt("WARDEN_REDIS_POOL_SIZE", c.Storage.RedisPoolSize)
	c.Storage.L1CacheSize = getEnvInt("WARDEN_L1_CACHE_SIZE", c.Storage.L1CacheSize)
	c.Storage.CacheTTL = getEnvDuration("WARDEN_CACHE_TTL", c.Storage.CacheTTL)

	// Events
	c.Events.RetryEnabled = getEnvBool("WARDEN_EVENT_RETRY_ENABLED", c.Events.RetryEnabled)
	c.Events.RetrySchedule = getEnv("WARDEN_EVENT_RETRY_SCHEDULE", c.Events.RetrySchedule)
	c.Events.RetryBatch = getEnvInt("WARDEN_EVENT_RETRY_BATCH", c.Events.RetryBatch)
	c.Events.MaxRetries = getEnvInt("WARDEN_EVENT_MAX_RETRIES", c.Events.MaxRetries)

	// Auth
	c.Auth.Optional = getEnvBool("WARDEN_AUTH_OPTIONAL", c.Auth.Optional)

	// Observability
	if level := getEnv("WARDEN_LOG_LEVEL", ""); level != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(level)
	}
	c.Observability.MetricsEnabled = getEnvBool("WARDEN_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("WARDEN_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("WARDEN_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("WARDEN_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("WARDEN_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("WARDEN_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid.
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

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Storage.CacheEnabled {
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required when cache is enabled")
		}
		if c.Storage.L1CacheSize <= 0 {
			return fmt.Errorf("L1 cache size must be positive")
		}
	}

	if c.Events.RetryEnabled {
		if c.Events.RetrySchedule == "" {
			return fmt.Errorf("event retry schedule is required when retry is enabled")
		}
		if c.Events.RetryBatch <= 0 {
			return fmt.Errorf("event retry batch size must be positive")
		}
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

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
