// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetWebhookRatePerMinute() int
}

// RoutingConfig provides the knobs of the queue routing core.
type RoutingConfig interface {
	// GetOpenConversationGrace is the age below which an open conversation is
	// considered to belong to the message currently being processed.
	GetOpenConversationGrace() time.Duration
	// GetDefaultReturnTimeout applies to channels without their own return timeout.
	GetDefaultReturnTimeout() time.Duration
	GetLockBackend() string
	GetMarkerBackend() string
	GetLockTTL() time.Duration
}

// RedisConfig provides settings for the shared Redis instance.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq worker and client.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// WhatsAppConfig provides settings for the WhatsApp gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDefaultRegion() string
}

// EventStreamConfig provides settings for the RabbitMQ event stream.
type EventStreamConfig interface {
	GetRabbitMQURL() string
	GetRabbitMQExchange() string
	IsEventStreamEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds every setting read from the environment.
type Config struct {
	Env             string
	HTTPAddr        string
	DatabaseURL     string
	JWTAccessSecret string

	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	WebhookRatePerMinute int

	OpenConversationGrace time.Duration
	DefaultReturnTimeout  time.Duration
	LockBackend           string
	MarkerBackend         string
	LockTTL               time.Duration

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	WhatsAppURL           string
	WhatsAppKey           string
	WhatsAppDefaultRegion string

	RabbitMQURL      string
	RabbitMQExchange string
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string          { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool        { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string     { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool      { return c.CORSAllowCreds }
func (c *Config) GetWebhookRatePerMinute() int { return c.WebhookRatePerMinute }

// RoutingConfig implementation
func (c *Config) GetOpenConversationGrace() time.Duration { return c.OpenConversationGrace }
func (c *Config) GetDefaultReturnTimeout() time.Duration  { return c.DefaultReturnTimeout }
func (c *Config) GetLockBackend() string                  { return c.LockBackend }
func (c *Config) GetMarkerBackend() string                { return c.MarkerBackend }
func (c *Config) GetLockTTL() time.Duration               { return c.LockTTL }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) IsRedisEnabled() bool      { return c.RedisURL != "" }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string           { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string           { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDefaultRegion() string { return c.WhatsAppDefaultRegion }

// EventStreamConfig implementation
func (c *Config) GetRabbitMQURL() string      { return c.RabbitMQURL }
func (c *Config) GetRabbitMQExchange() string { return c.RabbitMQExchange }
func (c *Config) IsEventStreamEnabled() bool  { return c.RabbitMQURL != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config using the given lookup function.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	getEnv := func(key, fallback string) string {
		if val, ok := lookup(key); ok {
			return val
		}
		return fallback
	}

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	returnTimeoutHours := mustInt(getEnv("ROUTING_DEFAULT_RETURN_TIMEOUT_HOURS", "24"))

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		WebhookRatePerMinute:  mustInt(getEnv("WEBHOOK_RATE_PER_MINUTE", "600")),
		OpenConversationGrace: mustDuration(getEnv("ROUTING_OPEN_GRACE", "1m")),
		DefaultReturnTimeout:  time.Duration(returnTimeoutHours) * time.Hour,
		LockBackend:           strings.ToLower(getEnv("ROUTING_LOCK_BACKEND", "memory")),
		MarkerBackend:         strings.ToLower(getEnv("ROUTING_MARKER_BACKEND", "postgres")),
		LockTTL:               mustDuration(getEnv("ROUTING_LOCK_TTL", "10s")),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "routing"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		WhatsAppURL:           getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:           getEnv("WHATSAPP_KEY", ""),
		WhatsAppDefaultRegion: getEnv("WHATSAPP_DEFAULT_REGION", "BR"),
		RabbitMQURL:           getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:      getEnv("RABBITMQ_EXCHANGE", "routing.events"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.LockBackend != "memory" && cfg.LockBackend != "redis" {
		return nil, fmt.Errorf("ROUTING_LOCK_BACKEND must be memory or redis, got %q", cfg.LockBackend)
	}
	if cfg.MarkerBackend != "postgres" && cfg.MarkerBackend != "redis" {
		return nil, fmt.Errorf("ROUTING_MARKER_BACKEND must be postgres or redis, got %q", cfg.MarkerBackend)
	}
	if (cfg.LockBackend == "redis" || cfg.MarkerBackend == "redis") && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required when a routing backend is redis")
	}
	if cfg.DefaultReturnTimeout <= 0 {
		return nil, fmt.Errorf("ROUTING_DEFAULT_RETURN_TIMEOUT_HOURS must be positive")
	}

	return cfg, nil
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
