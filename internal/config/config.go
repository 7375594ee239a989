package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all process configuration read from the environment.
type Config struct {
	Server        ServerConfig
	Gateway       GatewayConfig
	Upstream      UpstreamConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GatewayConfig locates the document registry and describes how clients
// reach this process.
type GatewayConfig struct {
	ConfigPath string
	// PublicURL is the externally visible base URL, used for proxy_url and
	// client configuration. Empty means clients use relative paths.
	PublicURL    string
	ExternalPort int
}

// UpstreamConfig holds settings for calls to the document service.
type UpstreamConfig struct {
	Timeout time.Duration
}

// SessionConfig holds session token housekeeping configuration
type SessionConfig struct {
	PurgeInterval time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

// RateLimitConfig holds rate limiting configuration. Zero RequestsPerSecond
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// AuditConfig enables the Postgres audit sink when DatabaseURL is set.
type AuditConfig struct {
	DatabaseURL string
	MaxConns    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	port := parseInt("PORT", 3000)

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HOST", "0.0.0.0"),
			Port:            port,
			ReadTimeout:     parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:    parseDuration("SERVER_WRITE_TIMEOUT", "90s"),
			IdleTimeout:     parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: parseDuration("SERVER_SHUTDOWN_TIMEOUT", "10s"),
		},
		Gateway: GatewayConfig{
			ConfigPath:   getEnv("CONFIG_PATH", "/app/config.yaml"),
			PublicURL:    getEnv("GRIST_MCP_URL", ""),
			ExternalPort: parseInt("EXTERNAL_PORT", port),
		},
		Upstream: UpstreamConfig{
			Timeout: parseDuration("UPSTREAM_TIMEOUT", "30s"),
		},
		Session: SessionConfig{
			PurgeInterval: parseDuration("SESSION_PURGE_INTERVAL", "10m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "gristgate"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			SamplingRate:   parseFloat("OTEL_SAMPLING_RATE", 1.0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 20),
			Burst:             parseInt("RATELIMIT_BURST", 40),
		},
		Audit: AuditConfig{
			DatabaseURL: getEnv("AUDIT_DATABASE_URL", ""),
			MaxConns:    parseInt("AUDIT_DB_MAX_CONNS", 4),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Gateway.ConfigPath == "" {
		return fmt.Errorf("CONFIG_PATH is required")
	}
	if c.Gateway.PublicURL != "" {
		u, err := url.Parse(c.Gateway.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("GRIST_MCP_URL must be an absolute http(s) URL, got %q", c.Gateway.PublicURL)
		}
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.Session.PurgeInterval <= 0 {
		return fmt.Errorf("SESSION_PURGE_INTERVAL must be positive")
	}
	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Observability.LogFormat)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("RATELIMIT_RPS and RATELIMIT_BURST must not be negative")
	}
	return nil
}

// ClientURL is the base URL printed in client configuration.
func (c *Config) ClientURL() string {
	if c.Gateway.PublicURL != "" {
		return c.Gateway.PublicURL
	}
	return fmt.Sprintf("http://localhost:%d", c.Gateway.ExternalPort)
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

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
