// Package config provides unified configuration for the stepwise service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (STEPWISE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation, including every configured agent workflow
package config

import (
	"slices"
	"time"

	"github.com/rhuss/stepwise/pkg/api"
)

// Config holds all configuration for the stepwise service.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Storage       StorageConfig         `yaml:"storage"`
	Session       SessionConfig         `yaml:"session"`
	Cleanup       CleanupConfig         `yaml:"cleanup"`
	Auth          AuthConfig            `yaml:"auth"`
	MCP           MCPConfig             `yaml:"mcp"`
	Observability ObservabilityConfig   `yaml:"observability"`
	Logging       LoggingConfig         `yaml:"logging"`
	Agents        map[string]api.Config `yaml:"agents"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
}

// StorageConfig selects and configures the key-value backend.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory", "redis", "postgres" or "sqlite", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"` // default: "localhost:6379"
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// SQLiteConfig holds embedded SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: "stepwise.db"
}

// SessionConfig holds the session persistence policy.
type SessionConfig struct {
	TTL       time.Duration `yaml:"ttl"`        // default: 1h, refreshed on every write
	KeyPrefix string        `yaml:"key_prefix"` // default: "stepwise:session"
}

// CleanupConfig controls the in-process sweep of expired sessions.
// Disabled by default; backends with native expiry need no sweep.
type CleanupConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // default: 5m
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits requests per authenticated subject. A zero
// limit disables rate limiting for that tier.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"` // default tier, 0 = unlimited
	Tiers             map[string]int `yaml:"tiers"`               // service tier -> requests per minute
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds bearer token validation settings. Exactly one key source
// (secret, public_key_file or jwks_url) must be set when auth.type is "jwt".
type JWTConfig struct {
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	Secret        string `yaml:"secret"`          // HMAC signing secret
	SecretFile    string `yaml:"secret_file"`     // _file variant for secret
	PublicKeyFile string `yaml:"public_key_file"` // PEM-encoded RSA public key
	JWKSURL       string `yaml:"jwks_url"`
	UserClaim     string `yaml:"user_claim"`   // default: "sub"
	TenantClaim   string `yaml:"tenant_claim"` // default: "tenant_id"
}

// MCPConfig holds settings for the embedded MCP server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: "/mcp"
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // ERROR, WARN, INFO, DEBUG, TRACE; default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
			SQLite: SQLiteConfig{
				Path: "stepwise.db",
			},
		},
		Session: SessionConfig{
			TTL:       time.Hour,
			KeyPrefix: "stepwise:session",
		},
		Cleanup: CleanupConfig{
			Interval: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		MCP: MCPConfig{
			Path: "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Agent returns the orchestration config registered under name.
func (c *Config) Agent(name string) (*api.Config, bool) {
	agent, ok := c.Agents[name]
	if !ok {
		return nil, false
	}
	return &agent, true
}

// AgentNames returns the names of all configured agents, sorted.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
