package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rhuss/stepwise/pkg/api"
)

// Validate checks the configuration for required fields and valid values.
// Every problem is reported with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	switch c.Storage.Type {
	case "memory":
		if c.Storage.MaxSize < 0 {
			errs = append(errs, fmt.Errorf("storage.max_size must be >= 0, got %d", c.Storage.MaxSize))
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("storage.redis.addr is required when storage.type is \"redis\""))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"redis\", \"postgres\" or \"sqlite\", got %q", c.Storage.Type))
	}

	if c.Session.TTL < 0 {
		errs = append(errs, fmt.Errorf("session.ttl must be >= 0, got %v", c.Session.TTL))
	}
	if c.Session.KeyPrefix == "" {
		errs = append(errs, fmt.Errorf("session.key_prefix is required"))
	}
	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		errs = append(errs, fmt.Errorf("cleanup.interval must be > 0 when cleanup is enabled, got %v", c.Cleanup.Interval))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		sources := 0
		for _, s := range []string{c.Auth.JWT.Secret + c.Auth.JWT.SecretFile, c.Auth.JWT.PublicKeyFile, c.Auth.JWT.JWKSURL} {
			if s != "" {
				sources++
			}
		}
		if sources != 1 {
			errs = append(errs, fmt.Errorf("auth.jwt requires exactly one of secret, public_key_file or jwks_url, got %d", sources))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.requests_per_minute must be >= 0, got %d", c.Auth.RateLimit.RequestsPerMinute))
	}
	for tier, rpm := range c.Auth.RateLimit.Tiers {
		if rpm < 0 {
			errs = append(errs, fmt.Errorf("auth.rate_limit.tiers.%s must be >= 0, got %d", tier, rpm))
		}
	}

	if c.MCP.Enabled && c.MCP.Path == "" {
		errs = append(errs, fmt.Errorf("mcp.path is required when mcp is enabled"))
	}

	switch c.Logging.Format {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agent := c.Agents[name]
		if err := api.ValidateConfig(&agent); err != nil {
			errs = append(errs, fmt.Errorf("agents.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
