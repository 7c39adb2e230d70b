// Package redis provides a Redis-backed storage.Provider. Expiry is
// delegated to Redis key TTLs, so this backend needs no sweeper.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/stepwise/pkg/storage"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Provider stores values as plain Redis strings.
type Provider struct {
	client goredis.UniversalClient
}

// Ensure Provider implements storage.Provider at compile time.
var _ storage.Provider = (*Provider)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Provider{client: client}, nil
}

// NewFromClient wraps an existing client. The provider takes ownership
// and closes the client on Close.
func NewFromClient(client goredis.UniversalClient) *Provider {
	return &Provider{client: client}
}

// Get returns the value stored under key.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set writes value under key with the requested TTL (0 = persistent).
func (p *Provider) Set(ctx context.Context, key string, value []byte, opts storage.SetOptions) error {
	if err := p.client.Set(ctx, key, value, opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether it existed.
func (p *Provider) Delete(ctx context.Context, key string) (bool, error) {
	n, err := p.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n > 0, nil
}

// HealthCheck pings the server.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}
