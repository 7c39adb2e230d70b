// Package factory opens the storage.Provider selected by configuration.
package factory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/stepwise/pkg/config"
	"github.com/rhuss/stepwise/pkg/storage"
	"github.com/rhuss/stepwise/pkg/storage/memory"
	"github.com/rhuss/stepwise/pkg/storage/postgres"
	"github.com/rhuss/stepwise/pkg/storage/redis"
	"github.com/rhuss/stepwise/pkg/storage/sqlite"
)

// Open connects to the backend named by cfg.Type. The caller owns the
// returned provider and must Close it.
func Open(ctx context.Context, cfg config.StorageConfig) (storage.Provider, error) {
	switch cfg.Type {
	case "memory", "":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil

	case "redis":
		p, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("opening redis storage: %w", err)
		}
		slog.Info("storage enabled", "type", "redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return p, nil

	case "postgres":
		p, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "migrate_on_start", cfg.Postgres.MigrateOnStart)
		return p, nil

	case "sqlite":
		p, err := sqlite.New(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		slog.Info("storage enabled", "type", "sqlite", "path", cfg.SQLite.Path)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
