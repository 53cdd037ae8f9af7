package store

import (
	"context"
	"fmt"

	"github.com/JakeFAU/keyword-watcher/internal/config"
	"github.com/JakeFAU/keyword-watcher/internal/store/file"
	"github.com/JakeFAU/keyword-watcher/internal/store/gcs"
	"github.com/JakeFAU/keyword-watcher/internal/store/memory"
	"github.com/JakeFAU/keyword-watcher/internal/store/postgres"
	"github.com/JakeFAU/keyword-watcher/internal/store/redis"
	"github.com/JakeFAU/keyword-watcher/internal/store/sqlite"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Open constructs the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig) (watch.ControlStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(nil), nil
	case config.BackendFile:
		s, err := file.New(cfg.File.Path)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.BackendRedis:
		s, err := redis.New(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
			Migrate:  cfg.Postgres.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.BackendGCS:
		s, err := gcs.New(ctx, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
