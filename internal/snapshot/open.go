package snapshot

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
)

// Open builds the configured backend. The returned closer releases backend
// resources the store owns.
func Open(ctx context.Context, cfg config.SnapshotConfig, redisClient *redis.Client, logger *zap.Logger) (Backend, func(), error) {
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis snapshot backend needs a redis client")
		}
		return NewRedisBackend(redisClient), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b := NewPostgresBackend(pool, logger)
		if err := b.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return b, pool.Close, nil
	default:
		b, err := NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open snapshot directory: %w", err)
		}
		return b, func() {}, nil
	}
}
