package snapshot

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/storystudio/internal/model"
)

const (
	snapshotKeyPrefix = "snapshot:"
	projectKeyPrefix  = "snapshots:"
)

// RedisBackend keeps each snapshot in a hash and indexes them per project in a set
type RedisBackend struct {
	redis *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{redis: client}
}

func (b *RedisBackend) Put(ctx context.Context, projectID, id string, doc []byte) error {
	pipe := b.redis.TxPipeline()
	pipe.HSet(ctx, snapshotKeyPrefix+id, map[string]interface{}{
		"project": projectID,
		"doc":     doc,
	})
	pipe.SAdd(ctx, projectKeyPrefix+projectID, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Get(ctx context.Context, id string) ([]byte, error) {
	doc, err := b.redis.HGet(ctx, snapshotKeyPrefix+id, "doc").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	return doc, err
}

func (b *RedisBackend) List(ctx context.Context, projectID string) ([][]byte, error) {
	ids, err := b.redis.SMembers(ctx, projectKeyPrefix+projectID).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := b.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, snapshotKeyPrefix+id, "doc")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	docs := make([][]byte, 0, len(ids))
	for _, cmd := range cmds {
		doc, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	key := snapshotKeyPrefix + id
	projectID, err := b.redis.HGet(ctx, key, "project").Result()
	if errors.Is(err, redis.Nil) {
		return model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	if err != nil {
		return err
	}
	pipe := b.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, projectKeyPrefix+projectID, id)
	_, err = pipe.Exec(ctx)
	return err
}
