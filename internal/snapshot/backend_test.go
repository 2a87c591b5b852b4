package snapshot

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/model/modeltest"
)

// testBackendContract runs the behavior every backend shares.
func testBackendContract(t *testing.T, backend Backend) {
	ctx := context.Background()
	store := NewStore(backend, config.SnapshotConfig{MaxAuto: 3}, zap.NewNop())
	projectID := "contract-" + uuid.NewString()

	var ids []string
	for i := 0; i < 5; i++ {
		snap, err := store.Create(ctx, projectID, modeltest.Scripted(2), "auto", "", model.SnapshotAuto)
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}
	t.Cleanup(func() {
		for _, id := range ids {
			_ = backend.Delete(ctx, id)
		}
	})

	infos, err := store.List(ctx, projectID, model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, ids[4], infos[0].ID)

	got, err := store.Get(ctx, ids[4])
	require.NoError(t, err)
	assert.Equal(t, modeltest.Scripted(2), got.State)

	require.NoError(t, store.Rename(ctx, ids[4], "renamed"))
	got, err = store.Get(ctx, ids[4])
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, store.Delete(ctx, ids[4]))
	_, err = store.Get(ctx, ids[4])
	assert.True(t, model.IsKind(err, model.KindNotFound))
	assert.True(t, model.IsKind(store.Delete(ctx, ids[4]), model.KindNotFound))
}

func TestFileBackendContract(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	testBackendContract(t, backend)
}

func TestRedisBackendContract(t *testing.T) {
	addr := os.Getenv("STUDIO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STUDIO_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	testBackendContract(t, NewRedisBackend(client))
}

func TestPostgresBackendContract(t *testing.T) {
	dsn := os.Getenv("STUDIO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STUDIO_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	backend := NewPostgresBackend(pool, zap.NewNop())
	require.NoError(t, backend.EnsureSchema(ctx))
	testBackendContract(t, backend)
}

func TestOpenDefaultsToFileBackend(t *testing.T) {
	backend, closeFn, err := Open(context.Background(), config.SnapshotConfig{Dir: t.TempDir()}, nil, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &FileBackend{}, backend)

	_, _, err = Open(context.Background(), config.SnapshotConfig{Backend: "redis"}, nil, zap.NewNop())
	assert.Error(t, err)
}
