package service

import (
	"context"
	"os"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

func newTestQueue(t *testing.T) *RenderQueue {
	t.Helper()
	addr := os.Getenv("STUDIO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STUDIO_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	ac := asynq.NewClient(asynq.RedisClientOpt{Addr: addr})
	t.Cleanup(func() {
		ac.Close()
		rdb.Close()
	})
	return NewRenderQueue(rdb, ac, zap.NewNop())
}

func TestRenderQueueJobLifecycle(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.StartRender(ctx, &model.RenderJobPayload{Plan: model.RenderPlan{ProjectID: "p1"}})
	require.NoError(t, err)

	status, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, status.Status)

	require.NoError(t, q.UpdateJobProgress(ctx, jobID, 40, "compositing", 1))
	status, err = q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, status.Status)
	assert.Equal(t, 40, status.Progress)
	assert.Equal(t, 1, status.RetryCount)
	assert.NotNil(t, status.StartedAt)

	require.NoError(t, q.CompleteJob(ctx, jobID, &model.RenderResult{VideoURL: "https://films.test/p1.mp4"}))
	status, err = q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, status.Status)
	assert.Equal(t, 100, status.Progress)

	err = q.CancelRender(ctx, jobID)
	assert.True(t, model.IsKind(err, model.KindGatePredicateUnmet))
}

func TestRenderQueueCancel(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.StartRender(ctx, &model.RenderJobPayload{Plan: model.RenderPlan{ProjectID: "p1"}})
	require.NoError(t, err)
	require.NoError(t, q.CancelRender(ctx, jobID))
	assert.True(t, q.IsCanceled(ctx, jobID))

	require.NoError(t, q.UpdateJobProgress(ctx, jobID, 80, "muxing", 0))
	status, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCanceled, status.Status)
}

func TestRenderQueueUnknownJob(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.GetStatus(context.Background(), "missing")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}
