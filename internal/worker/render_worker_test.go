package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/service"
)

type fakeJobs struct {
	mu        sync.Mutex
	canceled  bool
	progress  []int
	completed *model.RenderResult
	failed    string
}

func (f *fakeJobs) IsCanceled(ctx context.Context, jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func (f *fakeJobs) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobs) CompleteJob(ctx context.Context, jobID string, result *model.RenderResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = result
	return nil
}

func (f *fakeJobs) FailJob(ctx context.Context, jobID string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = errMsg
	return nil
}

type fakeHub struct {
	mu       sync.Mutex
	complete int
	errors   []model.ErrorEvent
	topics   []string
}

func (h *fakeHub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {}

func (h *fakeHub) BroadcastComplete(jobID string, result interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.complete++
}

func (h *fakeHub) BroadcastError(topic string, ev model.ErrorEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = append(h.topics, topic)
	h.errors = append(h.errors, ev)
}

type compositorFunc func(ctx context.Context, plan *model.RenderPlan, attachments map[string][]byte, onProgress func(int, string)) (*model.RenderResult, error)

func (f compositorFunc) Render(ctx context.Context, plan *model.RenderPlan, attachments map[string][]byte, onProgress func(int, string)) (*model.RenderResult, error) {
	return f(ctx, plan, attachments, onProgress)
}

func renderTask(t *testing.T) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(service.RenderTaskPayload{
		JobID: "job-1",
		Payload: model.RenderJobPayload{
			Plan: model.RenderPlan{ProjectID: "p1", TotalDuration: 12},
		},
	})
	require.NoError(t, err)
	return asynq.NewTask(service.TaskTypeRender, data)
}

func jobTopic(id string) string { return "job:" + id }

func TestRenderWorkerUploadsInlineFilm(t *testing.T) {
	jobs, hub := &fakeJobs{}, &fakeHub{}
	media := client.NewMemoryMediaStore()
	comp := compositorFunc(func(ctx context.Context, plan *model.RenderPlan, _ map[string][]byte, onProgress func(int, string)) (*model.RenderResult, error) {
		onProgress(50, "compositing")
		return &model.RenderResult{Blob: []byte("film"), Duration: plan.TotalDuration}, nil
	})
	w := NewRenderWorker(jobs, comp, media, hub, jobTopic, zap.NewNop())

	require.NoError(t, w.ProcessTask(context.Background(), renderTask(t)))

	require.NotNil(t, jobs.completed)
	assert.Equal(t, "memory://projects/p1/film/job-1.mp4", jobs.completed.VideoURL)
	assert.Empty(t, jobs.completed.Blob)
	assert.Equal(t, []int{0, 50}, jobs.progress)
	assert.Equal(t, 1, hub.complete)

	data, ok := media.Object("projects/p1/film/job-1.mp4")
	require.True(t, ok)
	assert.Equal(t, "film", string(data))
}

func TestRenderWorkerSkipsCanceledJob(t *testing.T) {
	jobs, hub := &fakeJobs{canceled: true}, &fakeHub{}
	called := false
	comp := compositorFunc(func(context.Context, *model.RenderPlan, map[string][]byte, func(int, string)) (*model.RenderResult, error) {
		called = true
		return nil, nil
	})
	w := NewRenderWorker(jobs, comp, nil, hub, jobTopic, zap.NewNop())

	require.NoError(t, w.ProcessTask(context.Background(), renderTask(t)))
	assert.False(t, called)
	assert.Nil(t, jobs.completed)
}

func TestRenderWorkerFailsPermanentErrors(t *testing.T) {
	jobs, hub := &fakeJobs{}, &fakeHub{}
	comp := compositorFunc(func(context.Context, *model.RenderPlan, map[string][]byte, func(int, string)) (*model.RenderResult, error) {
		return nil, model.NewError(model.KindInvalidRequest, "bad plan")
	})
	w := NewRenderWorker(jobs, comp, nil, hub, jobTopic, zap.NewNop())

	err := w.ProcessTask(context.Background(), renderTask(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, "InvalidRequest: bad plan", jobs.failed)
	require.Len(t, hub.errors, 1)
	assert.Equal(t, "job:job-1", hub.topics[0])
	assert.Equal(t, model.KindInvalidRequest, hub.errors[0].Kind)
	assert.Equal(t, "render", hub.errors[0].Operation)
}

func TestRenderWorkerRejectsMalformedPayload(t *testing.T) {
	w := NewRenderWorker(&fakeJobs{}, client.MockCompositor{}, nil, &fakeHub{}, jobTopic, zap.NewNop())
	err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeRender, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
