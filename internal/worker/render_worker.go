package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/service"
)

// JobTracker records the lifecycle of render jobs
type JobTracker interface {
	IsCanceled(ctx context.Context, jobID string) bool
	UpdateJobProgress(ctx context.Context, jobID string, progress int, step string, retryCount int) error
	CompleteJob(ctx context.Context, jobID string, result *model.RenderResult) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
}

// Broadcaster relays job progress to websocket subscribers
type Broadcaster interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(topic string, ev model.ErrorEvent)
}

// RenderWorker processes render jobs
type RenderWorker struct {
	jobs       JobTracker
	compositor client.Compositor
	media      client.MediaStore
	hub        Broadcaster
	topic      func(jobID string) string
	logger     *zap.Logger
}

// NewRenderWorker creates a new render worker. media may be nil, in which
// case inline films stay inline in the job result.
func NewRenderWorker(jobs JobTracker, compositor client.Compositor, media client.MediaStore, hub Broadcaster, topic func(jobID string) string, logger *zap.Logger) *RenderWorker {
	return &RenderWorker{
		jobs:       jobs,
		compositor: compositor,
		media:      media,
		hub:        hub,
		topic:      topic,
		logger:     logger.Named("RenderWorker"),
	}
}

// ProcessTask handles render task processing
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.RenderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log := w.logger.With(zap.String("job", jobID), zap.String("project", payload.Payload.Plan.ProjectID))

	if w.jobs.IsCanceled(ctx, jobID) {
		log.Info("Render job canceled before start")
		return nil
	}

	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	log.Info("Starting render job", zap.Int("clips", len(payload.Payload.Plan.Clips)), zap.Int("retry", retry))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	onProgress := func(percent int, step string) {
		if w.jobs.IsCanceled(ctx, jobID) {
			cancel()
			return
		}
		w.updateProgress(ctx, jobID, percent, step, retry)
	}
	w.updateProgress(ctx, jobID, 0, "starting", retry)

	result, err := w.compositor.Render(ctx, &payload.Payload.Plan, payload.Payload.Attachments, onProgress)
	if err == nil {
		err = w.persist(ctx, payload.Payload.Plan.ProjectID, jobID, result)
	}
	if err != nil {
		if w.jobs.IsCanceled(context.Background(), jobID) {
			log.Info("Render job canceled")
			return nil
		}
		if model.IsRetryable(err) && retry < maxRetry {
			log.Warn("Render attempt failed, retrying", zap.Error(err))
			return err
		}
		log.Error("Render job failed", zap.Error(err))
		w.failJob(context.Background(), jobID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := w.jobs.CompleteJob(ctx, jobID, result); err != nil {
		w.failJob(context.Background(), jobID, err)
		return err
	}

	w.hub.BroadcastComplete(jobID, result)
	log.Info("Render job completed", zap.Float64("duration", result.Duration))
	return nil
}

// persist moves an inline film to the media store so job results stay small
func (w *RenderWorker) persist(ctx context.Context, projectID, jobID string, result *model.RenderResult) error {
	if result.VideoURL != "" || len(result.Blob) == 0 || w.media == nil {
		return nil
	}
	key := fmt.Sprintf("projects/%s/film/%s.mp4", projectID, jobID)
	url, err := w.media.Upload(ctx, key, result.Blob, "video/mp4")
	if err != nil {
		return model.WrapError(model.KindUnavailable, err, "failed to upload film")
	}
	result.VideoURL = url
	result.Blob = nil
	return nil
}

func (w *RenderWorker) updateProgress(ctx context.Context, jobID string, progress int, step string, retry int) {
	if err := w.jobs.UpdateJobProgress(ctx, jobID, progress, step, retry); err != nil {
		w.logger.Warn("Failed to update progress", zap.String("job", jobID), zap.Error(err))
	}
	w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
}

func (w *RenderWorker) failJob(ctx context.Context, jobID string, cause error) {
	if err := w.jobs.FailJob(ctx, jobID, cause.Error()); err != nil {
		w.logger.Error("Failed to mark job as failed", zap.String("job", jobID), zap.Error(err))
	}
	w.hub.BroadcastError(w.topic(jobID), model.NewErrorEvent("render", cause))
}
