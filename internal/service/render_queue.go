package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

const TaskTypeRender = "render:process"

// RenderTaskPayload is the asynq payload of a render job
type RenderTaskPayload struct {
	JobID   string                 `json:"jobId"`
	Payload model.RenderJobPayload `json:"payload"`
}

// RenderQueue hands render plans to the render worker through asynq and
// tracks their jobs in redis. It satisfies client.Compositor, so export can
// wait on a queued render like on a direct one.
type RenderQueue struct {
	redis        *redis.Client
	asynqClient  *asynq.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewRenderQueue(redisClient *redis.Client, asynqClient *asynq.Client, logger *zap.Logger) *RenderQueue {
	return &RenderQueue{
		redis:        redisClient,
		asynqClient:  asynqClient,
		pollInterval: time.Second,
		logger:       logger.Named("RenderQueue"),
	}
}

// Render enqueues the plan and waits for the worker to finish it, relaying
// progress. Cancelling ctx cancels the job.
func (q *RenderQueue) Render(ctx context.Context, plan *model.RenderPlan, attachments map[string][]byte, onProgress func(percent int, step string)) (*model.RenderResult, error) {
	jobID, err := q.StartRender(ctx, &model.RenderJobPayload{Plan: *plan, Attachments: attachments})
	if err != nil {
		return nil, model.WrapError(model.KindUnavailable, err, "render queue unavailable")
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			if err := q.CancelRender(context.Background(), jobID); err != nil {
				q.logger.Warn("Failed to cancel render job", zap.String("job", jobID), zap.Error(err))
			}
			return nil, model.WrapError(model.KindCanceled, ctx.Err(), "render canceled")
		case <-ticker.C:
		}

		job, err := q.getJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return nil, err
		}
		if job.Progress != lastProgress && onProgress != nil {
			onProgress(job.Progress, job.CurrentStep)
		}
		lastProgress = job.Progress

		switch job.Status {
		case model.JobStatusSucceeded:
			var result model.RenderResult
			if err := json.Unmarshal(job.Result, &result); err != nil {
				return nil, model.WrapError(model.KindInvalidShape, err, "render job %s returned an unreadable result", jobID)
			}
			return &result, nil
		case model.JobStatusFailed:
			msg := "render failed"
			if job.Error != nil {
				msg = *job.Error
			}
			return nil, model.NewError(model.KindTransient, "render job %s: %s", jobID, msg)
		case model.JobStatusCanceled:
			return nil, model.NewError(model.KindCanceled, "render job %s was canceled", jobID)
		}
	}
}

// StartRender queues a new render job
func (q *RenderQueue) StartRender(ctx context.Context, payload *model.RenderJobPayload) (string, error) {
	jobID := uuid.New().String()

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeRender,
		ProjectID: payload.Plan.ProjectID,
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := q.saveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to save job: %w", err)
	}

	data, err := json.Marshal(RenderTaskPayload{JobID: jobID, Payload: *payload})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.asynqClient.Enqueue(asynq.NewTask(TaskTypeRender, data),
		asynq.Queue("render"),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Info("Render job queued", zap.String("job", jobID), zap.String("project", payload.Plan.ProjectID), zap.Int("clips", len(payload.Plan.Clips)))
	return jobID, nil
}

// GetStatus returns the current status of a render job
func (q *RenderQueue) GetStatus(ctx context.Context, jobID string) (*model.RenderStatusResponse, error) {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.RenderStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryCount:  job.RetryCount,
	}, nil
}

// CancelRender cancels a render job
func (q *RenderQueue) CancelRender(ctx context.Context, jobID string) error {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Done() {
		return model.NewError(model.KindGatePredicateUnmet, "job already completed")
	}

	job.Status = model.JobStatusCanceled
	now := time.Now()
	job.CompletedAt = &now
	return q.saveJob(ctx, job)
}

// IsCanceled reports whether the job was canceled while queued or running.
func (q *RenderQueue) IsCanceled(ctx context.Context, jobID string) bool {
	job, err := q.getJob(ctx, jobID)
	return err == nil && job.Status == model.JobStatusCanceled
}

// UpdateJobProgress updates job progress (called by worker)
func (q *RenderQueue) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string, retryCount int) error {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Done() {
		return nil
	}

	job.Progress = progress
	job.CurrentStep = step
	job.RetryCount = retryCount
	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}
	return q.saveJob(ctx, job)
}

// CompleteJob marks job as completed (called by worker)
func (q *RenderQueue) CompleteJob(ctx context.Context, jobID string, result *model.RenderResult) error {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now
	return q.saveJob(ctx, job)
}

// FailJob marks job as failed (called by worker)
func (q *RenderQueue) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now
	return q.saveJob(ctx, job)
}

func (q *RenderQueue) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, 24*time.Hour).Err()
}

func (q *RenderQueue) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := q.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.NewError(model.KindNotFound, "job %s not found", jobID)
		}
		return nil, model.WrapError(model.KindUnavailable, err, "failed to read job %s", jobID)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, model.WrapError(model.KindCorrupt, err, "job %s is unreadable", jobID)
	}
	return &job, nil
}
