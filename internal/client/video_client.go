package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// VideoClient animates stills through an asynchronous image-to-video API:
// submit a task, then poll until it settles.
type VideoClient struct {
	svc          *jsonService
	pollInterval time.Duration
}

type videoSubmitRequest struct {
	ImageURL    string `json:"image_url"`
	Prompt      string `json:"prompt,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type videoTask struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewVideoClient(cfg *config.VideoConfig, logger *zap.Logger) *VideoClient {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &VideoClient{
		svc: &jsonService{
			name:       "video provider",
			httpClient: &http.Client{},
			baseURL:    cfg.BaseURL,
			apiKey:     cfg.APIKey,
			logger:     logger.Named("video"),
		},
		pollInterval: interval,
	}
}

// GenerateVideoFromImage submits the still and waits for the clip. The caller's
// context bounds the whole wait.
func (c *VideoClient) GenerateVideoFromImage(ctx context.Context, req *VideoRequest) (*VideoResult, error) {
	var task videoTask
	if err := c.svc.post(ctx, "/v1/video/generate", videoSubmitRequest{
		ImageURL:    req.ImageURL,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
	}, &task); err != nil {
		return nil, err
	}
	if task.TaskID == "" {
		return nil, model.NewError(model.KindInvalidShape, "video provider returned no task id")
	}
	return c.poll(ctx, task.TaskID)
}

func (c *VideoClient) poll(ctx context.Context, taskID string) (*VideoResult, error) {
	attempt := 0
	for {
		attempt++
		var task videoTask
		if err := c.svc.get(ctx, fmt.Sprintf("/v1/video/status/%s", taskID), &task); err != nil {
			return nil, err
		}

		c.svc.logger.Debug("Poll video",
			zap.Int("attempt", attempt),
			zap.String("task", taskID),
			zap.String("status", task.Status),
		)

		switch task.Status {
		case "completed", "success":
			if task.VideoURL == "" {
				return nil, model.NewError(model.KindEmptyResponse, "video task %s completed without a clip", taskID)
			}
			return &VideoResult{URL: task.VideoURL}, nil
		case "failed", "error":
			return nil, model.NewError(model.KindInvalidRequest, "video generation failed: %s", task.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *VideoClient) IsConfigured() bool {
	return c.svc.apiKey != ""
}
