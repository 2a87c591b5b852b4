package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// CompositorClient sends render plans to the video compositing microservice
type CompositorClient struct {
	svc *jsonService
}

type renderRequest struct {
	Plan *model.RenderPlan `json:"plan"`
	// Attachments carry in-memory narration audio keyed by blob reference,
	// base64 encoded
	Attachments map[string]string `json:"attachments,omitempty"`
}

type renderResponse struct {
	VideoURL string  `json:"video_url,omitempty"`
	VideoB64 string  `json:"video_b64,omitempty"`
	Duration float64 `json:"duration"`
}

func NewCompositorClient(cfg *config.CompositorConfig, logger *zap.Logger) *CompositorClient {
	return &CompositorClient{svc: &jsonService{
		name: "compositor",
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
		logger:  logger.Named("compositor"),
	}}
}

// Render posts the plan and blocks until the service returns the film. The
// service reports no intermediate progress, so onProgress only sees the ends.
func (c *CompositorClient) Render(ctx context.Context, plan *model.RenderPlan, attachments map[string][]byte, onProgress func(percent int, step string)) (*model.RenderResult, error) {
	report := func(p int, step string) {
		if onProgress != nil {
			onProgress(p, step)
		}
	}

	body := renderRequest{Plan: plan}
	if len(attachments) > 0 {
		body.Attachments = make(map[string]string, len(attachments))
		for ref, data := range attachments {
			body.Attachments[ref] = base64.StdEncoding.EncodeToString(data)
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, err, "failed to marshal render plan")
	}

	report(5, "uploading")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.svc.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, err, "failed to create render request")
	}

	var result renderResponse
	if err := c.svc.do(req, &result); err != nil {
		return nil, err
	}

	out := &model.RenderResult{VideoURL: result.VideoURL, Duration: result.Duration}
	if out.VideoURL == "" && result.VideoB64 != "" {
		blob, err := base64.StdEncoding.DecodeString(result.VideoB64)
		if err != nil {
			return nil, model.WrapError(model.KindInvalidShape, err, "compositor returned an undecodable video")
		}
		out.Blob = blob
	}
	if out.VideoURL == "" && len(out.Blob) == 0 {
		return nil, model.NewError(model.KindEmptyResponse, "compositor returned no video")
	}
	report(100, "done")
	return out, nil
}

// HealthCheck checks if the compositor service is available
func (c *CompositorClient) HealthCheck(ctx context.Context) error {
	return c.svc.healthCheck(ctx)
}

func (c *CompositorClient) IsConfigured() bool {
	return c.svc.baseURL != ""
}
