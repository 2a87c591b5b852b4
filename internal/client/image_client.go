package client

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// ImageServiceClient calls an HTTP image service that accepts a reference
// image for character consistency
type ImageServiceClient struct {
	svc *jsonService
}

type imageServiceRequest struct {
	Prompt            string `json:"prompt"`
	Style             string `json:"style,omitempty"`
	AspectRatio       string `json:"aspect_ratio,omitempty"`
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
	Model             string `json:"model,omitempty"`
}

type imageServiceResponse struct {
	ImageURL string `json:"image_url"`
}

func NewImageServiceClient(cfg *config.ImageConfig, logger *zap.Logger) *ImageServiceClient {
	return &ImageServiceClient{svc: &jsonService{
		name:       "image service",
		httpClient: &http.Client{},
		baseURL:    cfg.ServiceURL,
		apiKey:     cfg.APIKey,
		logger:     logger.Named("image.http"),
	}}
}

func (c *ImageServiceClient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	var result imageServiceResponse
	err := c.svc.post(ctx, "/v1/images", imageServiceRequest{
		Prompt:            req.Prompt,
		Style:             req.Style,
		AspectRatio:       req.AspectRatio,
		ReferenceImageURL: req.ReferenceImageURL,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.ImageURL == "" {
		return nil, model.NewError(model.KindEmptyResponse, "image service returned no image")
	}
	return &ImageResult{URL: result.ImageURL}, nil
}

func (c *ImageServiceClient) IsConfigured() bool {
	return c.svc.baseURL != ""
}
