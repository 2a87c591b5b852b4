package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// RegistryClient pushes project metadata to the external project registry
type RegistryClient struct {
	svc *jsonService
}

func NewRegistryClient(cfg *config.RegistryConfig, logger *zap.Logger) *RegistryClient {
	return &RegistryClient{svc: &jsonService{
		name:       "project registry",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.URL,
		logger:     logger.Named("registry"),
	}}
}

// UpdateMetadata sends only the changed metadata fields.
func (c *RegistryClient) UpdateMetadata(ctx context.Context, projectID string, changes map[string]interface{}) error {
	payload, err := json.Marshal(changes)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, err, "failed to marshal metadata")
	}
	endpoint := c.svc.baseURL + "/projects/" + url.PathEscape(projectID) + "/metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, err, "failed to create metadata request")
	}
	return c.svc.do(req, nil)
}

func (c *RegistryClient) IsConfigured() bool {
	return c.svc.baseURL != ""
}
