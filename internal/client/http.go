package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// jsonService is a small JSON-over-HTTP caller shared by the service clients
type jsonService struct {
	name       string
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

func (s *jsonService) post(ctx context.Context, endpoint string, body, result interface{}) error {
	return s.send(ctx, http.MethodPost, endpoint, body, result)
}

func (s *jsonService) get(ctx context.Context, endpoint string, result interface{}) error {
	return s.send(ctx, http.MethodGet, endpoint, nil, result)
}

func (s *jsonService) send(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return model.WrapError(model.KindInvalidRequest, err, "failed to marshal %s request", s.name)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, err, "failed to create %s request", s.name)
	}
	return s.do(req, result)
}

// do executes req and decodes a JSON response into result
func (s *jsonService) do(req *http.Request, result interface{}) error {
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	s.logger.Debug("Request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("Request failed", zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.Error(err))
		return classifyTransport(s.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.WrapError(model.KindTransient, err, "failed to read %s response", s.name)
	}

	s.logger.Debug("Response",
		zap.Int("status", resp.StatusCode),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(s.name, resp.StatusCode, string(respBody), resp.Header)
	}

	if result == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return model.NewError(model.KindEmptyResponse, "%s returned an empty body", s.name)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return model.WrapError(model.KindInvalidShape, err, "%s returned malformed JSON", s.name)
	}
	return nil
}

func (s *jsonService) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s unhealthy: status %d", s.name, resp.StatusCode)
	}
	return nil
}
