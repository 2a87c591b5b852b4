package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/handler"
	"github.com/makeasinger/storystudio/internal/middleware"
	"github.com/makeasinger/storystudio/internal/orchestrator"
	"github.com/makeasinger/storystudio/internal/service"
	"github.com/makeasinger/storystudio/internal/session"
	"github.com/makeasinger/storystudio/internal/snapshot"
	ws "github.com/makeasinger/storystudio/internal/websocket"
)

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	sessions *session.Manager
}

// charCounter approximates tokens without loading an encoding
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text)/4 + 1 }

// setupApp creates a Fiber app wired like main.go, with every provider mocked
// and snapshots in a temporary directory. When STUDIO_TEST_REDIS_ADDR is set,
// rate limits and the render queue use that redis.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	cfg := config.Default()
	cfg.Snapshots.Dir = t.TempDir()
	cfg.Autosave = config.AutosaveConfig{Debounce: 5 * time.Millisecond}

	backend, err := snapshot.NewFileBackend(cfg.Snapshots.Dir)
	if err != nil {
		t.Fatalf("snapshot backend: %v", err)
	}

	logger := zap.NewNop()
	hub := ws.NewHub(logger)
	go hub.Run()

	sessions := session.NewManager(session.Deps{
		Config:       cfg,
		Snapshots:    snapshot.NewStore(backend, cfg.Snapshots, logger),
		Providers:    client.MockProviders(),
		Orchestrator: orchestrator.New(logger),
		Estimator:    service.NewCostEstimator(cfg.Pricing, charCounter{}),
		Logger:       logger,
	})
	t.Cleanup(sessions.Close)
	sessions.OnOpen(func(s *session.Session) { hub.Follow(s) })

	routes := handler.Routes{
		Studio:    handler.NewStudioHandler(sessions, validator.New(), logger),
		Hub:       hub,
		RateLimit: cfg.RateLimit,
	}

	if addr := os.Getenv("STUDIO_TEST_REDIS_ADDR"); addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: addr, DB: 15})
		t.Cleanup(func() {
			asynqClient.Close()
			redisClient.Close()
		})
		routes.Limiter = middleware.NewRateLimiter(redisClient, logger)
		routes.Render = handler.NewRenderHandler(service.NewRenderQueue(redisClient, asynqClient, logger))
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})
	handler.Register(app, routes)

	return &testApp{app: app, sessions: sessions}
}

func requireRedis(t *testing.T) {
	t.Helper()
	if os.Getenv("STUDIO_TEST_REDIS_ADDR") == "" {
		t.Skip("STUDIO_TEST_REDIS_ADDR not set")
	}
}

// doRequest performs an HTTP request against the Fiber app
func doRequest(app *fiber.App, method, path, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

func mustRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// parseJSON reads and parses JSON response body
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, string(body))
	}
	return result
}

// assertStatus checks the HTTP status code
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d\nbody: %s", expected, resp.StatusCode, string(body))
	}
}

// assertErrorCode checks the error code in an error response
func assertErrorCode(t *testing.T, body map[string]interface{}, expected string) {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'error' object in response, got %v", body)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %q, got %q", expected, errObj["code"])
	}
}
