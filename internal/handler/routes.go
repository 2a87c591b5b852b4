package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/middleware"
	ws "github.com/makeasinger/storystudio/internal/websocket"
)

// Routes collects what the HTTP surface is built from. Limiter and Render
// may be nil.
type Routes struct {
	Studio    *StudioHandler
	Render    *RenderHandler
	Hub       *ws.Hub
	Limiter   *middleware.RateLimiter
	RateLimit config.RateLimitConfig
	Health    func() fiber.Map
}

func passthrough(c *fiber.Ctx) error { return c.Next() }

// Register mounts every route on app.
func Register(app *fiber.App, r Routes) {
	generateLimit, exportLimit := fiber.Handler(passthrough), fiber.Handler(passthrough)
	if r.Limiter != nil {
		generateLimit = r.Limiter.GenerateLimit(r.RateLimit.GeneratePerMin)
		exportLimit = r.Limiter.ExportLimit(r.RateLimit.ExportPerHour)
	}

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		if r.Health != nil {
			services = r.Health()
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": services,
		})
	})

	api := app.Group("/api/v1")

	s := r.Studio
	api.Post("/projects", s.Create)
	p := api.Group("/projects/:projectId")
	p.Post("/open", s.Open)
	p.Get("/", s.Get)
	p.Patch("/settings", s.Configure)
	p.Put("/music", s.SetMusic)
	p.Get("/estimate", s.Estimate)

	p.Post("/transition", generateLimit, s.Transition)
	p.Post("/run", generateLimit, s.Run)
	p.Post("/retry", generateLimit, s.Retry)
	p.Post("/cancel", s.Cancel)
	p.Post("/undo", s.Undo)
	p.Post("/redo", s.Redo)
	p.Post("/export", exportLimit, s.Export)

	p.Post("/scenes/regenerate", generateLimit, s.RegenerateScene)
	p.Patch("/scenes/:sceneId", s.EditScene)
	p.Post("/shots/regenerate", generateLimit, s.RegenerateShots)
	p.Patch("/shots/:shotId", s.EditShot)
	p.Post("/shots/:shotId/image", generateLimit, s.RegenerateShotImage)
	p.Post("/characters/portraits", generateLimit, s.GeneratePortraits)
	p.Patch("/characters/:name", s.EditCharacter)
	p.Post("/characters/:name/verify", generateLimit, s.VerifyConsistency)
	p.Get("/blobs/:ref", s.Blob)

	p.Get("/snapshots", s.ListSnapshots)
	p.Post("/snapshots", s.CreateSnapshot)
	p.Get("/snapshots/stats", s.SnapshotStats)
	p.Post("/snapshots/:snapshotId/restore", s.RestoreSnapshot)
	p.Patch("/snapshots/:snapshotId", s.RenameSnapshot)
	p.Delete("/snapshots/:snapshotId", s.DeleteSnapshot)

	if r.Render != nil {
		api.Get("/jobs/:jobId", r.Render.Status)
		api.Post("/jobs/:jobId/cancel", r.Render.Cancel)
	}

	if r.Hub == nil {
		return
	}

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/projects/:projectId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, ws.ProjectTopic(c.Params("projectId")))
	}))

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, ws.JobTopic(c.Params("jobId")))
	}))
}
