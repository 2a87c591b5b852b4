package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/storystudio/internal/service"
	"github.com/makeasinger/storystudio/pkg/response"
)

// RenderHandler reports queued export renders
type RenderHandler struct {
	queue *service.RenderQueue
}

func NewRenderHandler(queue *service.RenderQueue) *RenderHandler {
	return &RenderHandler{queue: queue}
}

// Status handles GET /api/v1/jobs/:jobId
func (h *RenderHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.queue.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/v1/jobs/:jobId/cancel
func (h *RenderHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	if err := h.queue.CancelRender(c.UserContext(), jobID); err != nil {
		return response.FromError(c, err)
	}

	return response.NoContent(c)
}
