package handler

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/session"
	"github.com/makeasinger/storystudio/internal/stage"
	"github.com/makeasinger/storystudio/pkg/response"
)

// TransitionRequest moves the open project to another stage. Confirm accepts
// the cost estimate when the move locks the project.
type TransitionRequest struct {
	To      model.StageID `json:"to" validate:"required,oneof=idea breakdown script characters shots style storyboard narration animation export"`
	Confirm bool          `json:"confirm"`
}

type RegenerateSceneRequest struct {
	SceneNumber int    `json:"sceneNumber" validate:"gte=1"`
	Feedback    string `json:"feedback" validate:"max=2000"`
}

type ShotsRequest struct {
	SceneIDs []string `json:"sceneIds" validate:"dive,required"`
}

type PortraitsRequest struct {
	Names []string `json:"names" validate:"dive,required"`
}

type MusicRequest struct {
	URL string `json:"url" validate:"omitempty,url"`
}

type SnapshotRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

type RenameRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

// ProjectResponse is the open project as the client sees it
type ProjectResponse struct {
	ProjectID        string              `json:"projectId"`
	State            *model.ProjectState `json:"state"`
	CanUndo          bool                `json:"canUndo"`
	CanRedo          bool                `json:"canRedo"`
	History          []string            `json:"history"`
	InFlight         bool                `json:"inFlight"`
	AutosaveDisabled bool                `json:"autosaveDisabled"`
	LastFailed       string              `json:"lastFailedOperation,omitempty"`
}

// OperationResponse acknowledges a generation that continues in the background
type OperationResponse struct {
	ProjectID string `json:"projectId"`
	Operation string `json:"operation"`
}

// StudioHandler exposes the session controller over HTTP. Generations run in
// the background; their progress and failures reach the project's websocket
// topic.
type StudioHandler struct {
	sessions  *session.Manager
	validator *validator.Validate
	timeout   time.Duration
	logger    *zap.Logger

	mu sync.Mutex
	// running holds projects whose background operation has been accepted
	running map[string]bool
}

func NewStudioHandler(sessions *session.Manager, v *validator.Validate, logger *zap.Logger) *StudioHandler {
	return &StudioHandler{
		sessions:  sessions,
		validator: v,
		timeout:   30 * time.Minute,
		logger:    logger.Named("StudioHandler"),
		running:   make(map[string]bool),
	}
}

// operator is the part of a session background operations need
type operator interface {
	ID() string
	InFlight() bool
}

func (h *StudioHandler) session(c *fiber.Ctx) (*session.Session, error) {
	return h.sessions.Get(c.Params("projectId"))
}

func (h *StudioHandler) parse(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return nil
}

func (h *StudioHandler) project(s *session.Session) ProjectResponse {
	return ProjectResponse{
		ProjectID:        s.ID(),
		State:            s.State(),
		CanUndo:          s.CanUndo(),
		CanRedo:          s.CanRedo(),
		History:          s.History(),
		InFlight:         h.busy(s),
		AutosaveDisabled: s.AutosaveDisabled(),
		LastFailed:       s.LastFailedOperation(),
	}
}

// background runs fn detached from the request. Its outcome is published to
// the project's subscribers by the session.
func (h *StudioHandler) background(c *fiber.Ctx, s operator, op string, fn func(ctx context.Context) error) error {
	if !h.reserve(s) {
		return response.FromError(c, model.NewError(model.KindBusy, "another stage operation is in progress"))
	}
	go func() {
		defer h.release(s.ID())
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.logger.Info("Operation ended with error", zap.String("project", s.ID()), zap.String("operation", op), zap.Error(err))
		}
	}()
	return response.Accepted(c, OperationResponse{ProjectID: s.ID(), Operation: op})
}

// reserve claims the project for one background operation. It fails while
// another accepted operation has not returned or a stage is running.
func (h *StudioHandler) reserve(s operator) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running[s.ID()] || s.InFlight() {
		return false
	}
	h.running[s.ID()] = true
	return true
}

// busy reports whether the project has an operation that has not returned yet.
func (h *StudioHandler) busy(s operator) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running[s.ID()] || s.InFlight()
}

func (h *StudioHandler) release(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.running, projectID)
}

// Create handles POST /api/v1/projects
func (h *StudioHandler) Create(c *fiber.Ctx) error {
	s, err := h.sessions.Open(c.UserContext(), "")
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, h.project(s))
}

// Open handles POST /api/v1/projects/:projectId/open
func (h *StudioHandler) Open(c *fiber.Ctx) error {
	s, err := h.sessions.Open(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// Get handles GET /api/v1/projects/:projectId
func (h *StudioHandler) Get(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// Configure handles PATCH /api/v1/projects/:projectId/settings
func (h *StudioHandler) Configure(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req session.Settings
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := s.Configure(req); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// EditScene handles PATCH /api/v1/projects/:projectId/scenes/:sceneId
func (h *StudioHandler) EditScene(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req session.SceneEdit
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := s.EditScene(c.Params("sceneId"), req); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// EditShot handles PATCH /api/v1/projects/:projectId/shots/:shotId
func (h *StudioHandler) EditShot(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req session.ShotEdit
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := s.EditShot(c.Params("shotId"), req); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// EditCharacter handles PATCH /api/v1/projects/:projectId/characters/:name
func (h *StudioHandler) EditCharacter(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req session.CharacterEdit
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := s.EditCharacter(c.Params("name"), req); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// SetMusic handles PUT /api/v1/projects/:projectId/music
func (h *StudioHandler) SetMusic(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req MusicRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	if err := s.SetMusic(req.URL); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// Transition handles POST /api/v1/projects/:projectId/transition. Gate
// failures are answered immediately; the stage's generation continues in the
// background.
func (h *StudioHandler) Transition(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req TransitionRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}

	st := s.State()
	if err := stage.Gate(st, req.To); err != nil {
		return response.FromError(c, err)
	}
	if stage.IsLockEdge(st.CurrentStep, req.To) && !st.IsLocked && !req.Confirm {
		return response.Error(c, fiber.StatusConflict, response.CodeConflict,
			"Locking the project needs the cost estimate to be confirmed", s.EstimateCost())
	}

	confirm := stage.WithConfirm(func(context.Context, model.CostEstimate) bool { return req.Confirm })
	return h.background(c, s, "transition to "+string(req.To), func(ctx context.Context) error {
		return s.RequestTransition(ctx, req.To, confirm)
	})
}

// Run handles POST /api/v1/projects/:projectId/run
func (h *StudioHandler) Run(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	return h.background(c, s, "run "+string(s.State().CurrentStep), s.RunStage)
}

// Cancel handles POST /api/v1/projects/:projectId/cancel
func (h *StudioHandler) Cancel(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if !s.CancelCurrent() {
		return response.FromError(c, model.NewError(model.KindGatePredicateUnmet, "no stage operation is running"))
	}
	return response.NoContent(c)
}

// Retry handles POST /api/v1/projects/:projectId/retry
func (h *StudioHandler) Retry(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	op := s.LastFailedOperation()
	if op == "" {
		return response.FromError(c, model.NewError(model.KindGatePredicateUnmet, "nothing to retry"))
	}
	return h.background(c, s, op, s.Retry)
}

// Undo handles POST /api/v1/projects/:projectId/undo
func (h *StudioHandler) Undo(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := s.Undo(); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// Redo handles POST /api/v1/projects/:projectId/redo
func (h *StudioHandler) Redo(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := s.Redo(); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// Estimate handles GET /api/v1/projects/:projectId/estimate
func (h *StudioHandler) Estimate(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, s.EstimateCost())
}

// RegenerateScene handles POST /api/v1/projects/:projectId/scenes/regenerate
func (h *StudioHandler) RegenerateScene(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req RegenerateSceneRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.background(c, s, "regenerate scene", func(ctx context.Context) error {
		return s.RegenerateScene(ctx, req.SceneNumber, req.Feedback)
	})
}

// RegenerateShots handles POST /api/v1/projects/:projectId/shots/regenerate
func (h *StudioHandler) RegenerateShots(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req ShotsRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.background(c, s, "regenerate shots", func(ctx context.Context) error {
		return s.RegenerateShots(ctx, req.SceneIDs...)
	})
}

// RegenerateShotImage handles POST /api/v1/projects/:projectId/shots/:shotId/image
func (h *StudioHandler) RegenerateShotImage(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	shotID := c.Params("shotId")
	return h.background(c, s, "regenerate image", func(ctx context.Context) error {
		return s.RegenerateShotImage(ctx, shotID)
	})
}

// GeneratePortraits handles POST /api/v1/projects/:projectId/characters/portraits
func (h *StudioHandler) GeneratePortraits(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req PortraitsRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.background(c, s, "generate portraits", func(ctx context.Context) error {
		return s.GeneratePortraits(ctx, req.Names...)
	})
}

// VerifyConsistency handles POST /api/v1/projects/:projectId/characters/:name/verify.
// The check is a single call, so it answers synchronously.
func (h *StudioHandler) VerifyConsistency(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	report, err := s.VerifyConsistency(c.UserContext(), c.Params("name"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, report)
}

// Export handles POST /api/v1/projects/:projectId/export
func (h *StudioHandler) Export(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := stage.Gate(s.State(), model.StageExport); err != nil {
		return response.FromError(c, err)
	}
	return h.background(c, s, "export", s.Export)
}

// Blob handles GET /api/v1/projects/:projectId/blobs/:ref
func (h *StudioHandler) Blob(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	data, contentType, ok := s.Blob(c.Params("ref"))
	if !ok {
		return response.NotFound(c, "Blob not found")
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(data)
}

// ListSnapshots handles GET /api/v1/projects/:projectId/snapshots?type=&limit=
func (h *StudioHandler) ListSnapshots(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	opts := model.ListOptions{
		Type:  model.SnapshotType(c.Query("type")),
		Limit: c.QueryInt("limit", 0),
	}
	list, err := s.ListSnapshots(c.UserContext(), opts)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"snapshots": list})
}

// CreateSnapshot handles POST /api/v1/projects/:projectId/snapshots
func (h *StudioHandler) CreateSnapshot(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req SnapshotRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	info, err := s.CreateSnapshot(c.UserContext(), req.Name, req.Description)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, info)
}

// RestoreSnapshot handles POST /api/v1/projects/:projectId/snapshots/:snapshotId/restore
func (h *StudioHandler) RestoreSnapshot(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := s.RestoreSnapshot(c.UserContext(), c.Params("snapshotId")); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.project(s))
}

// RenameSnapshot handles PATCH /api/v1/projects/:projectId/snapshots/:snapshotId
func (h *StudioHandler) RenameSnapshot(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req RenameRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	if err := s.RenameSnapshot(c.UserContext(), c.Params("snapshotId"), req.Name); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// DeleteSnapshot handles DELETE /api/v1/projects/:projectId/snapshots/:snapshotId
func (h *StudioHandler) DeleteSnapshot(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := s.DeleteSnapshot(c.UserContext(), c.Params("snapshotId")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// SnapshotStats handles GET /api/v1/projects/:projectId/snapshots/stats
func (h *StudioHandler) SnapshotStats(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return response.FromError(c, err)
	}
	stats, err := s.SnapshotStats(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, stats)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
