package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/orchestrator"
	"github.com/makeasinger/storystudio/internal/service"
	"github.com/makeasinger/storystudio/internal/snapshot"
	"github.com/makeasinger/storystudio/internal/stage"
	"github.com/makeasinger/storystudio/internal/state"
)

// Deps are the shared services a session is built from
type Deps struct {
	Config       *config.Config
	Snapshots    *snapshot.Store
	Providers    *client.Providers
	Orchestrator *orchestrator.Orchestrator
	Estimator    stage.Estimator
	// Registry receives metadata updates. Nil disables the sync.
	Registry MetadataSyncer
	Logger   *zap.Logger
}

// Option customizes a session
type Option func(*Session)

// WithConfirm sets the callback that accepts the cost estimate when the
// project locks.
func WithConfirm(fn stage.ConfirmFunc) Option {
	return func(s *Session) { s.confirm = fn }
}

// ProgressListener observes stage events
type ProgressListener func(ev model.StageEvent)

// ErrorListener observes surfaced failures
type ErrorListener func(ev model.ErrorEvent)

type failedOp struct {
	name string
	run  func(ctx context.Context) error
}

// Session wires the state store, stage machine and pipeline of one open
// project, and owns its auto-save, blobs and metadata sync.
type Session struct {
	id        string
	store     *state.Store
	machine   *stage.Machine
	pipeline  *service.Pipeline
	snapshots *snapshot.Store
	blobs     *BlobRegistry
	autosave  *autosaver
	meta      *metadataSync
	estimator stage.Estimator
	confirm   stage.ConfirmFunc
	logger    *zap.Logger

	mu         sync.Mutex
	progress   map[int]ProgressListener
	errors     map[int]ErrorListener
	nextSub    int
	lastFailed *failedOp

	stopMeta    context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// Open starts a session. A supplied projectID hydrates the most recent
// snapshot of that project; otherwise the project starts empty under a new id.
func Open(ctx context.Context, deps Deps, projectID string, opts ...Option) (*Session, error) {
	initial := model.NewProjectState()
	known := projectID != ""
	if !known {
		projectID = uuid.NewString()
	}
	logger := deps.Logger.Named("session").With(zap.String("project", projectID))

	if known {
		snap, err := deps.Snapshots.Latest(ctx, projectID)
		switch {
		case err == nil:
			initial = snap.State
			initial.ScenesWithVisuals = initial.ComputeScenesWithVisuals()
			if verr := state.Validate(initial); verr != nil {
				return nil, model.WrapError(model.KindCorrupt, verr, "snapshot %s of project %s is inconsistent", snap.ID, projectID)
			}
			logger.Info("Project hydrated", zap.String("snapshot", snap.ID), zap.String("step", string(initial.CurrentStep)))
		case model.IsKind(err, model.KindNotFound):
			logger.Info("Starting new project")
		default:
			return nil, err
		}
	}

	cfg := deps.Config
	s := &Session{
		id:        projectID,
		snapshots: deps.Snapshots,
		blobs:     NewBlobRegistry(logger),
		estimator: deps.Estimator,
		logger:    logger,
		progress:  make(map[int]ProgressListener),
		errors:    make(map[int]ErrorListener),
	}
	for _, opt := range opts {
		opt(s)
	}

	if lost := s.blobs.DropLost(initial); len(lost) > 0 {
		logger.Warn("Narration audio did not survive the previous session", zap.Strings("scenes", lost))
	}
	s.store = state.New(initial, state.Options{
		Capacity:          cfg.History.Capacity,
		KeepRedoOnRestore: cfg.History.KeepRedoOnRestore,
	}, logger)
	s.pipeline = service.New(s.store, deps.Providers, deps.Orchestrator, s, s.blobs, service.Options{
		ProjectID:   projectID,
		Concurrency: cfg.Concurrency,
		Voice:       cfg.Speech.Voice,
	}, logger)
	s.machine = stage.New(s.store, s.pipeline, deps.Estimator, logger)
	s.machine.Subscribe(s.onStageEvent)
	s.autosave = newAutosaver(cfg.Autosave, s.autoSnapshot, func(err error) {
		s.reportError("autosave", err, true)
	}, logger)

	metaCtx, stop := context.WithCancel(context.Background())
	s.stopMeta = stop
	if deps.Registry != nil {
		s.meta = newMetadataSync(deps.Registry, projectID, model.MetadataOf(s.store.Read()), !known, logger)
		go s.meta.run(metaCtx)
	}

	s.unsubscribe = s.store.Subscribe(s.onCommit)
	return s, nil
}

func (s *Session) ID() string { return s.id }

// State returns a copy of the current project state.
func (s *Session) State() *model.ProjectState { return s.store.Read() }

func (s *Session) CanUndo() bool { return s.store.CanUndo() }

func (s *Session) CanRedo() bool { return s.store.CanRedo() }

// History lists the undoable mutations, oldest first.
func (s *Session) History() []string { return s.store.History() }

// InFlight reports whether a stage operation is running.
func (s *Session) InFlight() bool { return s.machine.InFlight() }

// AutosaveDisabled reports whether a storage failure turned auto-save off.
func (s *Session) AutosaveDisabled() bool { return s.autosave.Disabled() }

// Blob returns generated media that has no durable URL.
func (s *Session) Blob(ref string) ([]byte, string, bool) {
	data, ok := s.blobs.Get(ref)
	if !ok {
		return nil, "", false
	}
	return data, s.blobs.ContentType(ref), true
}

// LastFailedOperation names the operation Retry would run, if any.
func (s *Session) LastFailedOperation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFailed == nil {
		return ""
	}
	return s.lastFailed.name
}

// SubscribeState registers a listener for committed states.
func (s *Session) SubscribeState(fn state.Listener) (unsubscribe func()) {
	return s.store.Subscribe(fn)
}

// SubscribeProgress registers a listener for stage events.
func (s *Session) SubscribeProgress(fn ProgressListener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.progress[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.progress, id)
	}
}

// SubscribeError registers a listener for surfaced failures.
func (s *Session) SubscribeError(fn ErrorListener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.errors[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.errors, id)
	}
}

// Progress implements service.Reporter.
func (s *Session) Progress(stage model.StageID, message string, percent float64) {
	s.machine.Progress(stage, message, percent)
}

// Warn implements service.Reporter.
func (s *Session) Warn(stage model.StageID, message string) {
	s.machine.Warn(stage, message)
}

func (s *Session) onStageEvent(ev model.StageEvent) {
	if ev.Type == model.StageEntered {
		s.autosave.saveNow()
	}
	s.mu.Lock()
	listeners := make([]ProgressListener, 0, len(s.progress))
	for _, fn := range s.progress {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (s *Session) onCommit(ev model.StateEvent) {
	s.autosave.touch()
	if s.meta != nil {
		s.meta.observe(ev.State)
	}
	s.blobs.Sweep(s.store.EachState)
}

func (s *Session) reportError(op string, err error, persistent bool) {
	ev := model.NewErrorEvent(op, err)
	ev.Persistent = persistent
	s.mu.Lock()
	listeners := make([]ErrorListener, 0, len(s.errors))
	for _, fn := range s.errors {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// finish settles a session operation: it releases orphaned blobs, keeps the
// retry handle and surfaces the failure. Lifecycle failures have no side
// effects and are not retried; cancellation is reported as a stage event.
func (s *Session) finish(op string, err error, retry func(ctx context.Context) error) error {
	if !s.machine.InFlight() {
		s.blobs.Settle()
		s.blobs.Sweep(s.store.EachState)
	}

	s.mu.Lock()
	switch {
	case err == nil:
		if s.lastFailed != nil && s.lastFailed.name == op {
			s.lastFailed = nil
		}
	case retry != nil && model.KindOf(err).Category() != model.CategoryLifecycle:
		s.lastFailed = &failedOp{name: op, run: retry}
	}
	s.mu.Unlock()

	if err == nil {
		return nil
	}
	if !model.IsKind(err, model.KindCanceled) {
		s.reportError(op, err, false)
	}
	return err
}

// Retry runs the last failed operation again.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	op := s.lastFailed
	s.lastFailed = nil
	s.mu.Unlock()
	if op == nil {
		return model.NewError(model.KindGatePredicateUnmet, "there is no failed operation to retry")
	}
	s.logger.Info("Retrying operation", zap.String("operation", op.name))
	return op.run(ctx)
}

// RequestTransition moves the project to stage to and runs its generation.
func (s *Session) RequestTransition(ctx context.Context, to model.StageID, opts ...stage.TransitionOption) error {
	all := opts
	if s.confirm != nil {
		all = append([]stage.TransitionOption{stage.WithConfirm(s.confirm)}, opts...)
	}
	err := s.machine.RequestTransition(ctx, to, all...)
	return s.finish(fmt.Sprintf("transition to %s", to), err, func(ctx context.Context) error {
		if s.store.Read().CurrentStep == to {
			return s.RunStage(ctx)
		}
		return s.RequestTransition(ctx, to, opts...)
	})
}

// RunStage runs the generation of the current stage again.
func (s *Session) RunStage(ctx context.Context) error {
	stg := s.store.Read().CurrentStep
	err := s.machine.RunStage(ctx)
	return s.finish(fmt.Sprintf("run %s", stg), err, s.RunStage)
}

// CancelCurrent cancels the running stage operation. Finished work is kept.
func (s *Session) CancelCurrent() bool {
	return s.machine.Cancel()
}

// EstimateCost prices the remaining generation of the project.
func (s *Session) EstimateCost() model.CostEstimate {
	return s.estimator.EstimateCost(s.store.Read())
}

// generation runs fn as the in-flight operation of the current stage.
func (s *Session) generation(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.machine.Do(ctx, s.store.Read().CurrentStep, fn)
	return s.finish(op, err, func(ctx context.Context) error {
		return s.generation(ctx, op, fn)
	})
}

func (s *Session) idle() error {
	if s.machine.InFlight() {
		return model.NewError(model.KindBusy, "a stage operation is in progress")
	}
	return nil
}

// Undo reverts the last mutation. It is refused while a stage runs.
func (s *Session) Undo() error {
	err := s.idle()
	if err == nil {
		err = s.store.Undo()
	}
	return s.finish("undo", err, nil)
}

// Redo re-applies the last undone mutation.
func (s *Session) Redo() error {
	err := s.idle()
	if err == nil {
		err = s.store.Redo()
	}
	return s.finish("redo", err, nil)
}

// Close cancels running work, saves a pending change and stops background
// goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.machine.Cancel()
		s.autosave.close()
		s.unsubscribe()
		s.stopMeta()
		if s.meta != nil {
			<-s.meta.done
		}
		s.logger.Info("Session closed")
	})
}
