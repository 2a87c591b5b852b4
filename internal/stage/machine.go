package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/state"
)

// Runner performs the generation work of a stage
type Runner interface {
	RunStage(ctx context.Context, stage model.StageID) error
}

// Estimator prices the expensive stages before the project locks
type Estimator interface {
	EstimateCost(s *model.ProjectState) model.CostEstimate
}

// ConfirmFunc asks the user to accept the lock estimate
type ConfirmFunc func(ctx context.Context, est model.CostEstimate) bool

// Listener observes stage events
type Listener func(ev model.StageEvent)

type transitionOptions struct {
	confirm ConfirmFunc
}

// TransitionOption customizes RequestTransition
type TransitionOption func(*transitionOptions)

// WithConfirm sets the callback that accepts or declines the lock estimate.
func WithConfirm(fn ConfirmFunc) TransitionOption {
	return func(o *transitionOptions) { o.confirm = fn }
}

// Machine moves a project through the pipeline stages. At most one stage
// operation is in flight; others fail with Busy.
type Machine struct {
	store     *state.Store
	runner    Runner
	estimator Estimator
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	inFlight  bool
	cancel    context.CancelFunc
	listeners []Listener
}

func New(store *state.Store, runner Runner, estimator Estimator, logger *zap.Logger) *Machine {
	return &Machine{
		store:     store,
		runner:    runner,
		estimator: estimator,
		logger:    logger.Named("stage"),
		now:       time.Now,
	}
}

// Subscribe registers a listener for stage events.
func (m *Machine) Subscribe(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Machine) emit(ev model.StageEvent) {
	ev.Timestamp = m.now().UTC()
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Progress emits a stageProgress event.
func (m *Machine) Progress(stage model.StageID, message string, percent float64) {
	m.emit(model.StageEvent{Type: model.StageProgress, Stage: stage, Message: message, Percent: percent})
}

// Warn emits a warning event.
func (m *Machine) Warn(stage model.StageID, message string) {
	m.logger.Warn("Stage warning", zap.String("stage", string(stage)), zap.String("message", message))
	m.emit(model.StageEvent{Type: model.StageWarning, Stage: stage, Message: message})
}

// InFlight reports whether a stage operation is running.
func (m *Machine) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Cancel signals the running stage operation. It reports whether one was running.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inFlight || m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

func (m *Machine) begin(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return nil, model.NewError(model.KindBusy, "another stage operation is in progress")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.inFlight = true
	m.cancel = cancel
	return ctx, nil
}

func (m *Machine) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.inFlight = false
	m.cancel = nil
}

// Do runs fn as the in-flight operation of stage. Failures are reported as
// stageFailed, cancellation as stageCanceled.
func (m *Machine) Do(ctx context.Context, stage model.StageID, fn func(ctx context.Context) error) error {
	ctx, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer m.end()
	return m.settle(stage, fn(ctx))
}

func (m *Machine) settle(stage model.StageID, err error) error {
	switch {
	case err == nil:
		return nil
	case model.IsKind(err, model.KindCanceled):
		m.logger.Info("Stage canceled", zap.String("stage", string(stage)))
		m.emit(model.StageEvent{Type: model.StageCanceled, Stage: stage, Reason: err.Error()})
	default:
		m.logger.Warn("Stage failed", zap.String("stage", string(stage)), zap.Error(err))
		m.emit(model.StageEvent{Type: model.StageFailed, Stage: stage, Reason: err.Error()})
	}
	return err
}

// RunStage runs the generation of the current stage again. Incremental
// stages only request what is missing.
func (m *Machine) RunStage(ctx context.Context) error {
	stage := m.store.Read().CurrentStep
	return m.Do(ctx, stage, func(ctx context.Context) error {
		return m.runner.RunStage(ctx, stage)
	})
}

// RequestTransition moves the project to stage to. Entering the characters
// stage from the script locks the project once the caller confirms the cost
// estimate. Newly reached stages, incremental stages and export then run
// their generation; a failure there leaves the project at the new stage.
func (m *Machine) RequestTransition(ctx context.Context, to model.StageID, opts ...TransitionOption) error {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer m.end()

	s := m.store.Read()
	from, furthest := s.CurrentStep, s.FurthestStep
	if err := Gate(s, to); err != nil {
		return err
	}

	lock := IsLockEdge(from, to) && !s.IsLocked
	if lock {
		est := m.estimator.EstimateCost(s)
		if o.confirm == nil || !o.confirm(ctx, est) {
			return model.NewError(model.KindGatePredicateUnmet, "the cost estimate was not confirmed")
		}
	}

	err = m.store.Apply(fmt.Sprintf("go to %s", to), func(s *model.ProjectState) error {
		if s.CurrentStep != from {
			return model.NewError(model.KindBusy, "the project moved while the transition was pending")
		}
		s.CurrentStep = to
		if s.FurthestStep.Before(to) {
			s.FurthestStep = to
		}
		if lock {
			s.IsLocked = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("Stage transition", zap.String("from", string(from)), zap.String("to", string(to)), zap.Bool("locked", lock))
	if from != to {
		m.emit(model.StageEvent{Type: model.StageExited, Stage: from})
	}
	m.emit(model.StageEvent{Type: model.StageEntered, Stage: to})

	if !generatesOnEntry(from, to, furthest) {
		return nil
	}
	return m.settle(to, m.runner.RunStage(ctx, to))
}
