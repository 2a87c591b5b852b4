package stage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/model/modeltest"
	"github.com/makeasinger/storystudio/internal/state"
)

type fakeRunner struct {
	mu     sync.Mutex
	stages []model.StageID
	run    func(ctx context.Context, stage model.StageID) error
}

func (r *fakeRunner) RunStage(ctx context.Context, stage model.StageID) error {
	r.mu.Lock()
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, stage)
	}
	return nil
}

func (r *fakeRunner) ran() []model.StageID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StageID(nil), r.stages...)
}

type fixedEstimate struct{ calls int }

func (e *fixedEstimate) EstimateCost(s *model.ProjectState) model.CostEstimate {
	e.calls++
	return model.CostEstimate{SceneCount: len(s.Breakdown), Total: 1.5, Currency: "USD"}
}

type recorder struct {
	mu     sync.Mutex
	events []model.StageEvent
}

func (r *recorder) listen(ev model.StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []model.StageEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.StageEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func newMachine(initial *model.ProjectState, runner *fakeRunner) (*Machine, *state.Store, *recorder, *fixedEstimate) {
	st := state.New(initial, state.Options{}, zap.NewNop())
	est := &fixedEstimate{}
	m := New(st, runner, est, zap.NewNop())
	rec := &recorder{}
	m.Subscribe(rec.listen)
	return m, st, rec, est
}

func accept(ctx context.Context, est model.CostEstimate) bool { return true }

func TestTransitionEntersAndRunsNewStage(t *testing.T) {
	s := model.NewProjectState()
	s.Topic, s.Genre = "A lighthouse keeper's last night", "Drama"
	runner := &fakeRunner{}
	m, st, rec, _ := newMachine(s, runner)

	require.NoError(t, m.RequestTransition(context.Background(), model.StageBreakdown))

	assert.Equal(t, model.StageBreakdown, st.Read().CurrentStep)
	assert.Equal(t, model.StageBreakdown, st.Read().FurthestStep)
	assert.Equal(t, []model.StageID{model.StageBreakdown}, runner.ran())
	assert.Equal(t, []model.StageEventType{model.StageExited, model.StageEntered}, rec.types())
}

func TestTransitionRejectsUnmetGateWithoutSideEffects(t *testing.T) {
	runner := &fakeRunner{}
	m, st, rec, _ := newMachine(model.NewProjectState(), runner)

	err := m.RequestTransition(context.Background(), model.StageBreakdown)

	assert.True(t, model.IsKind(err, model.KindGatePredicateUnmet))
	assert.Equal(t, model.StageIdea, st.Read().CurrentStep)
	assert.False(t, st.CanUndo())
	assert.Empty(t, rec.types())
	assert.Empty(t, runner.ran())
}

func TestLockRequiresConfirmation(t *testing.T) {
	m, st, _, est := newMachine(modeltest.Scripted(3), &fakeRunner{})

	err := m.RequestTransition(context.Background(), model.StageCharacters,
		WithConfirm(func(ctx context.Context, e model.CostEstimate) bool {
			assert.Equal(t, 3, e.SceneCount)
			return false
		}))

	assert.True(t, model.IsKind(err, model.KindGatePredicateUnmet))
	assert.False(t, st.Read().IsLocked)
	assert.Equal(t, 1, est.calls)

	require.NoError(t, m.RequestTransition(context.Background(), model.StageCharacters, WithConfirm(accept)))
	assert.True(t, st.Read().IsLocked)
	assert.Equal(t, model.StageCharacters, st.Read().CurrentStep)
}

func TestLockWithoutConfirmCallbackIsRejected(t *testing.T) {
	m, st, _, _ := newMachine(modeltest.Scripted(1), &fakeRunner{})

	err := m.RequestTransition(context.Background(), model.StageCharacters)

	assert.Error(t, err)
	assert.False(t, st.Read().IsLocked)
}

func TestBackwardJumpDoesNotGenerate(t *testing.T) {
	runner := &fakeRunner{}
	m, st, _, _ := newMachine(modeltest.Storyboarded(2, 1), runner)

	require.NoError(t, m.RequestTransition(context.Background(), model.StageScript))

	assert.Equal(t, model.StageScript, st.Read().CurrentStep)
	assert.Equal(t, model.StageStoryboard, st.Read().FurthestStep)
	assert.Empty(t, runner.ran())
}

func TestStageFailureKeepsEnteredStage(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, stage model.StageID) error {
		return model.NewError(model.KindUnavailable, "text provider down")
	}}
	s := model.NewProjectState()
	s.Topic, s.Genre = "t", "g"
	m, st, rec, _ := newMachine(s, runner)

	err := m.RequestTransition(context.Background(), model.StageBreakdown)

	assert.True(t, model.IsKind(err, model.KindUnavailable))
	assert.Equal(t, model.StageBreakdown, st.Read().CurrentStep)
	assert.Equal(t, []model.StageEventType{model.StageExited, model.StageEntered, model.StageFailed}, rec.types())
}

func TestBusyWhileStageInFlightAndCancel(t *testing.T) {
	started := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, stage model.StageID) error {
		close(started)
		<-ctx.Done()
		return model.WrapError(model.KindCanceled, ctx.Err(), "storyboard canceled")
	}}
	s := modeltest.Storyboarded(2, 1)
	s.CurrentStep = model.StageStyle
	m, st, rec, _ := newMachine(s, runner)

	done := make(chan error, 1)
	go func() { done <- m.RequestTransition(context.Background(), model.StageStoryboard) }()
	<-started

	assert.True(t, m.InFlight())
	err := m.RequestTransition(context.Background(), model.StageShots)
	assert.True(t, model.IsKind(err, model.KindBusy))
	assert.True(t, model.IsKind(m.RunStage(context.Background()), model.KindBusy))

	require.True(t, m.Cancel())
	select {
	case err := <-done:
		assert.True(t, model.IsKind(err, model.KindCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("transition did not settle after cancel")
	}

	assert.False(t, m.InFlight())
	assert.Equal(t, model.StageStoryboard, st.Read().CurrentStep)
	assert.Contains(t, rec.types(), model.StageCanceled)
	assert.NotContains(t, rec.types(), model.StageFailed)
}

func TestRunStageRerunsCurrentStage(t *testing.T) {
	runner := &fakeRunner{}
	m, _, _, _ := newMachine(modeltest.Storyboarded(1, 1), runner)

	require.NoError(t, m.RunStage(context.Background()))

	assert.Equal(t, []model.StageID{model.StageStoryboard}, runner.ran())
}

func TestProgressAndWarningsReachListeners(t *testing.T) {
	m, _, rec, _ := newMachine(model.NewProjectState(), &fakeRunner{})

	m.Progress(model.StageStoryboard, "3/10 images", 30)
	m.Warn(model.StageBreakdown, "truncated to 50 scenes")

	assert.Equal(t, []model.StageEventType{model.StageProgress, model.StageWarning}, rec.types())
}
