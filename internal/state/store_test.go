package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/model/modeltest"
)

func newStore(initial *model.ProjectState) *Store {
	return New(initial, Options{Capacity: 50}, zap.NewNop())
}

func editHeading(i int, heading string) Mutation {
	return func(s *model.ProjectState) error {
		s.Breakdown[i].Heading = heading
		if s.Script != nil {
			s.Script.Scenes[i].Heading = heading
		}
		return nil
	}
}

func TestApplyThenUndoRestoresPriorState(t *testing.T) {
	st := newStore(modeltest.Scripted(3))
	before := st.Read()

	require.NoError(t, st.Apply("edit", editHeading(1, "EXT. PIER - DAY")))
	assert.Equal(t, "EXT. PIER - DAY", st.Read().Breakdown[1].Heading)

	require.NoError(t, st.Undo())
	assert.Equal(t, before, st.Read())
	assert.True(t, st.CanRedo())
	assert.False(t, st.CanUndo())
}

func TestUndoRedoIsIdentity(t *testing.T) {
	st := newStore(modeltest.Scripted(3))
	require.NoError(t, st.Apply("edit", editHeading(0, "A")))
	after := st.Read()

	require.NoError(t, st.Undo())
	require.NoError(t, st.Redo())

	assert.Equal(t, after, st.Read())
}

func TestApplyClearsRedo(t *testing.T) {
	st := newStore(modeltest.Scripted(2))
	require.NoError(t, st.Apply("a", editHeading(0, "A")))
	require.NoError(t, st.Undo())
	require.True(t, st.CanRedo())

	require.NoError(t, st.Apply("b", editHeading(0, "B")))

	assert.False(t, st.CanRedo())
	assert.Error(t, st.Redo())
}

func TestApplyRollsBackInvariantViolations(t *testing.T) {
	st := newStore(modeltest.Scripted(2))
	before := st.Read()

	err := st.Apply("orphan shot", func(s *model.ProjectState) error {
		s.Shots = append(s.Shots, model.Shot{ID: "x", SceneID: "missing", ShotNumber: 1, DurationEst: 2})
		return nil
	})

	assert.True(t, model.IsKind(err, model.KindInvariantViolation))
	assert.Equal(t, before, st.Read())
	assert.False(t, st.CanUndo())
}

func TestApplyRejectsDuplicateCharacterNames(t *testing.T) {
	st := newStore(modeltest.Scripted(1))

	err := st.Apply("cast", func(s *model.ProjectState) error {
		s.Characters = []model.CharacterProfile{
			{ID: "a", Name: "Mara"},
			{ID: "b", Name: "MARA (V.O.)"},
		}
		return nil
	})

	assert.True(t, model.IsKind(err, model.KindInvariantViolation))
}

func TestApplyRejectsMisnumberedScenes(t *testing.T) {
	st := newStore(modeltest.Scripted(2))

	err := st.Apply("swap", func(s *model.ProjectState) error {
		s.Breakdown[0].SceneNumber = 2
		return nil
	})

	assert.True(t, model.IsKind(err, model.KindInvariantViolation))
}

func TestListenersRunSynchronouslyInOrder(t *testing.T) {
	st := newStore(modeltest.Scripted(1))
	var seen []string

	st.Subscribe(func(ev model.StateEvent) {
		seen = append(seen, "first:"+ev.State.Breakdown[0].Heading)
	})
	unsubscribe := st.Subscribe(func(ev model.StateEvent) {
		seen = append(seen, "second:"+ev.Label)
		assert.True(t, ev.CanUndo)
	})

	require.NoError(t, st.Apply("rename", editHeading(0, "H")))
	assert.Equal(t, []string{"first:H", "second:rename"}, seen)

	unsubscribe()
	require.NoError(t, st.Apply("again", editHeading(0, "I")))
	assert.Equal(t, []string{"first:H", "second:rename", "first:I"}, seen)
}

func TestListenersMayReadTheStore(t *testing.T) {
	st := newStore(modeltest.Scripted(1))
	var heading string
	st.Subscribe(func(ev model.StateEvent) {
		heading = st.Read().Breakdown[0].Heading
	})

	require.NoError(t, st.Apply("rename", editHeading(0, "Z")))

	assert.Equal(t, "Z", heading)
}

func TestHistoryIsBounded(t *testing.T) {
	st := New(modeltest.Scripted(1), Options{Capacity: 3}, zap.NewNop())
	for _, h := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, st.Apply(h, editHeading(0, h)))
	}

	assert.Equal(t, []string{"c", "d", "e"}, st.History())
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Undo())
	}
	assert.Equal(t, "b", st.Read().Breakdown[0].Heading)
	assert.Error(t, st.Undo())
}

func TestScenesWithVisualsIsDerived(t *testing.T) {
	st := newStore(modeltest.Storyboarded(2, 2))
	assert.Empty(t, st.Read().ScenesWithVisuals)

	require.NoError(t, st.Apply("image", func(s *model.ProjectState) error {
		s.Shots[0].ImageURL = "https://img/1.png"
		s.Shots[1].ImageURL = "https://img/2.png"
		s.ScenesWithVisuals = []string{"bogus"}
		return nil
	}))

	assert.Equal(t, []string{"scene-1"}, st.Read().ScenesWithVisuals)
}

func TestCheckDoesNotCommit(t *testing.T) {
	st := newStore(modeltest.Scripted(1))

	require.NoError(t, st.Check(editHeading(0, "dry run")))

	assert.NotEqual(t, "dry run", st.Read().Breakdown[0].Heading)
	assert.False(t, st.CanUndo())
}

func TestReplaceClearsRedoByDefault(t *testing.T) {
	st := newStore(modeltest.Scripted(1))
	require.NoError(t, st.Apply("a", editHeading(0, "A")))
	require.NoError(t, st.Undo())

	require.NoError(t, st.Replace("restore", modeltest.Locked(2)))

	assert.False(t, st.CanRedo())
	assert.True(t, st.Read().IsLocked)
	require.NoError(t, st.Undo())
	assert.False(t, st.Read().IsLocked)
}

func TestReplaceCanKeepRedo(t *testing.T) {
	st := New(modeltest.Scripted(1), Options{KeepRedoOnRestore: true}, zap.NewNop())
	require.NoError(t, st.Apply("a", editHeading(0, "A")))
	require.NoError(t, st.Undo())

	require.NoError(t, st.Replace("restore", modeltest.Scripted(1)))

	assert.True(t, st.CanRedo())
}

func TestReplaceRejectsBrokenState(t *testing.T) {
	st := newStore(nil)
	bad := modeltest.Scripted(2)
	bad.Breakdown[1].SceneNumber = 7

	err := st.Replace("restore", bad)

	assert.True(t, model.IsKind(err, model.KindInvariantViolation))
	assert.Equal(t, model.StageIdea, st.Read().CurrentStep)
}

func TestAnimationNeedsImagedShot(t *testing.T) {
	s := modeltest.Storyboarded(1, 1)
	s.AnimatedShots = []model.AnimatedShot{{ShotID: s.Shots[0].ID, VideoURL: "https://v.test/1.mp4"}}

	err := Validate(s)
	assert.True(t, model.IsKind(err, model.KindInvariantViolation))

	st := newStore(nil)
	assert.True(t, model.IsKind(st.Replace("restore", s), model.KindInvariantViolation))

	s.Shots[0].ImageURL = "https://img.test/1.png"
	assert.NoError(t, Validate(s))
}
