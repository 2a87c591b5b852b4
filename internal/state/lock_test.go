package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/model/modeltest"
)

// lockedStore returns a store whose last two mutations are the lock and the cast.
func lockedStore(t *testing.T) *Store {
	t.Helper()
	st := newStore(modeltest.Scripted(3))
	require.NoError(t, st.Apply("lock", func(s *model.ProjectState) error {
		s.IsLocked = true
		s.CurrentStep = model.StageCharacters
		s.FurthestStep = model.StageCharacters
		return nil
	}))
	require.NoError(t, st.Apply("cast", func(s *model.ProjectState) error {
		s.Characters = []model.CharacterProfile{{ID: "c1", Name: "Mara", Role: "protagonist"}}
		return nil
	}))
	return st
}

func TestLockedProjectRejectsScriptEdits(t *testing.T) {
	st := lockedStore(t)

	err := st.Apply("edit", editHeading(0, "EXT. BEACH - DAY"))

	assert.True(t, model.IsKind(err, model.KindLocked))
}

func TestUndoAcrossLockReenablesEditsAndRedoRelocks(t *testing.T) {
	st := lockedStore(t)
	edit := editHeading(0, "EXT. BEACH - DAY")

	require.NoError(t, st.Undo())
	require.NoError(t, st.Undo())
	assert.False(t, st.Read().IsLocked)
	assert.NoError(t, st.Check(edit))

	require.NoError(t, st.Redo())
	require.NoError(t, st.Redo())
	assert.True(t, st.Read().IsLocked)
	assert.True(t, model.IsKind(st.Check(edit), model.KindLocked))
}

func TestEditAfterUndoingLockSucceeds(t *testing.T) {
	st := lockedStore(t)
	require.NoError(t, st.Undo())
	require.NoError(t, st.Undo())

	require.NoError(t, st.Apply("edit", editHeading(0, "EXT. BEACH - DAY")))

	assert.Equal(t, "EXT. BEACH - DAY", st.Read().Breakdown[0].Heading)
	assert.False(t, st.CanRedo())
}

func TestApplyCannotUnlock(t *testing.T) {
	st := lockedStore(t)

	err := st.Apply("unlock", func(s *model.ProjectState) error {
		s.IsLocked = false
		return nil
	})

	assert.True(t, model.IsKind(err, model.KindLocked))
}

func TestCastFreezesAfterCharactersStage(t *testing.T) {
	st := lockedStore(t)
	addCharacter := func(s *model.ProjectState) error {
		s.Characters = append(s.Characters, model.CharacterProfile{ID: "c2", Name: "Jonah"})
		return nil
	}
	require.NoError(t, st.Check(addCharacter))

	require.NoError(t, st.Apply("to shots", func(s *model.ProjectState) error {
		s.CurrentStep = model.StageShots
		s.FurthestStep = model.StageShots
		return nil
	}))

	assert.True(t, model.IsKind(st.Check(addCharacter), model.KindLocked))
	assert.NoError(t, st.Check(func(s *model.ProjectState) error {
		s.Characters[0].ReferenceImageURL = "https://img/mara-v2.png"
		return nil
	}))
}
