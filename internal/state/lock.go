package state

import (
	"reflect"

	"github.com/makeasinger/storystudio/internal/model"
)

// checkLock enforces the lock: once a project is locked its breakdown and
// script are frozen, and the cast is frozen after the characters stage.
// Only undo can cross the lock boundary.
func checkLock(prev, next *model.ProjectState) error {
	if !prev.IsLocked {
		return nil
	}
	if !next.IsLocked {
		return model.NewError(model.KindLocked, "project is locked; undo past the lock to unlock it")
	}
	if !reflect.DeepEqual(prev.Breakdown, next.Breakdown) {
		return model.NewError(model.KindLocked, "breakdown is locked")
	}
	if !reflect.DeepEqual(prev.Script, next.Script) {
		return model.NewError(model.KindLocked, "script is locked")
	}
	if model.StageCharacters.Before(prev.CurrentStep) && !sameCast(prev.Characters, next.Characters) {
		return model.NewError(model.KindLocked, "cast is locked")
	}
	return nil
}

// sameCast compares character identity, ignoring portraits.
func sameCast(a, b []model.CharacterProfile) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		x.ReferenceImageURL, y.ReferenceImageURL = "", ""
		if x != y {
			return false
		}
	}
	return true
}
