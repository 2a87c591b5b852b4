package state

import (
	"github.com/go-playground/validator/v10"

	"github.com/makeasinger/storystudio/internal/model"
)

var validate = validator.New()

func violation(format string, args ...interface{}) error {
	return model.NewError(model.KindInvariantViolation, format, args...)
}

// Validate checks every structural invariant of a project state.
func Validate(s *model.ProjectState) error {
	if err := validate.Struct(s); err != nil {
		return model.WrapError(model.KindInvariantViolation, err, "state failed field validation")
	}
	if !s.CurrentStep.Valid() {
		return violation("unknown current step %q", s.CurrentStep)
	}
	if s.FurthestStep != "" && s.FurthestStep.Before(s.CurrentStep) {
		return violation("furthest step %s is behind current step %s", s.FurthestStep, s.CurrentStep)
	}

	scenes := make(map[string]int, len(s.Breakdown))
	for i, sc := range s.Breakdown {
		if sc.SceneNumber != i+1 {
			return violation("scene %s at position %d has number %d", sc.ID, i+1, sc.SceneNumber)
		}
		if _, dup := scenes[sc.ID]; dup {
			return violation("duplicate scene id %s", sc.ID)
		}
		scenes[sc.ID] = i
	}

	if s.Script != nil {
		if len(s.Script.Scenes) != len(s.Breakdown) {
			return violation("script has %d scenes, breakdown has %d", len(s.Script.Scenes), len(s.Breakdown))
		}
		for i, sc := range s.Script.Scenes {
			if sc.ID != s.Breakdown[i].ID || sc.SceneNumber != i+1 {
				return violation("script scene %d is not aligned with the breakdown", i+1)
			}
		}
	}

	names := make(map[string]bool, len(s.Characters))
	ids := make(map[string]bool, len(s.Characters))
	for _, c := range s.Characters {
		key := model.NormalizeName(c.Name)
		if names[key] {
			return violation("duplicate character name %q", c.Name)
		}
		if ids[c.ID] {
			return violation("duplicate character id %s", c.ID)
		}
		names[key] = true
		ids[c.ID] = true
	}

	shots := make(map[string]bool, len(s.Shots))
	imaged := make(map[string]bool, len(s.Shots))
	lastScene, lastNumber := -1, 0
	for _, sh := range s.Shots {
		idx, ok := scenes[sh.SceneID]
		if !ok {
			return violation("shot %s refers to unknown scene %s", sh.ID, sh.SceneID)
		}
		if shots[sh.ID] {
			return violation("duplicate shot id %s", sh.ID)
		}
		shots[sh.ID] = true
		imaged[sh.ID] = sh.ImageURL != ""
		switch {
		case idx < lastScene:
			return violation("shot %s breaks scene-major order", sh.ID)
		case idx > lastScene:
			lastScene, lastNumber = idx, 0
		}
		if sh.ShotNumber != lastNumber+1 {
			return violation("shot %s has number %d, expected %d", sh.ID, sh.ShotNumber, lastNumber+1)
		}
		lastNumber = sh.ShotNumber
	}

	narrated := make(map[string]bool, len(s.NarrationSegments))
	for _, n := range s.NarrationSegments {
		if _, ok := scenes[n.SceneID]; !ok {
			return violation("narration refers to unknown scene %s", n.SceneID)
		}
		if narrated[n.SceneID] {
			return violation("scene %s has more than one narration segment", n.SceneID)
		}
		narrated[n.SceneID] = true
	}

	animated := make(map[string]bool, len(s.AnimatedShots))
	for _, a := range s.AnimatedShots {
		if !shots[a.ShotID] {
			return violation("animation refers to unknown shot %s", a.ShotID)
		}
		if !imaged[a.ShotID] {
			return violation("animation of shot %s has no shot image", a.ShotID)
		}
		if animated[a.ShotID] {
			return violation("shot %s has more than one animation", a.ShotID)
		}
		animated[a.ShotID] = true
	}

	return nil
}
