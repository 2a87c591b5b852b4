package stage

import (
	"strings"

	"github.com/makeasinger/storystudio/internal/model"
)

// gate is the predicate guarding the edge into a stage from its predecessor
type gate func(s *model.ProjectState) string

// gates holds the unmet-reason of each forward edge, keyed by target stage.
// An empty reason means the predicate holds.
var gates = map[model.StageID]gate{
	model.StageBreakdown: func(s *model.ProjectState) string {
		if strings.TrimSpace(s.Topic) == "" || strings.TrimSpace(s.Genre) == "" {
			return "topic and genre are required"
		}
		return ""
	},
	model.StageScript: func(s *model.ProjectState) string {
		if len(s.Breakdown) == 0 {
			return "the breakdown has no scenes"
		}
		return ""
	},
	model.StageCharacters: func(s *model.ProjectState) string {
		if s.Script == nil || len(s.Script.Scenes) == 0 {
			return "no screenplay has been written"
		}
		return ""
	},
	model.StageShots: func(s *model.ProjectState) string {
		if !s.IsLocked {
			return "the project is not locked"
		}
		if len(s.Characters) == 0 {
			return "the cast is empty"
		}
		return ""
	},
	model.StageStyle: func(s *model.ProjectState) string {
		if len(s.Breakdown) == 0 {
			return "the breakdown has no scenes"
		}
		for _, sc := range s.Breakdown {
			if len(s.ShotsForScene(sc.ID)) == 0 {
				return "scene " + sc.ID + " has no shots"
			}
		}
		return ""
	},
	model.StageStoryboard: func(s *model.ProjectState) string {
		if strings.TrimSpace(s.VisualStyle) == "" {
			return "choose a visual style"
		}
		switch s.AspectRatio {
		case model.AspectLandscape, model.AspectPortrait, model.AspectSquare:
			return ""
		}
		return "choose an aspect ratio"
	},
	model.StageNarration: func(s *model.ProjectState) string {
		for _, sh := range s.Shots {
			if sh.ImageURL == "" {
				return "shot " + sh.ID + " has no image"
			}
		}
		return ""
	},
	model.StageAnimation: func(s *model.ProjectState) string {
		for _, sc := range s.Breakdown {
			if _, ok := s.NarrationFor(sc.ID); !ok {
				return "scene " + sc.ID + " has no narration"
			}
		}
		return ""
	},
	model.StageExport: func(s *model.ProjectState) string {
		for _, sh := range s.Shots {
			if sh.ImageURL == "" {
				continue
			}
			if _, ok := s.AnimationFor(sh.ID); !ok {
				return "shot " + sh.ID + " is not animated"
			}
		}
		return ""
	},
}

// Gate reports whether the state may move to stage to. Backward jumps are
// always allowed; forward moves only to the immediate successor whose
// predicate holds. Export may be re-entered to render again.
func Gate(s *model.ProjectState, to model.StageID) error {
	if !to.Valid() {
		return model.NewError(model.KindGatePredicateUnmet, "unknown stage %q", to)
	}
	from := s.CurrentStep
	switch {
	case to == from && to == model.StageExport:
		return checkEdge(s, to)
	case to == from:
		return model.NewError(model.KindGatePredicateUnmet, "already at %s", to)
	case to.Before(from):
		return nil
	case to.Index() != from.Index()+1:
		return model.NewError(model.KindGatePredicateUnmet, "cannot skip from %s to %s", from, to)
	}
	return checkEdge(s, to)
}

func checkEdge(s *model.ProjectState, to model.StageID) error {
	if g, ok := gates[to]; ok {
		if reason := g(s); reason != "" {
			return model.NewError(model.KindGatePredicateUnmet, "cannot enter %s: %s", to, reason)
		}
	}
	return nil
}

// IsLockEdge reports whether moving from -> to locks the project.
func IsLockEdge(from, to model.StageID) bool {
	return from == model.StageScript && to == model.StageCharacters
}

// incremental stages only fill in missing work, so entering them again is safe
var incremental = map[model.StageID]bool{
	model.StageShots:      true,
	model.StageStoryboard: true,
	model.StageNarration:  true,
	model.StageAnimation:  true,
	model.StageExport:     true,
}

// generatesOnEntry reports whether entering to runs its generation.
func generatesOnEntry(from, to, furthest model.StageID) bool {
	if to == model.StageExport {
		return true
	}
	if !from.Before(to) {
		return false
	}
	return furthest.Before(to) || incremental[to]
}
