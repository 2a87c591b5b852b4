// Package modeltest builds project states for tests.
package modeltest

import (
	"fmt"

	"github.com/makeasinger/storystudio/internal/model"
)

// Scenes returns n breakdown scenes with stable ids scene-1..scene-n.
func Scenes(n int) []model.Scene {
	out := make([]model.Scene, n)
	for i := range out {
		out[i] = model.Scene{
			ID:                fmt.Sprintf("scene-%d", i+1),
			SceneNumber:       i + 1,
			Heading:           fmt.Sprintf("INT. ROOM %d - NIGHT", i+1),
			Action:            fmt.Sprintf("Something happens in room %d.", i+1),
			Dialogue:          []model.DialogueLine{{Speaker: "Mara", Line: fmt.Sprintf("Line %d.", i+1)}},
			CharactersPresent: []string{"Mara"},
		}
	}
	return out
}

// Shots returns perScene shots for every scene, scene-major.
func Shots(scenes []model.Scene, perScene int) []model.Shot {
	var out []model.Shot
	for _, sc := range scenes {
		for j := 0; j < perScene; j++ {
			out = append(out, model.Shot{
				ID:          fmt.Sprintf("%s-shot-%d", sc.ID, j+1),
				SceneID:     sc.ID,
				ShotNumber:  j + 1,
				ShotType:    "wide",
				CameraAngle: "eye level",
				Description: fmt.Sprintf("Shot %d of %s", j+1, sc.Heading),
				DurationEst: 3,
			})
		}
	}
	return out
}

// Scripted returns a state at the script stage with n scenes and a screenplay.
func Scripted(n int) *model.ProjectState {
	s := model.NewProjectState()
	s.Topic = "A lighthouse keeper's last night"
	s.Genre = "Drama"
	s.Breakdown = Scenes(n)
	s.Script = &model.Screenplay{Title: s.Topic, Scenes: Scenes(n)}
	s.CurrentStep = model.StageScript
	s.FurthestStep = model.StageScript
	return s
}

// Locked returns a locked state at the characters stage with one character.
func Locked(n int) *model.ProjectState {
	s := Scripted(n)
	s.IsLocked = true
	s.CurrentStep = model.StageCharacters
	s.FurthestStep = model.StageCharacters
	s.Characters = []model.CharacterProfile{{ID: "char-mara", Name: "Mara", Role: "protagonist", Description: "A keeper."}}
	return s
}

// Storyboarded returns a state at the storyboard stage where shotsPerScene
// shots exist per scene and none is imaged yet.
func Storyboarded(n, shotsPerScene int) *model.ProjectState {
	s := Locked(n)
	s.Shots = Shots(s.Breakdown, shotsPerScene)
	s.VisualStyle = "watercolor"
	s.AspectRatio = model.AspectLandscape
	s.CurrentStep = model.StageStoryboard
	s.FurthestStep = model.StageStoryboard
	return s
}
