package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/service"
)

// Settings are the project-level choices the user edits. Nil fields are
// left unchanged.
type Settings struct {
	Topic         *string `json:"topic"`
	Genre         *string `json:"genre"`
	VisualStyle   *string `json:"visualStyle"`
	AspectRatio   *string `json:"aspectRatio"`
	ImageProvider *string `json:"imageProvider"`
}

// SceneEdit changes a scene in the breakdown and its screenplay counterpart
type SceneEdit struct {
	Heading           *string               `json:"heading"`
	Action            *string               `json:"action"`
	Dialogue          *[]model.DialogueLine `json:"dialogue"`
	CharactersPresent *[]string             `json:"charactersPresent"`
}

// ShotEdit changes a planned shot
type ShotEdit struct {
	ShotType    *string  `json:"shotType"`
	CameraAngle *string  `json:"cameraAngle"`
	Description *string  `json:"description"`
	DurationEst *float64 `json:"durationEst"`
}

// CharacterEdit changes a cast member
type CharacterEdit struct {
	Role        *string `json:"role"`
	Description *string `json:"description"`
}

func (s *Session) edit(op string, m func(st *model.ProjectState) error) error {
	return s.finish(op, s.store.Apply(op, m), nil)
}

// Configure updates the project settings.
func (s *Session) Configure(in Settings) error {
	if in.AspectRatio != nil {
		switch *in.AspectRatio {
		case model.AspectLandscape, model.AspectPortrait, model.AspectSquare:
		default:
			return s.finish("configure", model.NewError(model.KindInvalidRequest, "unsupported aspect ratio %q", *in.AspectRatio), nil)
		}
	}
	return s.edit("configure", func(st *model.ProjectState) error {
		set(&st.Topic, in.Topic)
		set(&st.Genre, in.Genre)
		set(&st.VisualStyle, in.VisualStyle)
		set(&st.AspectRatio, in.AspectRatio)
		set(&st.ImageProvider, in.ImageProvider)
		return nil
	})
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// EditScene changes scene sceneID. Locked projects refuse the edit.
func (s *Session) EditScene(sceneID string, e SceneEdit) error {
	return s.edit("edit scene", func(st *model.ProjectState) error {
		i := st.SceneIndex(sceneID)
		if i < 0 {
			return model.NewError(model.KindNotFound, "scene %s not found", sceneID)
		}
		applySceneEdit(&st.Breakdown[i], e)
		if st.Script != nil {
			for j := range st.Script.Scenes {
				if st.Script.Scenes[j].ID == sceneID {
					applySceneEdit(&st.Script.Scenes[j], e)
				}
			}
		}
		return nil
	})
}

func applySceneEdit(sc *model.Scene, e SceneEdit) {
	set(&sc.Heading, e.Heading)
	set(&sc.Action, e.Action)
	if e.Dialogue != nil {
		sc.Dialogue = append([]model.DialogueLine(nil), (*e.Dialogue)...)
	}
	if e.CharactersPresent != nil {
		sc.CharactersPresent = append([]string(nil), (*e.CharactersPresent)...)
	}
}

// EditShot changes shot shotID. The image is kept.
func (s *Session) EditShot(shotID string, e ShotEdit) error {
	if e.DurationEst != nil && (*e.DurationEst <= 0 || *e.DurationEst > service.MaxShotDuration) {
		return s.finish("edit shot", model.NewError(model.KindInvalidRequest,
			"shot duration must be in (0, %g] seconds", service.MaxShotDuration), nil)
	}
	return s.edit("edit shot", func(st *model.ProjectState) error {
		i := st.ShotIndex(shotID)
		if i < 0 {
			return model.NewError(model.KindNotFound, "shot %s not found", shotID)
		}
		sh := &st.Shots[i]
		set(&sh.ShotType, e.ShotType)
		set(&sh.CameraAngle, e.CameraAngle)
		set(&sh.Description, e.Description)
		set(&sh.DurationEst, e.DurationEst)
		return nil
	})
}

// EditCharacter changes the cast member called name.
func (s *Session) EditCharacter(name string, e CharacterEdit) error {
	return s.edit("edit character", func(st *model.ProjectState) error {
		c, ok := st.CharacterByName(name)
		if !ok {
			return model.NewError(model.KindNotFound, "character %q not found", name)
		}
		for i := range st.Characters {
			if st.Characters[i].ID != c.ID {
				continue
			}
			set(&st.Characters[i].Role, e.Role)
			if e.Description != nil && *e.Description != st.Characters[i].Description {
				st.Characters[i].Description = *e.Description
				delete(st.ConsistencyReports, st.Characters[i].Name)
			}
		}
		return nil
	})
}

// SetMusic sets or clears the soundtrack URL.
func (s *Session) SetMusic(url string) error {
	return s.edit("set music", func(st *model.ProjectState) error {
		st.MusicURL = strings.TrimSpace(url)
		return nil
	})
}

// RegenerateScene rewrites scene sceneNumber following the user's feedback.
func (s *Session) RegenerateScene(ctx context.Context, sceneNumber int, feedback string) error {
	return s.generation(ctx, fmt.Sprintf("regenerate scene %d", sceneNumber), func(ctx context.Context) error {
		return s.pipeline.RegenerateScene(ctx, sceneNumber, feedback)
	})
}

// RegenerateShots plans the shots of the given scenes again.
func (s *Session) RegenerateShots(ctx context.Context, sceneIDs ...string) error {
	return s.generation(ctx, "regenerate shots", func(ctx context.Context) error {
		return s.pipeline.Shots(ctx, sceneIDs...)
	})
}

// GeneratePortraits paints the named characters, or every character that has
// no portrait.
func (s *Session) GeneratePortraits(ctx context.Context, names ...string) error {
	return s.generation(ctx, "generate portraits", func(ctx context.Context) error {
		return s.pipeline.GeneratePortraits(ctx, names...)
	})
}

// VerifyConsistency checks a portrait against its character description.
func (s *Session) VerifyConsistency(ctx context.Context, name string) (*model.ConsistencyReport, error) {
	var report *model.ConsistencyReport
	err := s.generation(ctx, fmt.Sprintf("verify %s", name), func(ctx context.Context) error {
		var err error
		report, err = s.pipeline.VerifyConsistency(ctx, name)
		return err
	})
	return report, err
}

// RegenerateShotImage paints one shot again.
func (s *Session) RegenerateShotImage(ctx context.Context, shotID string) error {
	return s.generation(ctx, fmt.Sprintf("regenerate shot %s", shotID), func(ctx context.Context) error {
		return s.pipeline.RegenerateShotImage(ctx, shotID)
	})
}

// Export renders the film, entering the export stage first when needed.
func (s *Session) Export(ctx context.Context) error {
	return s.RequestTransition(ctx, model.StageExport)
}
