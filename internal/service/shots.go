package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/orchestrator"
	"github.com/makeasinger/storystudio/internal/schemas"
)

// Shot duration bounds in seconds
const (
	MinShotDuration = 1.0
	MaxShotDuration = 60.0
)

// clampDuration keeps d inside (0, MaxShotDuration].
func clampDuration(d float64) (float64, bool) {
	switch {
	case math.IsNaN(d) || d <= 0:
		return MinShotDuration, true
	case d > MaxShotDuration:
		return MaxShotDuration, true
	}
	return d, false
}

// Shots plans shots for the given scenes. Without ids it plans every scene
// that has none yet; with ids it replaces the shots of those scenes.
func (p *Pipeline) Shots(ctx context.Context, sceneIDs ...string) error {
	s := p.store.Read()
	var scenes []model.Scene
	if len(sceneIDs) == 0 {
		for i, sc := range s.Breakdown {
			if len(s.ShotsForScene(sc.ID)) == 0 {
				scenes = append(scenes, s.ScriptScene(i))
			}
		}
	} else {
		for _, id := range sceneIDs {
			i := s.SceneIndex(id)
			if i < 0 {
				return model.NewError(model.KindNotFound, "scene %s does not exist", id)
			}
			scenes = append(scenes, s.ScriptScene(i))
		}
	}
	if len(scenes) == 0 {
		return nil
	}

	tasks := make([]orchestrator.Task[[]schemas.ShotDraft], len(scenes))
	for i, sc := range scenes {
		req := &client.TextRequest{
			System: "You are a director of photography planning shots for an illustrated film. Answer with JSON only.",
			Prompt: "Plan the shots of this scene in order. Give each shot a type, a camera angle, " +
				"a visual description an illustrator can paint and an estimated duration in seconds.",
			Context: schemas.ShotsContext{Scene: sc, VisualStyle: s.VisualStyle, AspectRatio: s.AspectRatio},
			Schema:  schemas.Shots,
		}
		tasks[i] = orchestrator.Task[[]schemas.ShotDraft]{
			ID:          sc.ID,
			Fingerprint: orchestrator.Fingerprint(sc.ID, sc.Heading),
			Run: func(ctx context.Context) ([]schemas.ShotDraft, error) {
				resp, err := generate[schemas.ShotsResponse](ctx, p, req)
				if err != nil {
					return nil, err
				}
				if len(resp.Shots) == 0 {
					return nil, model.NewError(model.KindEmptyResponse, "no shots were planned")
				}
				return resp.Shots, nil
			},
		}
	}

	res := orchestrator.Run(ctx, p.orch, orchestrator.Batch[[]schemas.ShotDraft]{
		Name:        "shots",
		Tasks:       tasks,
		Concurrency: p.opts.Concurrency.Text,
		OnProgress:  p.batchProgress(model.StageShots, "scenes"),
		OnItemDone: func(sceneID string, drafts []schemas.ShotDraft, err error) {
			if err != nil {
				return
			}
			p.commitShots(sceneID, drafts)
		},
	})
	return settle(ctx, model.StageShots, len(tasks), res)
}

func (p *Pipeline) commitShots(sceneID string, drafts []schemas.ShotDraft) {
	shots := make([]model.Shot, len(drafts))
	for j, d := range drafts {
		dur, clamped := clampDuration(d.DurationEst)
		if clamped {
			p.warn(model.StageShots, "shot %d of scene %s had duration %v; clamped to %v", j+1, sceneID, d.DurationEst, dur)
		}
		shots[j] = model.Shot{
			ID:          p.newID(),
			SceneID:     sceneID,
			ShotNumber:  j + 1,
			ShotType:    strings.TrimSpace(d.ShotType),
			CameraAngle: strings.TrimSpace(d.CameraAngle),
			Description: strings.TrimSpace(d.Description),
			DurationEst: dur,
		}
	}
	p.commit(model.StageShots, "shots for scene "+sceneID, func(s *model.ProjectState) error {
		i := s.SceneIndex(sceneID)
		if i < 0 {
			return errSkip
		}
		placeShots(s, sceneID, shots)
		return nil
	})
}

// placeShots replaces the shots of a scene, keeping global scene-major order.
// Animations of removed shots go with them.
func placeShots(s *model.ProjectState, sceneID string, shots []model.Shot) {
	kept := make(map[string]bool)
	var out []model.Shot
	for _, sc := range s.Breakdown {
		if sc.ID == sceneID {
			out = append(out, shots...)
			continue
		}
		out = append(out, s.ShotsForScene(sc.ID)...)
	}
	for _, sh := range out {
		kept[sh.ID] = true
	}
	s.Shots = out
	anims := s.AnimatedShots[:0:0]
	for _, a := range s.AnimatedShots {
		if kept[a.ShotID] {
			anims = append(anims, a)
		}
	}
	s.AnimatedShots = anims
	s.FinalVideoURL = ""
}

// shotImageRequest builds the image request of a shot. The first character
// present in the scene with a portrait conditions the image.
func shotImageRequest(s *model.ProjectState, sh model.Shot) *client.ImageRequest {
	req := &client.ImageRequest{
		Prompt:      oneLine(sh.Description),
		Style:       s.VisualStyle,
		AspectRatio: s.AspectRatio,
	}
	if sh.ShotType != "" || sh.CameraAngle != "" {
		req.Prompt = fmt.Sprintf("%s, %s. %s", sh.ShotType, sh.CameraAngle, req.Prompt)
	}
	i := s.SceneIndex(sh.SceneID)
	if i < 0 {
		return req
	}
	for _, name := range s.Breakdown[i].CharactersPresent {
		if c, ok := s.CharacterByName(name); ok && c.ReferenceImageURL != "" {
			req.ReferenceImageURL = c.ReferenceImageURL
			req.Prompt += " Featuring " + c.Name + "."
			break
		}
	}
	return req
}

// Storyboard paints every shot that has no image yet. Failed shots stay
// without an image and are reported; finished images are kept on cancel.
func (p *Pipeline) Storyboard(ctx context.Context) error {
	s := p.store.Read()
	gen := p.providers.Image(s.ImageProvider)
	if gen == nil {
		return model.NewError(model.KindUnavailable, "no image provider is configured")
	}

	var tasks []orchestrator.Task[string]
	for _, sh := range s.Shots {
		if sh.ImageURL != "" {
			continue
		}
		req := shotImageRequest(s, sh)
		tasks = append(tasks, orchestrator.Task[string]{
			ID:          sh.ID,
			Fingerprint: orchestrator.Fingerprint(sh.ID, req.Prompt),
			Run: func(ctx context.Context) (string, error) {
				res, err := gen.GenerateImage(ctx, req)
				if err != nil {
					return "", err
				}
				return res.URL, nil
			},
		})
	}
	if len(tasks) == 0 {
		p.progress(model.StageStoryboard, "every shot has an image", 100)
		return nil
	}

	res := orchestrator.Run(ctx, p.orch, orchestrator.Batch[string]{
		Name:        "storyboard",
		Tasks:       tasks,
		Concurrency: p.opts.Concurrency.Image,
		OnProgress:  p.batchProgress(model.StageStoryboard, "shots"),
		OnItemDone: func(shotID string, url string, err error) {
			if err != nil {
				return
			}
			p.commitShotImage(model.StageStoryboard, shotID, url)
		},
	})
	return settle(ctx, model.StageStoryboard, len(tasks), res)
}

func (p *Pipeline) commitShotImage(stage model.StageID, shotID, url string) error {
	return p.commit(stage, "image for shot "+shotID, func(s *model.ProjectState) error {
		i := s.ShotIndex(shotID)
		if i < 0 {
			return errSkip
		}
		if s.Shots[i].ImageURL != url {
			s.Shots[i].ImageURL = url
			dropAnimation(s, shotID)
		}
		return nil
	})
}

func dropAnimation(s *model.ProjectState, shotID string) {
	for i, a := range s.AnimatedShots {
		if a.ShotID == shotID {
			s.AnimatedShots = append(s.AnimatedShots[:i], s.AnimatedShots[i+1:]...)
			s.FinalVideoURL = ""
			return
		}
	}
}

// RegenerateShotImage paints one shot again. Its animation, if any, is
// dropped so the shot can be animated from the new image.
func (p *Pipeline) RegenerateShotImage(ctx context.Context, shotID string) error {
	s := p.store.Read()
	i := s.ShotIndex(shotID)
	if i < 0 {
		return model.NewError(model.KindNotFound, "shot %s does not exist", shotID)
	}
	gen := p.providers.Image(s.ImageProvider)
	if gen == nil {
		return model.NewError(model.KindUnavailable, "no image provider is configured")
	}
	req := shotImageRequest(s, s.Shots[i])

	url, err := runOne(ctx, p, "shot image", shotID, orchestrator.Fingerprint(shotID, req.Prompt),
		func(ctx context.Context) (string, error) {
			res, err := gen.GenerateImage(ctx, req)
			if err != nil {
				return "", err
			}
			return res.URL, nil
		})
	if err != nil {
		return err
	}
	return p.commitShotImage(model.StageStoryboard, shotID, url)
}
