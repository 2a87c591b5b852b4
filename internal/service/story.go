package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/orchestrator"
	"github.com/makeasinger/storystudio/internal/schemas"
)

// MaxScenes is the largest breakdown kept; longer answers are truncated.
const MaxScenes = 50

const storySystem = "You are a story editor for short illustrated films. Answer with JSON only."

// Breakdown asks the text provider for the scene outline of the project
// topic. Scenes get fresh ids and are numbered by position. Everything
// derived from an older breakdown is discarded.
func (p *Pipeline) Breakdown(ctx context.Context) error {
	s := p.store.Read()
	req := &client.TextRequest{
		System: storySystem,
		Prompt: fmt.Sprintf("Break the story down into scenes, at most %d. Give every scene a screenplay heading, "+
			"a short action paragraph, key dialogue and the characters present.", MaxScenes),
		Context: schemas.BreakdownContext{Topic: s.Topic, Genre: s.Genre, VisualStyle: s.VisualStyle},
		Schema:  schemas.Breakdown,
	}

	resp, err := runOne(ctx, p, "breakdown", "breakdown", orchestrator.Fingerprint(s.Topic, s.Genre),
		func(ctx context.Context) (*schemas.BreakdownResponse, error) {
			return generate[schemas.BreakdownResponse](ctx, p, req)
		})
	if err != nil {
		return err
	}

	drafts := resp.Scenes
	if len(drafts) == 0 {
		return model.NewError(model.KindEmptyResponse, "the breakdown has no scenes")
	}
	if len(drafts) > MaxScenes {
		p.warn(model.StageBreakdown, "the breakdown had %d scenes; only the first %d are kept", len(drafts), MaxScenes)
		drafts = drafts[:MaxScenes]
	}

	scenes := make([]model.Scene, len(drafts))
	for i, d := range drafts {
		scenes[i] = sceneFromDraft(p.newID(), i+1, d)
	}

	err = p.store.Apply("generate breakdown", func(s *model.ProjectState) error {
		s.Breakdown = scenes
		resetAfterBreakdown(s)
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("Breakdown generated", zap.Int("scenes", len(scenes)))
	return nil
}

// resetAfterBreakdown drops everything built on a previous breakdown.
func resetAfterBreakdown(s *model.ProjectState) {
	s.Script = nil
	s.PendingSpeakers = nil
	s.Characters = nil
	s.ConsistencyReports = nil
	s.Shots = nil
	s.NarrationSegments = nil
	s.AnimatedShots = nil
	s.FinalVideoURL = ""
}

func sceneFromDraft(id string, number int, d schemas.SceneDraft) model.Scene {
	sc := model.Scene{
		ID:                id,
		SceneNumber:       number,
		Heading:           strings.TrimSpace(d.Heading),
		Action:            strings.TrimSpace(d.Action),
		Dialogue:          make([]model.DialogueLine, 0, len(d.Dialogue)),
		CharactersPresent: make([]string, 0, len(d.CharactersPresent)),
	}
	for _, l := range d.Dialogue {
		sc.Dialogue = append(sc.Dialogue, model.DialogueLine{Speaker: strings.TrimSpace(l.Speaker), Line: strings.TrimSpace(l.Line)})
	}
	for _, name := range d.CharactersPresent {
		if name = strings.TrimSpace(name); name != "" {
			sc.CharactersPresent = append(sc.CharactersPresent, name)
		}
	}
	return sc
}

// Screenplay writes the full script from the breakdown, one script scene per
// breakdown scene. Speakers that match no character become pending.
func (p *Pipeline) Screenplay(ctx context.Context) error {
	s := p.store.Read()
	if len(s.Breakdown) == 0 {
		return model.NewError(model.KindGatePredicateUnmet, "the breakdown has no scenes")
	}
	req := &client.TextRequest{
		System: storySystem,
		Prompt: "Write the screenplay of this breakdown. Keep exactly one screenplay scene per breakdown scene, " +
			"in the same order, with full action and dialogue.",
		Context: schemas.ScreenplayContext{Topic: s.Topic, Genre: s.Genre, Breakdown: s.Breakdown},
		Schema:  schemas.Screenplay,
	}

	resp, err := runOne(ctx, p, "screenplay", "screenplay", orchestrator.Fingerprint(s.Topic, fmt.Sprint(len(s.Breakdown))),
		func(ctx context.Context) (*schemas.ScreenplayResponse, error) {
			return generate[schemas.ScreenplayResponse](ctx, p, req)
		})
	if err != nil {
		return err
	}
	if len(resp.Scenes) == 0 {
		return model.NewError(model.KindEmptyResponse, "the screenplay has no scenes")
	}
	if len(resp.Scenes) != len(s.Breakdown) {
		return model.NewError(model.KindInvalidShape, "the screenplay has %d scenes for a breakdown of %d", len(resp.Scenes), len(s.Breakdown))
	}

	title := strings.TrimSpace(resp.Title)
	if title == "" {
		title = s.Topic
	}
	err = p.store.Apply("write screenplay", func(s *model.ProjectState) error {
		if len(s.Breakdown) != len(resp.Scenes) {
			return model.NewError(model.KindInvariantViolation, "the breakdown changed while the screenplay was written")
		}
		script := &model.Screenplay{Title: title, Scenes: make([]model.Scene, len(resp.Scenes))}
		for i, d := range resp.Scenes {
			script.Scenes[i] = sceneFromDraft(s.Breakdown[i].ID, i+1, d)
		}
		s.Script = script
		s.PendingSpeakers = pendingSpeakers(s, nil)
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("Screenplay written", zap.Int("scenes", len(resp.Scenes)))
	return nil
}

// RegenerateScene rewrites one scene in place, following the user's
// feedback. The scene keeps its id and number; other scenes are untouched.
func (p *Pipeline) RegenerateScene(ctx context.Context, sceneNumber int, feedback string) error {
	s := p.store.Read()
	idx := sceneNumber - 1
	if idx < 0 || idx >= len(s.Breakdown) {
		return model.NewError(model.KindInvalidRequest, "scene %d does not exist", sceneNumber)
	}
	if s.IsLocked {
		return model.NewError(model.KindLocked, "the project is locked")
	}
	current := s.ScriptScene(idx)
	instruction := strings.TrimSpace(feedback)
	if instruction == "" {
		instruction = "Rewrite the scene with fresh detail."
	}
	req := &client.TextRequest{
		System:  storySystem,
		Prompt:  "Rewrite this single scene following the instruction. Keep it consistent with the rest of the story.",
		Context: schemas.SceneRewriteContext{Scene: current, Instruction: instruction},
		Schema:  schemas.Scene,
	}

	stage := model.StageBreakdown
	if s.Script != nil {
		stage = model.StageScript
	}
	p.progress(stage, fmt.Sprintf("rewriting scene %d", sceneNumber), 0)
	resp, err := runOne(ctx, p, "scene", current.ID, orchestrator.Fingerprint(current.ID, instruction),
		func(ctx context.Context) (*schemas.SceneResponse, error) {
			return generate[schemas.SceneResponse](ctx, p, req)
		})
	if err != nil {
		return err
	}

	err = p.store.Apply(fmt.Sprintf("regenerate scene %d", sceneNumber), func(s *model.ProjectState) error {
		if idx >= len(s.Breakdown) || s.Breakdown[idx].ID != current.ID {
			return model.NewError(model.KindInvariantViolation, "scene %d changed while it was rewritten", sceneNumber)
		}
		scene := sceneFromDraft(current.ID, sceneNumber, resp.Scene)
		if s.Script != nil && idx < len(s.Script.Scenes) {
			s.Script.Scenes[idx] = scene
		} else {
			s.Breakdown[idx] = scene
		}
		s.PendingSpeakers = pendingSpeakers(s, s.PendingSpeakers)
		return nil
	})
	if err != nil {
		return err
	}
	p.progress(stage, fmt.Sprintf("scene %d rewritten", sceneNumber), 100)
	return nil
}

// pendingSpeakers extends pending with every script speaker that matches no
// character, keeping first-seen order and spelling.
func pendingSpeakers(s *model.ProjectState, pending []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(pending))
	for _, name := range pending {
		key := model.NormalizeName(name)
		if _, ok := s.CharacterByName(name); ok || key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	for i := range s.Breakdown {
		for _, l := range s.ScriptScene(i).Dialogue {
			key := model.NormalizeName(l.Speaker)
			if key == "" || seen[key] {
				continue
			}
			if _, ok := s.CharacterByName(l.Speaker); ok {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(l.Speaker))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
