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

// Cast builds character profiles covering every speaker, every character
// present in a scene and the pending speakers. Existing characters keep
// their id and portrait; names the provider leaves out are added as
// supporting characters.
func (p *Pipeline) Cast(ctx context.Context) error {
	s := p.store.Read()
	if len(s.Breakdown) == 0 {
		return model.NewError(model.KindGatePredicateUnmet, "the breakdown has no scenes")
	}
	names := castNames(s)
	scenes := make([]model.Scene, len(s.Breakdown))
	for i := range s.Breakdown {
		scenes[i] = s.ScriptScene(i)
	}
	req := &client.TextRequest{
		System: storySystem,
		Prompt: "Create a character profile for every speaker and every named character in the story. " +
			"Describe each one visually so a portrait can be painted from the description.",
		Context: schemas.CastContext{Topic: s.Topic, Speakers: names, Scenes: scenes},
		Schema:  schemas.Cast,
	}

	resp, err := runOne(ctx, p, "cast", "cast", orchestrator.Fingerprint(names...),
		func(ctx context.Context) (*schemas.CastResponse, error) {
			return generate[schemas.CastResponse](ctx, p, req)
		})
	if err != nil {
		return err
	}

	err = p.store.Apply("generate cast", func(s *model.ProjectState) error {
		cast := mergeCast(s.Characters, resp.Characters, castNames(s), p.newID)
		if len(cast) == 0 {
			return model.NewError(model.KindEmptyResponse, "the cast is empty")
		}
		s.Characters = cast
		s.PendingSpeakers = nil
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("Cast generated", zap.Int("characters", len(resp.Characters)))
	return nil
}

// castNames lists the names the cast must cover, first spelling wins.
func castNames(s *model.ProjectState) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		key := model.NormalizeName(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		if i := strings.Index(name, "("); i > 0 {
			name = strings.TrimSpace(name[:i])
		}
		out = append(out, name)
	}
	for i := range s.Breakdown {
		sc := s.ScriptScene(i)
		for _, l := range sc.Dialogue {
			add(l.Speaker)
		}
		for _, name := range sc.CharactersPresent {
			add(name)
		}
	}
	for _, name := range s.PendingSpeakers {
		add(name)
	}
	return out
}

func mergeCast(existing []model.CharacterProfile, drafts []schemas.CharacterDraft, required []string, newID func() string) []model.CharacterProfile {
	out := append([]model.CharacterProfile(nil), existing...)
	index := make(map[string]int, len(out))
	for i, c := range out {
		index[model.NormalizeName(c.Name)] = i
	}
	for _, d := range drafts {
		key := model.NormalizeName(d.Name)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			c := &out[i]
			if c.Role == "" {
				c.Role = strings.TrimSpace(d.Role)
			}
			if c.Description == "" {
				c.Description = strings.TrimSpace(d.Description)
			}
			continue
		}
		index[key] = len(out)
		out = append(out, model.CharacterProfile{
			ID:          newID(),
			Name:        strings.TrimSpace(d.Name),
			Role:        strings.TrimSpace(d.Role),
			Description: strings.TrimSpace(d.Description),
		})
	}
	for _, name := range required {
		key := model.NormalizeName(name)
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = len(out)
		out = append(out, model.CharacterProfile{ID: newID(), Name: name, Role: "supporting"})
	}
	return out
}

// GeneratePortraits paints a reference portrait for the named characters,
// or for every character without one when no name is given.
func (p *Pipeline) GeneratePortraits(ctx context.Context, names ...string) error {
	s := p.store.Read()
	var targets []model.CharacterProfile
	if len(names) == 0 {
		for _, c := range s.Characters {
			if c.ReferenceImageURL == "" {
				targets = append(targets, c)
			}
		}
	} else {
		for _, name := range names {
			c, ok := s.CharacterByName(name)
			if !ok {
				return model.NewError(model.KindNotFound, "character %q does not exist", name)
			}
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	gen := p.providers.Image(s.ImageProvider)
	if gen == nil {
		return model.NewError(model.KindUnavailable, "no image provider is configured")
	}
	style := s.VisualStyle
	tasks := make([]orchestrator.Task[string], len(targets))
	for i, c := range targets {
		req := &client.ImageRequest{
			Prompt:      portraitPrompt(c),
			Style:       style,
			AspectRatio: model.AspectSquare,
		}
		tasks[i] = orchestrator.Task[string]{
			ID:          c.ID,
			Fingerprint: orchestrator.Fingerprint(c.Name, style),
			Run: func(ctx context.Context) (string, error) {
				res, err := gen.GenerateImage(ctx, req)
				if err != nil {
					return "", err
				}
				return res.URL, nil
			},
		}
	}

	res := orchestrator.Run(ctx, p.orch, orchestrator.Batch[string]{
		Name:        "portraits",
		Tasks:       tasks,
		Concurrency: p.opts.Concurrency.Image,
		OnProgress:  p.batchProgress(model.StageCharacters, "portraits"),
		OnItemDone: func(id string, url string, err error) {
			if err != nil {
				return
			}
			p.commit(model.StageCharacters, "portrait", func(s *model.ProjectState) error {
				for i := range s.Characters {
					if s.Characters[i].ID != id {
						continue
					}
					s.Characters[i].ReferenceImageURL = url
					delete(s.ConsistencyReports, s.Characters[i].Name)
					return nil
				}
				return errSkip
			})
		},
	})
	return settle(ctx, model.StageCharacters, len(tasks), res)
}

func portraitPrompt(c model.CharacterProfile) string {
	prompt := fmt.Sprintf("Character portrait of %s", c.Name)
	if c.Role != "" {
		prompt += ", " + c.Role
	}
	if c.Description != "" {
		prompt += ". " + oneLine(c.Description)
	}
	return prompt + ". Neutral background, head and shoulders."
}

// VerifyConsistency compares a character's portrait with the description
// using a vision-capable text request and stores the report.
func (p *Pipeline) VerifyConsistency(ctx context.Context, name string) (*model.ConsistencyReport, error) {
	s := p.store.Read()
	c, ok := s.CharacterByName(name)
	if !ok {
		return nil, model.NewError(model.KindNotFound, "character %q does not exist", name)
	}
	if c.ReferenceImageURL == "" {
		return nil, model.NewError(model.KindGatePredicateUnmet, "%s has no portrait yet", c.Name)
	}
	req := &client.TextRequest{
		System: "You review character art for continuity. Answer with JSON only.",
		Prompt: "Compare the portrait with the character description. Score the match from 0 to 100 " +
			"and list concrete differences.",
		Context:   schemas.ConsistencyContext{Character: c},
		Schema:    schemas.Consistency,
		ImageURLs: []string{c.ReferenceImageURL},
	}

	resp, err := runOne(ctx, p, "consistency", c.ID, orchestrator.Fingerprint(c.Name, c.ReferenceImageURL),
		func(ctx context.Context) (*schemas.ConsistencyResponse, error) {
			return generate[schemas.ConsistencyResponse](ctx, p, req)
		})
	if err != nil {
		return nil, err
	}
	if resp.Score < 0 || resp.Score > 100 {
		return nil, model.NewError(model.KindInvalidShape, "consistency score %v is outside 0..100", resp.Score)
	}

	report := model.ConsistencyReport{
		Score:     resp.Score,
		Notes:     resp.Notes,
		CheckedAt: p.now().UnixMilli(),
	}
	if report.Notes == nil {
		report.Notes = []string{}
	}
	err = p.store.Apply("verify "+c.Name, func(s *model.ProjectState) error {
		if _, ok := s.CharacterByName(c.Name); !ok {
			return model.NewError(model.KindNotFound, "character %q was removed", c.Name)
		}
		if s.ConsistencyReports == nil {
			s.ConsistencyReports = make(map[string]model.ConsistencyReport)
		}
		s.ConsistencyReports[c.Name] = report
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}
