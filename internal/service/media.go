package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/orchestrator"
)

// NarrationScript composes the narration prose of a scene from its action
// and a summary of its first lines of dialogue.
func NarrationScript(sc model.Scene) string {
	parts := []string{oneLine(sc.Action)}
	for i, l := range sc.Dialogue {
		if i == 2 {
			break
		}
		line := strings.TrimSpace(l.Line)
		if line == "" {
			continue
		}
		speaker := strings.TrimSpace(l.Speaker)
		if j := strings.Index(speaker, "("); j > 0 {
			speaker = strings.TrimSpace(speaker[:j])
		}
		parts = append(parts, fmt.Sprintf("%s says, %q", speaker, line))
	}
	out := strings.TrimSpace(strings.Join(parts, " "))
	if out == "" {
		out = sc.Heading
	}
	return out
}

type narrationResult struct {
	text     string
	duration float64
	blobRef  string
	url      string
}

// Narration synthesizes speech for every scene without a segment. Audio is
// kept in the blob store and copied to the media store when one is set.
func (p *Pipeline) Narration(ctx context.Context) error {
	s := p.store.Read()
	if p.providers.Speech == nil {
		return model.NewError(model.KindUnavailable, "no speech provider is configured")
	}

	var tasks []orchestrator.Task[narrationResult]
	for i, sc := range s.Breakdown {
		if _, ok := s.NarrationFor(sc.ID); ok {
			continue
		}
		text := NarrationScript(s.ScriptScene(i))
		sceneID := sc.ID
		tasks = append(tasks, orchestrator.Task[narrationResult]{
			ID:          sceneID,
			Fingerprint: orchestrator.Fingerprint(sceneID, text),
			Weight:      float64(len(text)),
			Run: func(ctx context.Context) (narrationResult, error) {
				return p.synthesize(ctx, sceneID, text)
			},
		})
	}
	if len(tasks) == 0 {
		p.progress(model.StageNarration, "every scene is narrated", 100)
		return nil
	}

	res := orchestrator.Run(ctx, p.orch, orchestrator.Batch[narrationResult]{
		Name:        "narration",
		Tasks:       tasks,
		Concurrency: p.opts.Concurrency.Speech,
		OnProgress:  p.batchProgress(model.StageNarration, "scenes"),
		OnItemDone: func(sceneID string, r narrationResult, err error) {
			if err != nil {
				return
			}
			p.commit(model.StageNarration, "narration for scene "+sceneID, func(s *model.ProjectState) error {
				if s.SceneIndex(sceneID) < 0 {
					return errSkip
				}
				if _, ok := s.NarrationFor(sceneID); ok {
					return errSkip
				}
				s.NarrationSegments = append(s.NarrationSegments, model.NarrationSegment{
					SceneID:      sceneID,
					Text:         r.text,
					Duration:     r.duration,
					AudioBlobRef: r.blobRef,
					AudioURL:     r.url,
				})
				sort.SliceStable(s.NarrationSegments, func(i, j int) bool {
					return s.SceneIndex(s.NarrationSegments[i].SceneID) < s.SceneIndex(s.NarrationSegments[j].SceneID)
				})
				return nil
			})
		},
	})
	return settle(ctx, model.StageNarration, len(tasks), res)
}

func (p *Pipeline) synthesize(ctx context.Context, sceneID, text string) (narrationResult, error) {
	audio, err := p.providers.Speech.SynthesizeSpeech(ctx, &client.SpeechRequest{Text: text, Voice: p.opts.Voice})
	if err != nil {
		return narrationResult{}, err
	}
	if len(audio.Audio) == 0 {
		return narrationResult{}, model.NewError(model.KindEmptyResponse, "speech provider returned no audio")
	}
	r := narrationResult{text: text, duration: audio.Duration}
	if r.duration < 0 {
		r.duration = 0
	}
	if p.blobs != nil {
		r.blobRef = p.blobs.Put(audio.Audio, audio.ContentType)
	}
	if p.providers.Media != nil {
		key := fmt.Sprintf("projects/%s/narration/%s-%s.wav", p.projectKey(), sceneID, p.newID())
		url, err := p.providers.Media.Upload(ctx, key, audio.Audio, audio.ContentType)
		if err != nil {
			p.logger.Warn("Narration upload failed", zap.String("scene", sceneID), zap.Error(err))
		} else {
			r.url = url
		}
	}
	if r.blobRef == "" && r.url == "" {
		return narrationResult{}, model.NewError(model.KindUnavailable, "narration audio has nowhere to be kept")
	}
	return r, nil
}

func (p *Pipeline) projectKey() string {
	if p.opts.ProjectID == "" {
		return "scratch"
	}
	return p.opts.ProjectID
}

// Animation turns every imaged shot without a clip into a video, using the
// shot description as the motion prompt.
func (p *Pipeline) Animation(ctx context.Context) error {
	s := p.store.Read()
	if p.providers.Video == nil {
		return model.NewError(model.KindUnavailable, "no video provider is configured")
	}

	var tasks []orchestrator.Task[model.AnimatedShot]
	for _, sh := range s.Shots {
		if sh.ImageURL == "" {
			continue
		}
		if _, ok := s.AnimationFor(sh.ID); ok {
			continue
		}
		req := &client.VideoRequest{ImageURL: sh.ImageURL, Prompt: oneLine(sh.Description), AspectRatio: s.AspectRatio}
		shotID := sh.ID
		tasks = append(tasks, orchestrator.Task[model.AnimatedShot]{
			ID:          shotID,
			Fingerprint: orchestrator.Fingerprint(shotID, req.ImageURL),
			Run: func(ctx context.Context) (model.AnimatedShot, error) {
				res, err := p.providers.Video.GenerateVideoFromImage(ctx, req)
				if err != nil {
					return model.AnimatedShot{}, err
				}
				if res.URL == "" {
					return model.AnimatedShot{}, model.NewError(model.KindEmptyResponse, "video provider returned no clip")
				}
				return model.AnimatedShot{ShotID: shotID, VideoURL: res.URL, BaseImageURL: req.ImageURL}, nil
			},
		})
	}
	if len(tasks) == 0 {
		p.progress(model.StageAnimation, "every shot is animated", 100)
		return nil
	}

	res := orchestrator.Run(ctx, p.orch, orchestrator.Batch[model.AnimatedShot]{
		Name:        "animation",
		Tasks:       tasks,
		Concurrency: p.opts.Concurrency.Video,
		OnProgress:  p.batchProgress(model.StageAnimation, "shots"),
		OnItemDone: func(shotID string, a model.AnimatedShot, err error) {
			if err != nil {
				return
			}
			p.commit(model.StageAnimation, "animation for shot "+shotID, func(s *model.ProjectState) error {
				i := s.ShotIndex(shotID)
				if i < 0 || s.Shots[i].ImageURL != a.BaseImageURL {
					return errSkip
				}
				if _, ok := s.AnimationFor(shotID); ok {
					return errSkip
				}
				s.AnimatedShots = append(s.AnimatedShots, a)
				return nil
			})
		},
	})
	return settle(ctx, model.StageAnimation, len(tasks), res)
}
