package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/orchestrator"
)

// Render defaults
const (
	DefaultTransition         = "crossfade"
	DefaultTransitionDuration = 0.5
)

// BlobPrefix marks a narration or film reference that lives in the blob store
const BlobPrefix = "blob:"

// SceneDuration is the effective length of a scene: the longer of its
// narration and the sum of its shot estimates.
func SceneDuration(s *model.ProjectState, sceneID string) float64 {
	var shots float64
	for _, sh := range s.ShotsForScene(sceneID) {
		shots += sh.DurationEst
	}
	var narration float64
	if n, ok := s.NarrationFor(sceneID); ok {
		narration = n.Duration
	}
	return math.Max(narration, shots)
}

// BuildPlan assembles the render plan of a project. Clips keep their shot
// estimates; a scene starts when every earlier scene has run its effective
// duration. Animated shots play their clip, the others their still.
func BuildPlan(projectID string, s *model.ProjectState) *model.RenderPlan {
	plan := &model.RenderPlan{
		ProjectID: projectID,
		Clips:     []model.RenderClip{},
		Subtitles: []model.SubtitleCue{},
		Options: model.RenderOptions{
			Orientation:        model.OrientationFor(s.AspectRatio),
			TransitionType:     DefaultTransition,
			TransitionDuration: DefaultTransitionDuration,
			SubtitleBurnIn:     true,
		},
	}

	var sceneStart float64
	for _, sc := range s.Breakdown {
		narration, hasNarration := s.NarrationFor(sc.ID)
		offset := 0.0
		for j, sh := range s.ShotsForScene(sc.ID) {
			clip := model.RenderClip{
				SceneID:      sc.ID,
				ShotID:       sh.ID,
				VisualSource: sh.ImageURL,
				VisualKind:   model.VisualImage,
				SceneStart:   sceneStart,
				ClipStart:    sceneStart + offset,
				ClipDuration: sh.DurationEst,
			}
			if a, ok := s.AnimationFor(sh.ID); ok {
				clip.VisualSource = a.VideoURL
				clip.VisualKind = model.VisualVideo
			}
			if j == 0 && hasNarration {
				clip.NarrationAudio = narrationSource(narration)
				clip.SubtitleText = narration.Text
			}
			plan.Clips = append(plan.Clips, clip)
			offset += sh.DurationEst
		}
		sceneStart += SceneDuration(s, sc.ID)
	}
	plan.TotalDuration = sceneStart
	return plan
}

func narrationSource(n model.NarrationSegment) string {
	if n.AudioURL != "" {
		return n.AudioURL
	}
	if n.AudioBlobRef != "" {
		return BlobPrefix + n.AudioBlobRef
	}
	return ""
}

// subtitles places cues on the global timeline. Transcribed narration gives
// sentence-level cues; otherwise each narrated scene gets one cue spanning
// its narration.
func (p *Pipeline) subtitles(ctx context.Context, s *model.ProjectState) []model.SubtitleCue {
	cues := []model.SubtitleCue{}
	var sceneStart float64
	for _, sc := range s.Breakdown {
		n, ok := s.NarrationFor(sc.ID)
		dur := SceneDuration(s, sc.ID)
		if ok && strings.TrimSpace(n.Text) != "" {
			cues = append(cues, p.sceneCues(ctx, n, sceneStart)...)
		}
		sceneStart += dur
	}
	return cues
}

func (p *Pipeline) sceneCues(ctx context.Context, n model.NarrationSegment, start float64) []model.SubtitleCue {
	whole := []model.SubtitleCue{{Start: start, End: start + n.Duration, Text: n.Text}}
	if p.providers.Transcriber == nil || p.blobs == nil || n.AudioBlobRef == "" {
		return whole
	}
	audio, ok := p.blobs.Get(n.AudioBlobRef)
	if !ok {
		return whole
	}
	segments, err := p.providers.Transcriber.Transcribe(ctx, &client.TranscriptionRequest{
		Audio:    audio,
		Filename: n.SceneID + ".wav",
		Prompt:   n.Text,
	})
	if err != nil || len(segments) == 0 {
		if err != nil {
			p.logger.Warn("Subtitle alignment failed", zap.String("scene", n.SceneID), zap.Error(err))
		}
		return whole
	}
	cues := make([]model.SubtitleCue, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		cues = append(cues, model.SubtitleCue{Start: start + seg.Start, End: start + seg.End, Text: text})
	}
	if len(cues) == 0 {
		return whole
	}
	return cues
}

// checkNarration refuses to render narration that can no longer be sourced.
// Once the project went past narration, every scene must have a segment.
func (p *Pipeline) checkNarration(s *model.ProjectState) error {
	narrated := s.FurthestStep.Index() > model.StageNarration.Index()
	for _, sc := range s.Breakdown {
		n, ok := s.NarrationFor(sc.ID)
		if !ok {
			if narrated {
				return model.NewError(model.KindNotFound, "scene %s has no narration, run narration again", sc.ID)
			}
			continue
		}
		if n.AudioURL != "" || n.AudioBlobRef == "" {
			continue
		}
		if p.blobs != nil {
			if _, ok := p.blobs.Get(n.AudioBlobRef); ok {
				continue
			}
		}
		return model.NewError(model.KindNotFound, "narration audio of scene %s is no longer available", sc.ID)
	}
	return nil
}

// Export renders the film through the compositor and records its URL.
func (p *Pipeline) Export(ctx context.Context) error {
	if p.providers.Compositor == nil {
		return model.NewError(model.KindUnavailable, "no compositor is configured")
	}
	s := p.store.Read()
	if len(s.Shots) == 0 {
		return model.NewError(model.KindGatePredicateUnmet, "there are no shots to render")
	}

	if err := p.checkNarration(s); err != nil {
		return err
	}

	p.progress(model.StageExport, "assembling render plan", 0)
	plan := BuildPlan(p.opts.ProjectID, s)
	plan.Subtitles = p.subtitles(ctx, s)

	attachments := make(map[string][]byte)
	if p.blobs != nil {
		for _, n := range s.NarrationSegments {
			if n.AudioURL != "" || n.AudioBlobRef == "" {
				continue
			}
			if data, ok := p.blobs.Get(n.AudioBlobRef); ok {
				attachments[BlobPrefix+n.AudioBlobRef] = data
			}
		}
	}

	result, err := runOne(ctx, p, "export", "render", orchestrator.Fingerprint(p.opts.ProjectID, fmt.Sprint(len(plan.Clips))),
		func(ctx context.Context) (*model.RenderResult, error) {
			return p.providers.Compositor.Render(ctx, plan, attachments, func(percent int, step string) {
				p.progress(model.StageExport, step, float64(percent))
			})
		})
	if err != nil {
		return err
	}

	url, err := p.filmURL(ctx, result)
	if err != nil {
		return err
	}
	err = p.store.Apply("export film", func(s *model.ProjectState) error {
		s.FinalVideoURL = url
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("Film exported", zap.String("url", url), zap.Float64("duration", result.Duration))
	return nil
}

// filmURL picks the durable location of the rendered film, uploading or
// keeping the blob when the compositor returned bytes only.
func (p *Pipeline) filmURL(ctx context.Context, result *model.RenderResult) (string, error) {
	if result.VideoURL != "" {
		return result.VideoURL, nil
	}
	if len(result.Blob) == 0 {
		return "", model.NewError(model.KindEmptyResponse, "the compositor returned no film")
	}
	if p.providers.Media != nil {
		key := fmt.Sprintf("projects/%s/films/%s.mp4", p.projectKey(), p.newID())
		url, err := p.providers.Media.Upload(ctx, key, result.Blob, "video/mp4")
		if err == nil {
			return url, nil
		}
		p.logger.Warn("Film upload failed, keeping it in memory", zap.Error(err))
	}
	if p.blobs == nil {
		return "", model.NewError(model.KindUnavailable, "the rendered film has nowhere to be kept")
	}
	return BlobPrefix + p.blobs.Put(result.Blob, "video/mp4"), nil
}
