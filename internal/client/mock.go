package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/schemas"
)

// Mock providers are deterministic stand-ins used when no provider is
// configured and by tests. Structured text is keyed on the schema name.

const mockHost = "https://mock.storystudio.local"

func mockID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, "|"))).String()[:12]
}

// decodeContext reads a request context back into a typed value.
func decodeContext(ctx interface{}, out interface{}) error {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// MockText answers every schema with plausible structured content
type MockText struct{}

func (MockText) GenerateText(ctx context.Context, req *TextRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Schema == nil {
		return "Mock response: " + strings.TrimSpace(req.Prompt), nil
	}

	var out interface{}
	var err error
	switch req.Schema.Name {
	case schemas.Breakdown.Name:
		out, err = mockBreakdown(req)
	case schemas.Screenplay.Name:
		out, err = mockScreenplay(req)
	case schemas.Scene.Name:
		out, err = mockSceneRewrite(req)
	case schemas.Cast.Name:
		out, err = mockCast(req)
	case schemas.Shots.Name:
		out, err = mockShots(req)
	case schemas.Consistency.Name:
		out = schemas.ConsistencyResponse{Score: 92, Notes: []string{"Face and wardrobe match the description."}}
	default:
		return "", model.NewError(model.KindInvalidRequest, "mock text provider has no answer for schema %q", req.Schema.Name)
	}
	if err != nil {
		return "", model.WrapError(model.KindInvalidRequest, err, "mock text provider could not read the request context")
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func mockBreakdown(req *TextRequest) (*schemas.BreakdownResponse, error) {
	var c schemas.BreakdownContext
	if err := decodeContext(req.Context, &c); err != nil {
		return nil, err
	}
	topic := c.Topic
	if topic == "" {
		topic = "an untold story"
	}
	return &schemas.BreakdownResponse{Scenes: []schemas.SceneDraft{
		{
			SceneNumber:       1,
			Heading:           "EXT. HARBOR - DAWN",
			Action:            fmt.Sprintf("Mara arrives at the harbor, chasing %s.", topic),
			Dialogue:          []schemas.DialogueDraft{{Speaker: "Mara", Line: "It starts here."}},
			CharactersPresent: []string{"Mara"},
		},
		{
			SceneNumber: 2,
			Heading:     "INT. LIGHTHOUSE - NIGHT",
			Action:      "Jonah shows Mara the logbook that proves the rumor.",
			Dialogue: []schemas.DialogueDraft{
				{Speaker: "Jonah", Line: "Nobody reads these anymore."},
				{Speaker: "Mara", Line: "Then we will."},
			},
			CharactersPresent: []string{"Mara", "Jonah"},
		},
		{
			SceneNumber:       3,
			Heading:           "EXT. CLIFFS - MORNING",
			Action:            "They watch the tide reveal what was hidden.",
			Dialogue:          []schemas.DialogueDraft{{Speaker: "Jonah", Line: "There it is."}},
			CharactersPresent: []string{"Mara", "Jonah"},
		},
	}}, nil
}

func mockScreenplay(req *TextRequest) (*schemas.ScreenplayResponse, error) {
	var c schemas.ScreenplayContext
	if err := decodeContext(req.Context, &c); err != nil {
		return nil, err
	}
	out := &schemas.ScreenplayResponse{Title: strings.TrimSpace(c.Topic)}
	if out.Title == "" {
		out.Title = "Untitled"
	}
	for i, sc := range c.Breakdown {
		out.Scenes = append(out.Scenes, draftOf(i+1, sc, sc.Action+" The moment lingers."))
	}
	return out, nil
}

func mockSceneRewrite(req *TextRequest) (*schemas.SceneResponse, error) {
	var c schemas.SceneRewriteContext
	if err := decodeContext(req.Context, &c); err != nil {
		return nil, err
	}
	action := c.Scene.Action
	if c.Instruction != "" {
		action += " (" + c.Instruction + ")"
	}
	return &schemas.SceneResponse{Scene: draftOf(c.Scene.SceneNumber, c.Scene, action)}, nil
}

func draftOf(number int, sc model.Scene, action string) schemas.SceneDraft {
	d := schemas.SceneDraft{
		SceneNumber:       number,
		Heading:           sc.Heading,
		Action:            action,
		CharactersPresent: append([]string(nil), sc.CharactersPresent...),
	}
	if d.Heading == "" {
		d.Heading = fmt.Sprintf("SCENE %d", number)
	}
	if strings.TrimSpace(d.Action) == "" {
		d.Action = "Time passes."
	}
	for _, l := range sc.Dialogue {
		d.Dialogue = append(d.Dialogue, schemas.DialogueDraft{Speaker: l.Speaker, Line: l.Line})
	}
	return d
}

func mockCast(req *TextRequest) (*schemas.CastResponse, error) {
	var c schemas.CastContext
	if err := decodeContext(req.Context, &c); err != nil {
		return nil, err
	}
	out := &schemas.CastResponse{}
	for i, name := range c.Speakers {
		role := "supporting"
		if i == 0 {
			role = "protagonist"
		}
		out.Characters = append(out.Characters, schemas.CharacterDraft{
			Name:        name,
			Role:        role,
			Description: fmt.Sprintf("%s, weathered and watchful, in a dark wool coat.", name),
		})
	}
	return out, nil
}

func mockShots(req *TextRequest) (*schemas.ShotsResponse, error) {
	var c schemas.ShotsContext
	if err := decodeContext(req.Context, &c); err != nil {
		return nil, err
	}
	return &schemas.ShotsResponse{Shots: []schemas.ShotDraft{
		{ShotType: "wide", CameraAngle: "eye level", Description: "Establishing: " + c.Scene.Heading, DurationEst: 4},
		{ShotType: "close-up", CameraAngle: "low", Description: c.Scene.Action, DurationEst: 3},
	}}, nil
}

// MockImage returns stable URLs derived from the request
type MockImage struct{}

func (MockImage) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := mockID(req.Prompt, req.Style, req.AspectRatio, req.ReferenceImageURL)
	return &ImageResult{URL: mockHost + "/images/" + id + ".png"}, nil
}

// MockVideo returns a clip URL for any still
type MockVideo struct{}

func (MockVideo) GenerateVideoFromImage(ctx context.Context, req *VideoRequest) (*VideoResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &VideoResult{URL: mockHost + "/videos/" + mockID(req.ImageURL, req.Prompt) + ".mp4"}, nil
}

// MockSpeech produces silent WAV audio paced at roughly 150 words a minute
type MockSpeech struct{}

const mockSecondsPerWord = 0.4

func (MockSpeech) SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := len(strings.Fields(req.Text))
	if words == 0 {
		return nil, model.NewError(model.KindInvalidRequest, "nothing to synthesize")
	}
	audio := EncodeSilentWAV(float64(words)*mockSecondsPerWord, 8000)
	duration, err := WAVDuration(audio)
	if err != nil {
		return nil, err
	}
	return &SpeechResult{Audio: audio, ContentType: "audio/wav", Duration: duration}, nil
}

// MockTranscriber spreads the prompt's sentences evenly over the audio
type MockTranscriber struct{}

func (MockTranscriber) Transcribe(ctx context.Context, req *TranscriptionRequest) ([]TranscriptSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	duration, err := WAVDuration(req.Audio)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, err, "mock transcriber needs WAV audio")
	}
	sentences := splitSentences(req.Prompt)
	if len(sentences) == 0 {
		return nil, nil
	}
	step := duration / float64(len(sentences))
	segments := make([]TranscriptSegment, len(sentences))
	for i, s := range sentences {
		segments[i] = TranscriptSegment{Start: float64(i) * step, End: float64(i+1) * step, Text: s}
	}
	return segments, nil
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// MockCompositor pretends to render the plan
type MockCompositor struct{}

func (MockCompositor) Render(ctx context.Context, plan *model.RenderPlan, attachments map[string][]byte, onProgress func(percent int, step string)) (*model.RenderResult, error) {
	steps := []string{"preparing", "compositing", "muxing", "done"}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress((i+1)*100/len(steps), step)
		}
	}
	return &model.RenderResult{
		VideoURL: mockHost + "/films/" + mockID(plan.ProjectID, fmt.Sprint(len(plan.Clips), plan.TotalDuration)) + ".mp4",
		Duration: plan.TotalDuration,
	}, nil
}

// MemoryMediaStore keeps uploads in memory
type MemoryMediaStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryMediaStore() *MemoryMediaStore {
	return &MemoryMediaStore{objects: make(map[string][]byte)}
}

func (m *MemoryMediaStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

// Object returns a stored upload.
func (m *MemoryMediaStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// MockProviders wires every capability to its mock.
func MockProviders() *Providers {
	return &Providers{
		Text:         MockText{},
		Images:       map[string]ImageGenerator{"mock": MockImage{}},
		DefaultImage: "mock",
		Video:        MockVideo{},
		Speech:       MockSpeech{},
		Transcriber:  MockTranscriber{},
		Compositor:   MockCompositor{},
		Media:        NewMemoryMediaStore(),
	}
}
