package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/model/modeltest"
	"github.com/makeasinger/storystudio/internal/orchestrator"
	"github.com/makeasinger/storystudio/internal/schemas"
	"github.com/makeasinger/storystudio/internal/state"
)

type recorder struct {
	mu       sync.Mutex
	warnings []string
	progress []float64
}

func (r *recorder) Progress(stage model.StageID, message string, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, percent)
}

func (r *recorder) Warn(stage model.StageID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, message)
}

type memBlobs struct {
	mu    sync.Mutex
	next  int
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (b *memBlobs) Put(data []byte, contentType string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	ref := fmt.Sprintf("blob-%d", b.next)
	b.blobs[ref] = data
	return ref
}

func (b *memBlobs) Get(ref string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[ref]
	return data, ok
}

type fixture struct {
	pipeline  *Pipeline
	store     *state.Store
	reporter  *recorder
	blobs     *memBlobs
	providers *client.Providers
}

func newFixture(t *testing.T, initial *model.ProjectState, providers *client.Providers) *fixture {
	t.Helper()
	if providers == nil {
		providers = client.MockProviders()
	}
	store := state.New(initial, state.Options{}, zap.NewNop())
	rec := &recorder{}
	blobs := newMemBlobs()
	p := New(store, providers, orchestrator.New(zap.NewNop()), rec, blobs, Options{
		ProjectID:   "p1",
		Concurrency: config.Default().Concurrency,
	}, zap.NewNop())
	return &fixture{pipeline: p, store: store, reporter: rec, blobs: blobs, providers: providers}
}

func withText(fn client.TextFunc) *client.Providers {
	p := client.MockProviders()
	p.Text = fn
	return p
}

func withImages(gen client.ImageGenerator) *client.Providers {
	p := client.MockProviders()
	p.Images = map[string]client.ImageGenerator{"mock": gen}
	return p
}

func ideaState() *model.ProjectState {
	s := model.NewProjectState()
	s.Topic = "A lighthouse keeper's last night"
	s.Genre = "Drama"
	s.CurrentStep = model.StageBreakdown
	s.FurthestStep = model.StageBreakdown
	return s
}

func imaged(s *model.ProjectState) *model.ProjectState {
	for i := range s.Shots {
		s.Shots[i].ImageURL = "https://img.test/" + s.Shots[i].ID + ".png"
	}
	return s
}

func TestBreakdownNumbersScenesAndAssignsIDs(t *testing.T) {
	f := newFixture(t, ideaState(), nil)

	require.NoError(t, f.pipeline.Breakdown(context.Background()))

	s := f.store.Read()
	require.Len(t, s.Breakdown, 3)
	seen := map[string]bool{}
	for i, sc := range s.Breakdown {
		assert.Equal(t, i+1, sc.SceneNumber)
		assert.NotEmpty(t, sc.ID)
		assert.False(t, seen[sc.ID])
		seen[sc.ID] = true
	}
}

func TestBreakdownIgnoresProviderNumbering(t *testing.T) {
	f := newFixture(t, ideaState(), withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		return `{"scenes":[{"sceneNumber":9,"heading":"A","action":"x","dialogue":[],"charactersPresent":[]},` +
			`{"sceneNumber":4,"heading":"B","action":"y","dialogue":[],"charactersPresent":[]}]}`, nil
	}))

	require.NoError(t, f.pipeline.Breakdown(context.Background()))
	s := f.store.Read()
	assert.Equal(t, 1, s.Breakdown[0].SceneNumber)
	assert.Equal(t, 2, s.Breakdown[1].SceneNumber)
}

func TestBreakdownOfNoScenesIsRejected(t *testing.T) {
	f := newFixture(t, ideaState(), withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		return `{"scenes":[]}`, nil
	}))

	err := f.pipeline.Breakdown(context.Background())
	assert.True(t, model.IsKind(err, model.KindEmptyResponse))
	assert.Empty(t, f.store.Read().Breakdown)
	assert.False(t, f.store.CanUndo())
}

func TestBreakdownIsTruncatedWithWarning(t *testing.T) {
	f := newFixture(t, ideaState(), withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		resp := schemas.BreakdownResponse{}
		for i := 0; i < 60; i++ {
			resp.Scenes = append(resp.Scenes, schemas.SceneDraft{Heading: fmt.Sprintf("S%d", i), Action: "a", Dialogue: []schemas.DialogueDraft{}})
		}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}))

	require.NoError(t, f.pipeline.Breakdown(context.Background()))
	s := f.store.Read()
	assert.Len(t, s.Breakdown, MaxScenes)
	assert.Equal(t, MaxScenes, s.Breakdown[MaxScenes-1].SceneNumber)
	require.Len(t, f.reporter.warnings, 1)
	assert.Contains(t, f.reporter.warnings[0], "60")
}

func TestBreakdownRejectsIllShapedOutput(t *testing.T) {
	f := newFixture(t, ideaState(), withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		return `{"scenes":"three"}`, nil
	}))

	err := f.pipeline.Breakdown(context.Background())
	assert.True(t, model.IsKind(err, model.KindInvalidShape))
}

func TestScreenplayRecordsPendingSpeakers(t *testing.T) {
	f := newFixture(t, ideaState(), nil)
	ctx := context.Background()
	require.NoError(t, f.pipeline.Breakdown(ctx))

	require.NoError(t, f.pipeline.Screenplay(ctx))

	s := f.store.Read()
	require.NotNil(t, s.Script)
	require.Len(t, s.Script.Scenes, 3)
	for i, sc := range s.Script.Scenes {
		assert.Equal(t, s.Breakdown[i].ID, sc.ID)
		assert.Equal(t, i+1, sc.SceneNumber)
	}
	assert.Equal(t, []string{"Mara", "Jonah"}, s.PendingSpeakers)
}

func TestScreenplayMustMatchBreakdown(t *testing.T) {
	initial := modeltest.Scripted(3)
	initial.Script = nil
	f := newFixture(t, initial, withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		return `{"title":"t","scenes":[{"heading":"A","action":"x","dialogue":[],"charactersPresent":[]}]}`, nil
	}))

	err := f.pipeline.Screenplay(context.Background())
	assert.True(t, model.IsKind(err, model.KindInvalidShape))
	assert.Nil(t, f.store.Read().Script)
}

func TestRegenerateScenePreservesIdentity(t *testing.T) {
	f := newFixture(t, modeltest.Scripted(3), nil)
	before := f.store.Read()

	require.NoError(t, f.pipeline.RegenerateScene(context.Background(), 2, "make it rain"))

	after := f.store.Read()
	require.Len(t, after.Script.Scenes, 3)
	assert.Equal(t, before.Script.Scenes[1].ID, after.Script.Scenes[1].ID)
	assert.Equal(t, 2, after.Script.Scenes[1].SceneNumber)
	assert.Contains(t, after.Script.Scenes[1].Action, "make it rain")
	assert.Equal(t, before.Script.Scenes[0], after.Script.Scenes[0])
	assert.Equal(t, before.Script.Scenes[2], after.Script.Scenes[2])
	assert.Equal(t, before.Breakdown, after.Breakdown)
}

func TestRegenerateSceneAddsNewSpeakersToPending(t *testing.T) {
	f := newFixture(t, modeltest.Scripted(2), withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		return `{"scene":{"heading":"INT. ROOM 1 - NIGHT","action":"Rain.","dialogue":[{"speaker":"Ilse","line":"Hello."}],"charactersPresent":["Ilse"]}}`, nil
	}))

	require.NoError(t, f.pipeline.RegenerateScene(context.Background(), 1, ""))
	assert.Contains(t, f.store.Read().PendingSpeakers, "Ilse")
}

func TestRegenerateSceneRejectedWhenLocked(t *testing.T) {
	f := newFixture(t, modeltest.Locked(2), nil)

	err := f.pipeline.RegenerateScene(context.Background(), 1, "x")
	assert.True(t, model.IsKind(err, model.KindLocked))

	err = f.pipeline.RegenerateScene(context.Background(), 7, "x")
	assert.True(t, model.IsKind(err, model.KindInvalidRequest))
}

func TestCastCoversSpeakersAndKeepsExisting(t *testing.T) {
	initial := modeltest.Scripted(2)
	initial.PendingSpeakers = []string{"Jonah"}
	initial.Characters = []model.CharacterProfile{{ID: "char-mara", Name: "Mara", Role: "lead", ReferenceImageURL: "https://img.test/mara.png"}}
	f := newFixture(t, initial, nil)

	require.NoError(t, f.pipeline.Cast(context.Background()))

	s := f.store.Read()
	require.Len(t, s.Characters, 2)
	assert.Equal(t, "char-mara", s.Characters[0].ID)
	assert.Equal(t, "https://img.test/mara.png", s.Characters[0].ReferenceImageURL)
	assert.Equal(t, "Jonah", s.Characters[1].Name)
	assert.NotEmpty(t, s.Characters[1].Description)
	assert.Nil(t, s.PendingSpeakers)
}

func TestCastAutoAddsSpeakersTheProviderOmits(t *testing.T) {
	f := newFixture(t, modeltest.Scripted(2), withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		return `{"characters":[]}`, nil
	}))

	require.NoError(t, f.pipeline.Cast(context.Background()))
	s := f.store.Read()
	require.Len(t, s.Characters, 1)
	assert.Equal(t, "Mara", s.Characters[0].Name)
	assert.Equal(t, "supporting", s.Characters[0].Role)
}

func TestGeneratePortraitsFillsMissingOnly(t *testing.T) {
	initial := modeltest.Locked(1)
	initial.Characters = append(initial.Characters, model.CharacterProfile{ID: "char-jonah", Name: "Jonah", ReferenceImageURL: "https://img.test/jonah.png"})
	var calls atomic.Int32
	f := newFixture(t, initial, withImages(client.ImageFunc(func(ctx context.Context, req *client.ImageRequest) (*client.ImageResult, error) {
		calls.Add(1)
		assert.Contains(t, req.Prompt, "Mara")
		return &client.ImageResult{URL: "https://img.test/new.png"}, nil
	})))

	require.NoError(t, f.pipeline.GeneratePortraits(context.Background()))
	s := f.store.Read()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "https://img.test/new.png", s.Characters[0].ReferenceImageURL)
	assert.Equal(t, "https://img.test/jonah.png", s.Characters[1].ReferenceImageURL)
}

func TestVerifyConsistencyStoresReport(t *testing.T) {
	initial := modeltest.Locked(1)
	f := newFixture(t, initial, nil)

	_, err := f.pipeline.VerifyConsistency(context.Background(), "Mara")
	assert.True(t, model.IsKind(err, model.KindGatePredicateUnmet))

	initial.Characters[0].ReferenceImageURL = "https://img.test/mara.png"
	f = newFixture(t, initial, nil)
	report, err := f.pipeline.VerifyConsistency(context.Background(), "mara")
	require.NoError(t, err)
	assert.Equal(t, 92.0, report.Score)
	assert.Equal(t, *report, f.store.Read().ConsistencyReports["Mara"])
}

func TestVerifyConsistencyRejectsOutOfRangeScore(t *testing.T) {
	initial := modeltest.Locked(1)
	initial.Characters[0].ReferenceImageURL = "https://img.test/mara.png"
	f := newFixture(t, initial, withText(func(ctx context.Context, req *client.TextRequest) (string, error) {
		assert.Equal(t, []string{"https://img.test/mara.png"}, req.ImageURLs)
		return `{"score":140,"notes":[]}`, nil
	}))

	_, err := f.pipeline.VerifyConsistency(context.Background(), "Mara")
	assert.True(t, model.IsKind(err, model.KindInvalidShape))
}
