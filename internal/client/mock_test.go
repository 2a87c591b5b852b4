package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/schemas"
)

func TestMockTextProducesDecodableBreakdownAndScreenplay(t *testing.T) {
	ctx := context.Background()
	raw, err := MockText{}.GenerateText(ctx, &TextRequest{
		Schema:  schemas.Breakdown,
		Context: schemas.BreakdownContext{Topic: "a lost ship"},
	})
	require.NoError(t, err)

	bd, err := schemas.Decode[schemas.BreakdownResponse](raw)
	require.NoError(t, err)
	require.Len(t, bd.Scenes, 3)

	scenes := make([]model.Scene, len(bd.Scenes))
	for i, d := range bd.Scenes {
		scenes[i] = model.Scene{ID: "s", SceneNumber: i + 1, Heading: d.Heading, Action: d.Action, CharactersPresent: d.CharactersPresent}
	}
	raw, err = MockText{}.GenerateText(ctx, &TextRequest{
		Schema:  schemas.Screenplay,
		Context: schemas.ScreenplayContext{Topic: "a lost ship", Breakdown: scenes},
	})
	require.NoError(t, err)

	sp, err := schemas.Decode[schemas.ScreenplayResponse](raw)
	require.NoError(t, err)
	assert.Len(t, sp.Scenes, 3)
	assert.Equal(t, "a lost ship", sp.Title)
}

func TestMockSpeechDurationTracksWordCount(t *testing.T) {
	res, err := MockSpeech{}.SynthesizeSpeech(context.Background(), &SpeechRequest{Text: "one two three four five"})

	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Duration, 0.01)
	assert.Equal(t, "audio/wav", res.ContentType)
}

func TestMockTranscriberSplitsSentences(t *testing.T) {
	audio := EncodeSilentWAV(4, 8000)

	segs, err := MockTranscriber{}.Transcribe(context.Background(), &TranscriptionRequest{
		Audio:  audio,
		Prompt: "The tide turns. Mara runs!",
	})

	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "Mara runs!", segs[1].Text)
	assert.InDelta(t, 2.0, segs[1].Start, 0.01)
	assert.InDelta(t, 4.0, segs[1].End, 0.01)
}

func TestMockImageIsDeterministic(t *testing.T) {
	req := &ImageRequest{Prompt: "harbor", AspectRatio: "16:9"}
	a, err := MockImage{}.GenerateImage(context.Background(), req)
	require.NoError(t, err)
	b, err := MockImage{}.GenerateImage(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.URL, b.URL)
}

func TestWAVDurationRejectsGarbage(t *testing.T) {
	_, err := WAVDuration([]byte("not audio at all"))
	assert.Error(t, err)

	d, err := WAVDuration(EncodeSilentWAV(1.5, 8000))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, d, 0.001)
}
