package client

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	oc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		oc.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(oc)
}

// OpenAIImageClient generates stills through the images endpoint
type OpenAIImageClient struct {
	client *openai.Client
	apiKey string
	model  string
	logger *zap.Logger
}

func NewOpenAIImageClient(cfg *config.ImageConfig, logger *zap.Logger) *OpenAIImageClient {
	return &OpenAIImageClient{
		client: newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: logger.Named("image.openai"),
	}
}

// GenerateImage creates one image. The endpoint takes no conditioning image,
// so the reference is folded into the prompt.
func (c *OpenAIImageClient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	prompt := imagePrompt(req)
	if req.ReferenceImageURL != "" {
		prompt += " Keep the character consistent with the reference portrait at " + req.ReferenceImageURL + "."
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		N:              1,
		Size:           imageSize(req.AspectRatio),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		c.logger.Warn("Image generation failed", zap.Error(err))
		return nil, classifyOpenAI("image provider", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, model.NewError(model.KindEmptyResponse, "image provider returned no image")
	}
	return &ImageResult{URL: resp.Data[0].URL}, nil
}

func (c *OpenAIImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

func imagePrompt(req *ImageRequest) string {
	parts := []string{strings.TrimSpace(req.Prompt)}
	if req.Style != "" {
		parts = append(parts, "Visual style: "+req.Style+".")
	}
	if req.AspectRatio != "" {
		parts = append(parts, "Aspect ratio "+req.AspectRatio+".")
	}
	return strings.Join(parts, " ")
}

func imageSize(aspectRatio string) string {
	switch aspectRatio {
	case model.AspectLandscape:
		return openai.CreateImageSize1792x1024
	case model.AspectPortrait:
		return openai.CreateImageSize1024x1792
	}
	return openai.CreateImageSize1024x1024
}

// SpeechClient synthesizes narration as WAV audio
type SpeechClient struct {
	client *openai.Client
	apiKey string
	model  string
	voice  string
	logger *zap.Logger
}

func NewSpeechClient(cfg *config.SpeechConfig, logger *zap.Logger) *SpeechClient {
	return &SpeechClient{
		client: newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		voice:  cfg.Voice,
		logger: logger.Named("speech"),
	}
}

// SynthesizeSpeech returns WAV audio and the duration measured from its header
func (c *SpeechClient) SynthesizeSpeech(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = c.voice
	}

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		c.logger.Warn("Speech synthesis failed", zap.Error(err))
		return nil, classifyOpenAI("speech provider", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, model.WrapError(model.KindTransient, err, "failed to read speech audio")
	}
	if len(audio) == 0 {
		return nil, model.NewError(model.KindEmptyResponse, "speech provider returned no audio")
	}

	duration, err := WAVDuration(audio)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidShape, err, "speech provider returned unreadable audio")
	}

	return &SpeechResult{Audio: audio, ContentType: "audio/wav", Duration: duration}, nil
}

func (c *SpeechClient) IsConfigured() bool {
	return c.apiKey != ""
}

// TranscriptionClient returns timed segments for narration audio
type TranscriptionClient struct {
	client *openai.Client
	apiKey string
	model  string
	logger *zap.Logger
}

func NewTranscriptionClient(cfg *config.TranscriptionConfig, logger *zap.Logger) *TranscriptionClient {
	return &TranscriptionClient{
		client: newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: logger.Named("transcription"),
	}
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, req *TranscriptionRequest) ([]TranscriptSegment, error) {
	filename := req.Filename
	if filename == "" {
		filename = "narration.wav"
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filename,
		Reader:   bytes.NewReader(req.Audio),
		Prompt:   req.Prompt,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		c.logger.Warn("Transcription failed", zap.Error(err))
		return nil, classifyOpenAI("transcription provider", err)
	}

	segments := make([]TranscriptSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, TranscriptSegment{Start: s.Start, End: s.End, Text: text})
	}
	if len(segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		segments = append(segments, TranscriptSegment{Start: 0, End: resp.Duration, Text: strings.TrimSpace(resp.Text)})
	}
	return segments, nil
}

func (c *TranscriptionClient) IsConfigured() bool {
	return c.apiKey != ""
}

